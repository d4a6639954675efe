package livelink

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livelink-dev/livelink/pkg/live/protocol"
)

// ConnState is the session connection state.
type ConnState string

const (
	StateDisconnected  ConnState = "disconnected"
	StateConnecting    ConnState = "connecting"
	StateConnected     ConnState = "connected"
	StateDisconnecting ConnState = "disconnecting"
	StateError         ConnState = "error"
)

// LifecycleKind tags lifecycle events.
type LifecycleKind string

const (
	// LifecycleStarted fires once per successful handshake.
	LifecycleStarted LifecycleKind = "started"
	// LifecycleClosed fires exactly once per transport closure, voluntary
	// or not.
	LifecycleClosed LifecycleKind = "closed"
	// LifecycleError fires when the session is no longer usable without
	// explicit caller action (exhausted retries, fatal relay error).
	LifecycleError LifecycleKind = "error"
)

// LifecycleEvent is delivered to lifecycle listeners in emission order.
type LifecycleEvent struct {
	Kind LifecycleKind
	// Err carries the closure or failure cause when known.
	Err error
	// Voluntary is set on LifecycleClosed when the closure was requested
	// by a local Disconnect call.
	Voluntary bool
}

// LiveService creates live sessions against the client's relay endpoint.
type LiveService struct {
	client *Client
}

// NewSession creates a session in the disconnected state. The config is
// validated on Connect, not here, so callers can assemble it incrementally.
func (s *LiveService) NewSession(cfg SessionConfig) *Session {
	return &Session{
		client:        s.client,
		logger:        s.client.logger,
		state:         StateDisconnected,
		config:        cfg,
		autoReconnect: s.client.autoReconnect,
	}
}

// Session drives the connection handshake, classifies inbound frames, and
// owns the reconnection policy. One Session object persists across reconnect
// attempts; only its state transitions. All mutation funnels through the
// guarded transition helpers below.
type Session struct {
	client *Client
	logger *slog.Logger

	mu            sync.Mutex
	state         ConnState
	config        SessionConfig
	conn          *websocket.Conn
	sessionID     string
	gen           int // connection generation; stale loops and timers are inert
	attempts      int
	autoReconnect bool
	retryTimer    *time.Timer
	heartbeatStop chan struct{}
	closedEmitted bool // per connection attempt

	lifecycleListeners []func(LifecycleEvent)
	eventListeners     []func(InboundEvent)

	// writeMu serializes socket writes independently of state reads.
	writeMu sync.Mutex
}

// OnLifecycle registers a lifecycle listener. Multiple collaborators can
// subscribe; registration order is preserved on dispatch.
func (s *Session) OnLifecycle(fn func(LifecycleEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycleListeners = append(s.lifecycleListeners, fn)
}

// OnEvent registers a content event listener. Every inbound event other than
// setup_complete is forwarded verbatim, in arrival order.
func (s *Session) OnEvent(fn func(InboundEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventListeners = append(s.eventListeners, fn)
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the relay-assigned id from the last handshake.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Config returns a copy of the current session configuration.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetAutoReconnect toggles automatic recovery. Disabling it cancels any
// pending scheduled retry.
func (s *Session) SetAutoReconnect(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoReconnect = enabled
	if !enabled {
		s.cancelRetryLocked()
	}
}

// Connect opens the transport and transmits the setup request. Valid only
// from disconnected or error; it resets the reconnect attempt counter. The
// session stays in connecting until the relay acknowledges setup: transport
// open alone never means connected, because the remote side may still reject
// the setup payload.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateError {
		state := s.state
		s.mu.Unlock()
		return NewInvalidRequestError(fmt.Sprintf("connect is not valid while %s", state))
	}
	cfg := s.config.withDefaults()
	if err := cfg.Validate(); err != nil {
		// Caller contract violation: no state change.
		s.mu.Unlock()
		return err
	}
	s.config = cfg
	s.attempts = 0
	s.mu.Unlock()

	return s.dial(ctx)
}

// dial runs one connection attempt: transition to connecting, open the
// transport, send setup, hand the socket to the read loop.
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.closedEmitted = false
	setup := s.config.setupFrame()
	endpoint := s.client.endpoint
	s.mu.Unlock()

	dialer := s.client.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		terr := &TransportError{Op: "dial", URL: endpoint, Err: err}
		if resp != nil {
			terr.Err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		s.handleClosure(gen, terr)
		return terr
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		// Disconnected while dialing.
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	s.writeMu.Lock()
	err = conn.WriteJSON(setup)
	s.writeMu.Unlock()
	if err != nil {
		_ = conn.Close()
		s.handleClosure(gen, fmt.Errorf("send setup: %w", err))
		return fmt.Errorf("send setup: %w", err)
	}

	go s.readLoop(conn, gen)
	return nil
}

// readLoop processes inbound frames in transport arrival order until the
// connection closes.
func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			s.handleClosure(gen, err)
			return
		}
		event, decErr := decodeServerFrame(data)
		if decErr != nil {
			// Malformed frames are local: logged and dropped, never fatal.
			s.logger.Warn("dropping malformed inbound frame", "error", decErr)
			continue
		}
		s.handleEvent(gen, event)
	}
}

func (s *Session) handleEvent(gen int, event InboundEvent) {
	if _, ok := event.(SetupCompleteEvent); ok {
		s.handleSetupComplete(gen, event.(SetupCompleteEvent))
		return
	}

	s.mu.Lock()
	stale := s.gen != gen
	state := s.state
	s.mu.Unlock()
	if stale {
		s.logger.Debug("dropping frame from torn-down connection", "type", event.inboundEventType())
		return
	}
	if state != StateConnected {
		// Late frames during handshake or teardown are still forwarded;
		// consumers decide, the controller does not act on them.
		s.logger.Debug("inbound frame outside connected state", "type", event.inboundEventType(), "state", string(state))
	}

	s.emitEvent(event)

	if errEvent, ok := event.(ServerErrorEvent); ok && errEvent.Close {
		s.emitLifecycle(LifecycleEvent{Kind: LifecycleError, Err: NewAPIError(errEvent.Message)})
	}
}

func (s *Session) handleSetupComplete(gen int, event SetupCompleteEvent) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		s.mu.Unlock()
		s.logger.Debug("ignoring late setup_complete")
		return
	}
	s.state = StateConnected
	s.attempts = 0
	s.sessionID = event.SessionID
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()

	go s.heartbeatLoop(stop)
	s.emitLifecycle(LifecycleEvent{Kind: LifecycleStarted})
}

// handleClosure classifies an observed transport closure and, for
// involuntary loss, evaluates the reconnection policy.
func (s *Session) handleClosure(gen int, cause error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.stopHeartbeatLocked()
	s.conn = nil

	alreadyEmitted := s.closedEmitted
	s.closedEmitted = true

	if s.state == StateDisconnecting || s.state == StateDisconnected {
		s.state = StateDisconnected
		s.mu.Unlock()
		if !alreadyEmitted {
			s.emitLifecycle(LifecycleEvent{Kind: LifecycleClosed, Voluntary: true})
		}
		return
	}

	// Involuntary loss from connecting or connected.
	exhausted := false
	if s.autoReconnect && s.attempts < s.client.reconnect.MaxAttempts {
		delay := reconnectDelay(s.client.reconnect.BaseDelay, s.attempts)
		s.attempts++
		s.state = StateDisconnected
		s.scheduleRetryLocked(delay)
		s.logger.Info("connection lost, retry scheduled",
			"attempt", s.attempts, "delay", delay, "error", cause)
	} else {
		s.state = StateError
		exhausted = true
		s.logger.Warn("connection lost, not retrying", "attempts", s.attempts, "error", cause)
	}
	s.mu.Unlock()

	if !alreadyEmitted {
		s.emitLifecycle(LifecycleEvent{Kind: LifecycleClosed, Err: cause})
	}
	if exhausted {
		if cause == nil {
			cause = fmt.Errorf("connection closed by relay")
		}
		s.emitLifecycle(LifecycleEvent{Kind: LifecycleError, Err: fmt.Errorf("reconnect attempts exhausted: %w", cause)})
	}
}

// reconnectDelay returns the backoff before zero-based retry attempt k.
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

func (s *Session) scheduleRetryLocked(delay time.Duration) {
	s.cancelRetryLocked()
	s.retryTimer = time.AfterFunc(delay, s.retryFire)
}

func (s *Session) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// retryFire transitions to connecting only now, at fire time, never at
// schedule time.
func (s *Session) retryFire() {
	s.mu.Lock()
	if s.retryTimer == nil || !s.autoReconnect || s.state != StateDisconnected {
		// Cancelled between schedule and fire.
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.mu.Unlock()

	if err := s.dial(context.Background()); err != nil {
		s.logger.Debug("reconnect attempt failed", "error", err)
	}
}

// Disconnect voluntarily ends the session. It cancels any pending retry,
// transitions to disconnecting, closes the transport, and reaches
// disconnected once closure is observed, emitting the closed lifecycle
// event exactly once. Voluntary disconnect never triggers the retry policy.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.cancelRetryLocked()
	s.attempts = 0

	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return nil
	case StateError:
		s.state = StateDisconnected
		s.mu.Unlock()
		return nil
	case StateDisconnecting:
		s.mu.Unlock()
		return nil
	}

	s.state = StateDisconnecting
	s.stopHeartbeatLocked()
	conn := s.conn
	if conn == nil {
		// Still dialing; dial() observes the state change and abandons
		// the socket. Closure is effective immediately.
		s.state = StateDisconnected
		alreadyEmitted := s.closedEmitted
		s.closedEmitted = true
		s.mu.Unlock()
		if !alreadyEmitted {
			s.emitLifecycle(LifecycleEvent{Kind: LifecycleClosed, Voluntary: true})
		}
		return nil
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	s.writeMu.Unlock()
	// The read loop observes the closure and finishes the transition.
	return conn.Close()
}

// SendMedia transmits one captured media unit as a realtime_input frame.
// Valid only while connected: there is no queueing during connecting, and
// units sent at any other time are rejected so producers can drop them.
func (s *Session) SendMedia(mimeType string, data []byte) error {
	return s.sendJSON(protocol.ClientRealtimeInput{
		Type: protocol.TypeRealtimeInput,
		Chunks: []protocol.MediaChunk{{
			MimeType: mimeType,
			DataB64:  base64.StdEncoding.EncodeToString(data),
		}},
	})
}

// UpdateConfig applies a partial configuration change. Before the handshake
// it only alters the next setup payload. While connected the changed fields
// are re-sent as a setup_update frame; a ProjectID change is rejected
// outright because the project binding cannot move mid-session.
func (s *Session) UpdateConfig(update ConfigUpdate) error {
	if update.empty() {
		return nil
	}
	if err := update.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	connected := s.state == StateConnected
	if connected && update.ProjectID != nil {
		s.mu.Unlock()
		return NewInvalidRequestError("project id cannot change while connected")
	}
	s.config = update.applyTo(s.config)
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.sendJSON(update.updateFrame())
}

func (s *Session) sendJSON(v any) error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return NewNotConnectedError(fmt.Sprintf("send requires a connected session (state %s)", state))
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// heartbeatLoop emits keepalive frames on a fixed interval while connected.
// It exits as soon as the session leaves connected, either via the stop
// channel or the send gate.
func (s *Session) heartbeatLoop(stop chan struct{}) {
	interval := s.client.heartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.sendJSON(protocol.ClientHeartbeat{Type: protocol.TypeHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

func (s *Session) emitLifecycle(event LifecycleEvent) {
	s.mu.Lock()
	listeners := append(([]func(LifecycleEvent))(nil), s.lifecycleListeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(event)
	}
}

func (s *Session) emitEvent(event InboundEvent) {
	s.mu.Lock()
	listeners := append(([]func(InboundEvent))(nil), s.eventListeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(event)
	}
}
