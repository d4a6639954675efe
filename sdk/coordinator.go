package livelink

import (
	"context"
	"log/slog"
	"sync"
)

// sessionControl is the slice of Session the coordinator depends on.
type sessionControl interface {
	Connect(ctx context.Context) error
	Disconnect() error
	UpdateConfig(update ConfigUpdate) error
	State() ConnState
	OnLifecycle(fn func(LifecycleEvent))
}

// Coordinator subscribes to session lifecycle events and enforces the
// global invariant that no media producer stays active once the session
// leaves the connected state. It also exposes the UI-facing surface:
// connect/disconnect, producer toggles, config updates, and state-change
// listeners.
//
// On every closed or error lifecycle event it inspects the live producer
// handles rather than any cached "is streaming" flags, which may be stale
// closures over old state. That double-check is the defense against the
// core leak: a capture device staying active after its session has ended.
type Coordinator struct {
	session sessionControl
	logger  *slog.Logger

	mu               sync.Mutex
	handles          []Handle
	connListeners    []func(bool)
	streamListeners  map[string][]func(bool)
	previewListeners []func(FrameSource)
}

// NewCoordinator creates a coordinator subscribed to the session's
// lifecycle events.
func NewCoordinator(session sessionControl, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		session:         session,
		logger:          logger,
		streamListeners: make(map[string][]func(bool)),
	}
	session.OnLifecycle(c.handleLifecycle)
	return c
}

// Manage registers a producer handle for lifecycle enforcement. Producers
// that report external stops (screen share revoked from outside) propagate
// those to stream listeners too.
func (c *Coordinator) Manage(h Handle) {
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()

	if notifier, ok := h.(stopNotifier); ok {
		kind := h.Kind()
		notifier.OnStop(func(external bool) {
			if external {
				c.logger.Info("producer stopped externally", "kind", kind)
			}
			c.notifyStream(kind, false)
		})
	}
}

// Connect delegates to the session.
func (c *Coordinator) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Disconnect delegates to the session; producer teardown follows from the
// closed lifecycle event.
func (c *Coordinator) Disconnect() error {
	return c.session.Disconnect()
}

// SetConfig applies a partial configuration update to the session.
func (c *Coordinator) SetConfig(update ConfigUpdate) error {
	return c.session.UpdateConfig(update)
}

// Toggle starts the producer of the given kind when inactive and stops it
// when active, returning the new active state.
func (c *Coordinator) Toggle(kind string) (bool, error) {
	h := c.handleFor(kind)
	if h == nil {
		return false, NewInvalidRequestError("no producer registered for " + kind)
	}
	if h.Active() {
		err := h.Stop()
		if _, hooked := h.(stopNotifier); !hooked {
			// Hooked producers already notified through OnStop.
			c.notifyStream(kind, false)
		}
		return false, err
	}

	starter, ok := h.(interface{ Start() error })
	if !ok {
		return false, NewInvalidRequestError("producer for " + kind + " cannot be started here")
	}
	if err := starter.Start(); err != nil {
		return false, err
	}
	c.notifyStream(kind, true)
	return true, nil
}

// ToggleAudio toggles the microphone producer.
func (c *Coordinator) ToggleAudio() (bool, error) { return c.Toggle(KindAudio) }

// ToggleScreen toggles the screen-share producer.
func (c *Coordinator) ToggleScreen() (bool, error) { return c.Toggle(KindScreen) }

// OnConnectionChange registers a listener for connected/disconnected
// transitions as seen by the UI.
func (c *Coordinator) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connListeners = append(c.connListeners, fn)
}

// OnAudioStreamChange registers a listener for microphone on/off
// transitions.
func (c *Coordinator) OnAudioStreamChange(fn func(active bool)) {
	c.onStreamChange(KindAudio, fn)
}

// OnScreenShareChange registers a listener for screen-share on/off
// transitions.
func (c *Coordinator) OnScreenShareChange(fn func(active bool)) {
	c.onStreamChange(KindScreen, fn)
}

// OnPreviewChange registers a listener for the share preview surface: the
// active frame source while sharing, nil once sharing stops.
func (c *Coordinator) OnPreviewChange(fn func(src FrameSource)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previewListeners = append(c.previewListeners, fn)
}

func (c *Coordinator) onStreamChange(kind string, fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamListeners[kind] = append(c.streamListeners[kind], fn)
}

func (c *Coordinator) handleFor(kind string) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.handles {
		if h.Kind() == kind {
			return h
		}
	}
	return nil
}

func (c *Coordinator) handleLifecycle(event LifecycleEvent) {
	switch event.Kind {
	case LifecycleStarted:
		c.notifyConnection(true)
	case LifecycleClosed:
		c.notifyConnection(false)
		c.stopActiveProducers()
	case LifecycleError:
		c.stopActiveProducers()
	}
}

// stopActiveProducers consults each live handle and stops any that still
// holds a device, regardless of what any cached flag claims.
func (c *Coordinator) stopActiveProducers() {
	c.mu.Lock()
	handles := append([]Handle(nil), c.handles...)
	c.mu.Unlock()

	for _, h := range handles {
		if !h.Active() {
			continue
		}
		c.logger.Info("stopping producer after session close", "kind", h.Kind())
		if err := h.Stop(); err != nil {
			c.logger.Warn("stop producer", "kind", h.Kind(), "error", err)
		}
		if _, hooked := h.(stopNotifier); !hooked {
			c.notifyStream(h.Kind(), false)
		}
	}
}

func (c *Coordinator) notifyConnection(connected bool) {
	c.mu.Lock()
	listeners := append(([]func(bool))(nil), c.connListeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(connected)
	}
}

func (c *Coordinator) notifyStream(kind string, active bool) {
	c.mu.Lock()
	listeners := append(([]func(bool))(nil), c.streamListeners[kind]...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(active)
	}

	if kind == KindScreen {
		var src FrameSource
		if active {
			if sp, ok := c.handleFor(kind).(interface{ Source() FrameSource }); ok {
				src = sp.Source()
			}
		}
		c.notifyPreview(src)
	}
}

func (c *Coordinator) notifyPreview(src FrameSource) {
	c.mu.Lock()
	listeners := append(([]func(FrameSource))(nil), c.previewListeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(src)
	}
}
