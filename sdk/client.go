// Package livelink provides the client SDK for live multimodal sessions.
//
// A livelink client holds a long-lived websocket session to a relay that
// forwards media to an upstream AI service. The SDK owns the handshake,
// inbound event classification, bounded reconnection, media producers
// (microphone and screen), ordered audio playback, and the lifecycle
// coordination that guarantees no capture device outlives its session.
package livelink

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultConnectTimeout    = 15 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// ReconnectPolicy bounds automatic recovery from involuntary transport loss.
// Retry k (zero-based) fires after BaseDelay << k.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultReconnectPolicy returns the default bounded backoff policy
// (5 attempts at 1/2/4/8/16s).
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, BaseDelay: time.Second}
}

// Client is the main entry point for the SDK.
type Client struct {
	Live *LiveService

	// Internal
	endpoint          string
	dialer            *websocket.Dialer
	logger            *slog.Logger
	reconnect         ReconnectPolicy
	autoReconnect     bool
	heartbeatInterval time.Duration
}

// NewClient creates a new client. The relay endpoint must be set with
// WithEndpoint before sessions can connect.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger:            slog.Default(),
		reconnect:         DefaultReconnectPolicy(),
		autoReconnect:     true,
		heartbeatInterval: defaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}

	c.Live = &LiveService{client: c}
	return c
}
