package livelink

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithEndpoint sets the relay websocket URL (ws:// or wss://).
func WithEndpoint(url string) ClientOption {
	return func(c *Client) {
		c.endpoint = url
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithReconnectPolicy sets the bounded backoff used after involuntary
// transport loss.
func WithReconnectPolicy(p ReconnectPolicy) ClientOption {
	return func(c *Client) {
		c.reconnect = p
	}
}

// WithAutoReconnect enables or disables automatic reconnection. Sessions can
// toggle it at runtime with SetAutoReconnect.
func WithAutoReconnect(enabled bool) ClientOption {
	return func(c *Client) {
		c.autoReconnect = enabled
	}
}

// WithHeartbeatInterval sets the keepalive cadence while connected.
func WithHeartbeatInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.heartbeatInterval = d
	}
}
