package wsclient

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Server URL including the namespace path (e.g. ws://localhost:3000/testroom)
	Token            string        // Shared secret sent after the "token" subprotocol
	HandshakeTimeout time.Duration // Dial timeout
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel buffer size

	// OnDrop is called when an inbound frame is discarded because the
	// message buffer is full.
	OnDrop func()
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}
