package wsserver

import "time"

// Defaults
const (
	DefaultWriteBuffer    = 64
	DefaultPingInterval   = 30 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultWriteWait      = 5 * time.Second
	DefaultMaxMessageSize = 4096
)

// Config tunes per-connection buffering and keepalive.
type Config struct {
	WriteBuffer    int           // Outbound frames queued per connection before dropping
	PingInterval   time.Duration // Server ping period
	PongWait       time.Duration // Read deadline extended by every pong
	WriteWait      time.Duration // Deadline for a single write
	MaxMessageSize int64         // Inbound frame limit
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		WriteBuffer:    DefaultWriteBuffer,
		PingInterval:   DefaultPingInterval,
		PongWait:       DefaultPongWait,
		WriteWait:      DefaultWriteWait,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = d.WriteBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
}
