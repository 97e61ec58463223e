package config

import (
	"time"

	"github.com/rickgao/wsstress/internal/harness"
	"github.com/rickgao/wsstress/internal/market"
	"github.com/rickgao/wsstress/internal/stats"
	"github.com/rickgao/wsstress/internal/transport/wsclient"
	"github.com/rickgao/wsstress/internal/transport/wsserver"
)

// Default values for optional configuration fields.
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultStatsInterval     = stats.DefaultInterval
	DefaultServerMetricsPort = 9090
	DefaultClientMetricsPort = 9091
	DefaultMetricsPath       = "/metrics"
	DefaultHost              = "localhost"
	DefaultPort              = 3000
	DefaultNamespace         = "testroom"
	DefaultSecret            = "4R3ALT0K3N5_uFQ"
	DefaultTransport         = TransportGorilla
	DefaultProfile           = "single"
	DefaultURL               = "ws://localhost:3000/testroom"
	DefaultRampWindow        = harness.DefaultRampWindow
	DefaultReconnectJitter   = harness.DefaultReconnectJitter
	DefaultReconnectStep     = harness.DefaultReconnectStep
	DefaultHandshakeTimeout  = 10 * time.Second
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig returns a Config preset with the defaults of fields where an
// explicit zero is meaningful: a metrics port of 0 disables the listener and
// zero ramp or reconnect delays are valid. YAML is decoded over it, so only
// keys missing from the file keep these values.
func newConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			ServerPort: DefaultServerMetricsPort,
			ClientPort: DefaultClientMetricsPort,
		},
		Client: ClientConfig{
			RampWindow:      DefaultRampWindow,
			ReconnectJitter: DefaultReconnectJitter,
			ReconnectStep:   DefaultReconnectStep,
		},
	}
}

func (c *Config) applyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Stats defaults
	if c.Stats.Interval == 0 {
		c.Stats.Interval = DefaultStatsInterval
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Secret == "" {
		c.Server.Secret = DefaultSecret
	}
	if c.Server.Transport == "" {
		c.Server.Transport = DefaultTransport
	}
	ws := wsserver.DefaultConfig()
	if c.Server.WriteBuffer == 0 {
		c.Server.WriteBuffer = ws.WriteBuffer
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = ws.PingInterval
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = ws.PongWait
	}
	if c.Server.WriteWait == 0 {
		c.Server.WriteWait = ws.WriteWait
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = ws.MaxMessageSize
	}

	// Client defaults
	if c.Client.URL == "" {
		c.Client.URL = DefaultURL
	}
	if c.Client.Token == "" {
		c.Client.Token = c.Server.Secret
	}
	if c.Client.Transport == "" {
		c.Client.Transport = DefaultTransport
	}
	if c.Client.Profile == "" {
		c.Client.Profile = DefaultProfile
	}
	wc := wsclient.DefaultClientConfig()
	if c.Client.BufferSize == 0 {
		c.Client.BufferSize = wc.BufferSize
	}
	if c.Client.HandshakeTimeout == 0 {
		c.Client.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Client.PingInterval == 0 {
		c.Client.PingInterval = wc.PingInterval
	}
	if c.Client.PingTimeout == 0 {
		c.Client.PingTimeout = wc.PingTimeout
	}
	if c.Client.WriteTimeout == 0 {
		c.Client.WriteTimeout = wc.WriteTimeout
	}

	// Channel defaults
	if len(c.Channels) == 0 {
		c.Channels = market.DefaultCatalog()
	}
}
