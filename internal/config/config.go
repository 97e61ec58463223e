// Package config loads the YAML configuration shared by the server and the
// load generator.
package config

import (
	"time"

	"github.com/rickgao/wsstress/internal/harness"
	"github.com/rickgao/wsstress/internal/market"
)

// Config is the root configuration.
type Config struct {
	Log      LogConfig         `yaml:"log"`
	Stats    StatsConfig       `yaml:"stats"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	Server   ServerConfig      `yaml:"server"`
	Client   ClientConfig      `yaml:"client"`
	Channels market.Catalog    `yaml:"channels"` // Instrument symbol and opening price
	Profiles []harness.Profile `yaml:"profiles"` // Added to (or overriding) the built-in profiles
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StatsConfig configures the periodic stats report.
type StatsConfig struct {
	Interval   time.Duration `yaml:"interval"`
	ReportIdle bool          `yaml:"report_idle"` // Print windows with no activity
}

// MetricsConfig configures the /metrics and /health listener of each binary.
// A port of 0 disables the listener.
type MetricsConfig struct {
	ServerPort int    `yaml:"server_port"`
	ClientPort int    `yaml:"client_port"`
	Path       string `yaml:"path"`
}

// ServerConfig holds exchange server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Namespace      string        `yaml:"namespace"` // Required URL path; empty accepts any
	Secret         string        `yaml:"secret"`
	Transport      string        `yaml:"transport"` // gorilla or melody
	CertFile       string        `yaml:"cert_file"` // TLS is enabled when both files are set
	KeyFile        string        `yaml:"key_file"`
	WriteBuffer    int           `yaml:"write_buffer"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// TLS reports whether the server should serve TLS.
func (s ServerConfig) TLS() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// ClientConfig holds load generator settings.
type ClientConfig struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`
	Transport        string        `yaml:"transport"` // gorilla or loopback
	Profile          string        `yaml:"profile"`
	RampWindow       time.Duration `yaml:"ramp_window"`
	ReconnectJitter  time.Duration `yaml:"reconnect_jitter"`
	ReconnectStep    time.Duration `yaml:"reconnect_step"`
	BufferSize       int           `yaml:"buffer_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Seed             uint64        `yaml:"seed"`           // 0 picks a random seed
	IncludeSender    bool          `yaml:"include_sender"` // loopback only: echo publishes to the sender
}

// Transports
const (
	TransportGorilla  = "gorilla"
	TransportMelody   = "melody"
	TransportLoopback = "loopback"
)

// AllProfiles returns the built-in profiles followed by the configured ones.
// A configured profile replaces a built-in profile of the same name.
func (c *Config) AllProfiles() []harness.Profile {
	out := make([]harness.Profile, 0, len(c.Profiles)+12)
	for _, p := range harness.BuiltinProfiles() {
		if custom, ok := harness.LookupProfile(c.Profiles, p.Name); ok {
			p = custom
		}
		out = append(out, p)
	}
	for _, p := range c.Profiles {
		if _, builtin := harness.LookupProfile(harness.BuiltinProfiles(), p.Name); !builtin {
			out = append(out, p)
		}
	}
	return out
}

// ActiveProfile returns the profile selected by client.profile.
func (c *Config) ActiveProfile() (harness.Profile, bool) {
	return harness.LookupProfile(c.AllProfiles(), c.Client.Profile)
}
