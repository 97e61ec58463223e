package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Stats.Interval <= 0 {
		return errors.New("stats.interval must be > 0")
	}

	if err := validatePort("metrics.server_port", c.Metrics.ServerPort, true); err != nil {
		return err
	}
	if err := validatePort("metrics.client_port", c.Metrics.ClientPort, true); err != nil {
		return err
	}

	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Client.validate(); err != nil {
		return err
	}

	if err := c.Channels.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Profiles))
	for i, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profiles[%d]: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("profiles[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if _, ok := c.ActiveProfile(); !ok {
		return fmt.Errorf("client.profile %q is not a known profile", c.Client.Profile)
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if err := validatePort("server.port", s.Port, false); err != nil {
		return err
	}
	if s.Secret == "" {
		return errors.New("server.secret is required")
	}
	if s.Transport != TransportGorilla && s.Transport != TransportMelody {
		return fmt.Errorf("server.transport must be %s or %s, got %q", TransportGorilla, TransportMelody, s.Transport)
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return errors.New("server.cert_file and server.key_file must be set together")
	}
	if s.WriteBuffer < 1 {
		return errors.New("server.write_buffer must be >= 1")
	}
	if s.PongWait <= s.PingInterval {
		return fmt.Errorf("server.pong_wait (%s) must exceed server.ping_interval (%s)", s.PongWait, s.PingInterval)
	}
	return nil
}

func (c *ClientConfig) validate() error {
	if c.Transport != TransportGorilla && c.Transport != TransportLoopback {
		return fmt.Errorf("client.transport must be %s or %s, got %q", TransportGorilla, TransportLoopback, c.Transport)
	}
	if c.Transport == TransportGorilla && c.URL == "" {
		return errors.New("client.url is required")
	}
	if c.RampWindow < 0 {
		return errors.New("client.ramp_window must be >= 0")
	}
	if c.ReconnectJitter < 0 || c.ReconnectStep < 0 {
		return errors.New("client.reconnect_jitter and client.reconnect_step must be >= 0")
	}
	if c.BufferSize < 1 {
		return errors.New("client.buffer_size must be >= 1")
	}
	return nil
}

func validatePort(field string, port int, allowZero bool) error {
	if allowZero && port == 0 {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}
