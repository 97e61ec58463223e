package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/wsstress/internal/harness"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempFile(t, `
log:
  level: debug
  format: json
server:
  port: 4000
  namespace: room
  secret: s3cret
  transport: melody
client:
  url: ws://example:4000/room
  profile: clients_50
  ramp_window: 2s
channels:
  - symbol: AAPL
    price: 100.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("expected port 4000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Transport != TransportMelody {
		t.Errorf("expected melody transport, got %s", cfg.Server.Transport)
	}
	if cfg.Client.RampWindow != 2*time.Second {
		t.Errorf("expected ramp window 2s, got %v", cfg.Client.RampWindow)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].Symbol != "AAPL" || cfg.Channels[0].Price != 100.5 {
		t.Errorf("unexpected channels: %+v", cfg.Channels)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("WSSTRESS_TEST_SECRET", "from-env")

	path := writeTempFile(t, `
server:
  secret: ${WSSTRESS_TEST_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Secret != "from-env" {
		t.Errorf("expected secret from env, got %q", cfg.Server.Secret)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeTempFile(t, "server: [not, a, map")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, `
server:
  port: 4000
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("explicit port overwritten: %d", cfg.Server.Port)
	}
	if cfg.Server.Namespace != "" {
		t.Errorf("namespace should stay empty when unset, got %q", cfg.Server.Namespace)
	}
	if cfg.Server.Secret != DefaultSecret {
		t.Errorf("expected default secret, got %q", cfg.Server.Secret)
	}
	if cfg.Client.Token != DefaultSecret {
		t.Errorf("expected client token to follow the server secret, got %q", cfg.Client.Token)
	}
	if cfg.Stats.Interval != DefaultStatsInterval {
		t.Errorf("expected stats interval %v, got %v", DefaultStatsInterval, cfg.Stats.Interval)
	}
	if len(cfg.Channels) != 5 {
		t.Errorf("expected default catalog of 5, got %d", len(cfg.Channels))
	}
	if cfg.Client.Profile != DefaultProfile {
		t.Errorf("expected profile %s, got %s", DefaultProfile, cfg.Client.Profile)
	}
}

func TestLoadWithDefaults_ExplicitZero(t *testing.T) {
	path := writeTempFile(t, `
metrics:
  server_port: 0
  client_port: 0
client:
  ramp_window: 0s
  reconnect_jitter: 0s
  reconnect_step: 0s
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Metrics.ServerPort != 0 {
		t.Errorf("expected server metrics listener disabled, got port %d", cfg.Metrics.ServerPort)
	}
	if cfg.Metrics.ClientPort != 0 {
		t.Errorf("expected client metrics listener disabled, got port %d", cfg.Metrics.ClientPort)
	}
	if cfg.Client.RampWindow != 0 {
		t.Errorf("expected ramp window 0, got %v", cfg.Client.RampWindow)
	}
	if cfg.Client.ReconnectJitter != 0 {
		t.Errorf("expected reconnect jitter 0, got %v", cfg.Client.ReconnectJitter)
	}
	if cfg.Client.ReconnectStep != 0 {
		t.Errorf("expected reconnect step 0, got %v", cfg.Client.ReconnectStep)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("explicit zeros should validate: %v", err)
	}
}

func TestLoadWithDefaults_UnsetKeepsDefaults(t *testing.T) {
	path := writeTempFile(t, `
metrics:
  path: /prom
client:
  profile: clients_5
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Metrics.ServerPort != DefaultServerMetricsPort || cfg.Metrics.ClientPort != DefaultClientMetricsPort {
		t.Errorf("expected default metrics ports, got %+v", cfg.Metrics)
	}
	if cfg.Metrics.Path != "/prom" {
		t.Errorf("expected path /prom, got %s", cfg.Metrics.Path)
	}
	if cfg.Client.RampWindow != DefaultRampWindow {
		t.Errorf("expected ramp window %v, got %v", DefaultRampWindow, cfg.Client.RampWindow)
	}
	if cfg.Client.ReconnectJitter != DefaultReconnectJitter {
		t.Errorf("expected reconnect jitter %v, got %v", DefaultReconnectJitter, cfg.Client.ReconnectJitter)
	}
	if cfg.Client.ReconnectStep != DefaultReconnectStep {
		t.Errorf("expected reconnect step %v, got %v", DefaultReconnectStep, cfg.Client.ReconnectStep)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Client.URL != DefaultURL {
		t.Errorf("expected url %s, got %s", DefaultURL, cfg.Client.URL)
	}
	if cfg.Metrics.ServerPort != DefaultServerMetricsPort || cfg.Metrics.ClientPort != DefaultClientMetricsPort {
		t.Errorf("unexpected metrics ports: %+v", cfg.Metrics)
	}
	if cfg.Server.TLS() {
		t.Error("TLS should be off without cert files")
	}
}

func TestLoadWithDefaults_EmptyPath(t *testing.T) {
	cfg, err := LoadWithDefaults("")
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadAndValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	path := writeTempFile(t, `
server:
  transport: carrier-pigeon
`)
	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "server.transport") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("WSSTRESS_DOTENV_VALUE=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WSSTRESS_DOTENV_VALUE", "")
	os.Unsetenv("WSSTRESS_DOTENV_VALUE")

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("WSSTRESS_DOTENV_VALUE"); got != "loaded" {
		t.Errorf("expected loaded, got %q", got)
	}
}

func TestAllProfiles(t *testing.T) {
	path := writeTempFile(t, `
profiles:
  - name: single
    num_clients: 3
    active_traders: 1
    trade_freq: 5
  - name: custom
    num_clients: 10
    active_traders: 2
    trade_freq: 1
    pubsub: true
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	all := cfg.AllProfiles()
	if len(all) != 13 {
		t.Fatalf("expected 12 builtin + 1 custom profiles, got %d", len(all))
	}
	if all[0].Name != "single" || all[0].NumClients != 3 {
		t.Errorf("expected overridden single profile first, got %+v", all[0])
	}
	if all[len(all)-1].Name != "custom" {
		t.Errorf("expected custom profile last, got %s", all[len(all)-1].Name)
	}

	cfg.Client.Profile = "custom"
	p, ok := cfg.ActiveProfile()
	if !ok || p.NumClients != 10 || !p.PubSub {
		t.Errorf("unexpected active profile %+v (ok=%v)", p, ok)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: `log.level must be one of debug, info, warn, error, got "loud"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name:    "zero stats interval",
			mutate:  func(c *Config) { c.Stats.Interval = 0 },
			wantErr: "stats.interval must be > 0",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.ServerPort = 70000 },
			wantErr: "metrics.server_port must be between 1 and 65535, got 70000",
		},
		{
			name:    "metrics disabled",
			mutate:  func(c *Config) { c.Metrics.ClientPort = 0 },
			wantErr: "",
		},
		{
			name:    "server port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: "server.port must be between 1 and 65535, got -1",
		},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.Server.Secret = "" },
			wantErr: "server.secret is required",
		},
		{
			name:    "bad server transport",
			mutate:  func(c *Config) { c.Server.Transport = "loopback" },
			wantErr: `server.transport must be gorilla or melody, got "loopback"`,
		},
		{
			name:    "cert without key",
			mutate:  func(c *Config) { c.Server.CertFile = "cert.pem" },
			wantErr: "server.cert_file and server.key_file must be set together",
		},
		{
			name:    "write buffer",
			mutate:  func(c *Config) { c.Server.WriteBuffer = 0 },
			wantErr: "server.write_buffer must be >= 1",
		},
		{
			name:    "pong wait shorter than ping",
			mutate:  func(c *Config) { c.Server.PongWait = 10 * time.Second },
			wantErr: "server.pong_wait (10s) must exceed server.ping_interval (30s)",
		},
		{
			name:    "bad client transport",
			mutate:  func(c *Config) { c.Client.Transport = "melody" },
			wantErr: `client.transport must be gorilla or loopback, got "melody"`,
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Client.URL = "" },
			wantErr: "client.url is required",
		},
		{
			name: "loopback needs no url",
			mutate: func(c *Config) {
				c.Client.Transport = TransportLoopback
				c.Client.URL = ""
			},
			wantErr: "",
		},
		{
			name:    "negative ramp",
			mutate:  func(c *Config) { c.Client.RampWindow = -time.Second },
			wantErr: "client.ramp_window must be >= 0",
		},
		{
			name:    "buffer size",
			mutate:  func(c *Config) { c.Client.BufferSize = 0 },
			wantErr: "client.buffer_size must be >= 1",
		},
		{
			name:    "bad channel",
			mutate:  func(c *Config) { c.Channels[1].Price = 0 },
			wantErr: "channels[1].price must be > 0, got 0",
		},
		{
			name: "bad profile",
			mutate: func(c *Config) {
				c.Profiles = append(c.Profiles, harnessProfile("tiny", 0))
			},
			wantErr: "profiles[0]: profile tiny: num_clients must be >= 1, got 0",
		},
		{
			name: "duplicate profile",
			mutate: func(c *Config) {
				c.Profiles = append(c.Profiles, harnessProfile("dup", 1), harnessProfile("dup", 2))
			},
			wantErr: `profiles[1].name "dup" is duplicated`,
		},
		{
			name:    "unknown profile",
			mutate:  func(c *Config) { c.Client.Profile = "nope" },
			wantErr: `client.profile "nope" is not a known profile`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("expected error %q, got nil", tt.wantErr)
				return
			}
			if err.Error() != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func harnessProfile(name string, clients int) harness.Profile {
	return harness.Profile{Name: name, NumClients: clients}
}
