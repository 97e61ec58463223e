package wsclient

import (
	"context"
	"log/slog"

	"github.com/rickgao/wsstress/internal/harness"
)

// Dialer creates connected Clients for the load harness.
type Dialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewDialer creates a Dialer. Every Dial uses cfg.
func NewDialer(cfg ClientConfig, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger.With("component", "wsclient")}
}

// Dial implements harness.Dialer.
func (d *Dialer) Dial(ctx context.Context) (harness.Conn, error) {
	c := NewClient(d.cfg, d.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
