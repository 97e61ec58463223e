package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wsstress/internal/market"
	"github.com/rickgao/wsstress/internal/metrics"
	"github.com/rickgao/wsstress/internal/stats"
)

// Config configures a Harness.
type Config struct {
	Profile         Profile
	Catalog         market.Catalog
	RampWindow      time.Duration // Start delays are uniform in [0, RampWindow)
	ReconnectJitter time.Duration
	ReconnectStep   time.Duration
	Seed            uint64 // 0 picks a random seed
}

// channelView is the harness-local view of one channel.
type channelView struct {
	mu          sync.Mutex
	subscribers int
	value       float64
	volume      int64
}

// Harness owns the simulated client pool.
type Harness struct {
	cfg    Config
	dialer Dialer
	agg    *stats.Aggregator
	clock  clockwork.Clock
	logger *slog.Logger
	runID  string

	clients  []*SimulatedClient
	channels map[string]*channelView
}

// New creates a Harness with one SimulatedClient per configured connection.
func New(cfg Config, dialer Dialer, agg *stats.Aggregator, clock clockwork.Clock, logger *slog.Logger) (*Harness, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if agg == nil {
		agg = stats.NewAggregator(stats.Config{Role: metrics.RoleClient, Symbols: cfg.Catalog.Symbols()}, clock, logger)
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}

	runID := uuid.NewString()
	h := &Harness{
		cfg:      cfg,
		dialer:   dialer,
		agg:      agg,
		clock:    clock,
		logger:   logger.With("component", "harness", "run_id", runID),
		runID:    runID,
		channels: make(map[string]*channelView, len(cfg.Catalog)),
	}
	for _, inst := range cfg.Catalog {
		h.channels[inst.Symbol] = &channelView{value: inst.Price}
	}

	h.clients = make([]*SimulatedClient, cfg.Profile.NumClients)
	for i := range h.clients {
		role := RoleObserver
		if i < cfg.Profile.ActiveTraders {
			role = RoleTrader
		}
		h.clients[i] = newSimulatedClient(h, i, role, rand.New(rand.NewPCG(cfg.Seed, uint64(i))))
	}
	metrics.ClientStates.WithLabelValues(StateIdle.String()).Add(float64(len(h.clients)))

	return h, nil
}

// RunID identifies this harness run in logs.
func (h *Harness) RunID() string {
	return h.runID
}

// Stats returns the aggregator the harness reports to.
func (h *Harness) Stats() *stats.Aggregator {
	return h.agg
}

// Run starts every client and blocks until ctx is cancelled.
func (h *Harness) Run(ctx context.Context) error {
	p := h.cfg.Profile
	h.logger.Info("starting load",
		"profile", p.Name,
		"clients", p.NumClients,
		"traders", p.ActiveTraders,
		"trade_freq", p.TradeFreq,
		"pubsub", p.PubSub,
		"ramp_window", h.cfg.RampWindow,
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range h.clients {
		g.Go(func() error {
			return c.run(ctx)
		})
	}
	err := g.Wait()
	h.logger.Info("load stopped")
	return err
}

// Clients returns a snapshot of every simulated client.
func (h *Harness) Clients() []ClientInfo {
	out := make([]ClientInfo, len(h.clients))
	for i, c := range h.clients {
		out[i] = c.Info()
	}
	return out
}

// ChannelGauges implements stats.GaugeSource from the clients' local
// subscriptions and the last info seen per channel.
func (h *Harness) ChannelGauges() map[string]stats.ChannelGauge {
	out := make(map[string]stats.ChannelGauge, len(h.channels))
	for sym, v := range h.channels {
		v.mu.Lock()
		out[sym] = stats.ChannelGauge{Subscribers: v.subscribers, Value: v.value, Volume: v.volume}
		v.mu.Unlock()
	}
	return out
}

func (h *Harness) join(channel string, delta int) {
	v, ok := h.channels[channel]
	if !ok {
		return
	}
	v.mu.Lock()
	v.subscribers += delta
	v.mu.Unlock()
}

func (h *Harness) observe(channel string, value float64, volume int64) {
	v, ok := h.channels[channel]
	if !ok {
		return
	}
	v.mu.Lock()
	if volume >= v.volume {
		v.value = value
		v.volume = volume
	}
	v.mu.Unlock()
}
