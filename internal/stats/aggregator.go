package stats

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rickgao/wsstress/internal/metrics"
)

type channelCounters struct {
	messages   atomic.Int64
	broadcasts atomic.Int64
}

// window holds the counters of the current interval. The channels map is
// fixed at creation and only its values are mutated.
type window struct {
	opens        atomic.Int64
	closes       atomic.Int64
	errors       atomic.Int64
	drops        atomic.Int64
	messages     atomic.Int64
	transactions atomic.Int64
	channels     map[string]*channelCounters
}

func newWindow(symbols []string) *window {
	w := &window{channels: make(map[string]*channelCounters, len(symbols))}
	for _, s := range symbols {
		w.channels[s] = &channelCounters{}
	}
	return w
}

// Aggregator owns the process-wide counters for one role.
type Aggregator struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	cur   *window
	since time.Time

	active atomic.Int64

	extMu    sync.RWMutex
	gauges   GaugeSource
	reporter Reporter

	// Cached collectors for the hot path
	opened   prometheus.Counter
	closed   prometheus.Counter
	activeG  prometheus.Gauge
	dropped  prometheus.Counter
	messages prometheus.Counter
}

// NewAggregator creates an Aggregator. The default reporter logs through logger.
func NewAggregator(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Aggregator{
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		cur:      newWindow(cfg.Symbols),
		since:    clock.Now(),
		reporter: NewLogReporter(logger),
		opened:   metrics.ConnectionsOpened.WithLabelValues(cfg.Role),
		closed:   metrics.ConnectionsClosed.WithLabelValues(cfg.Role),
		activeG:  metrics.ConnectionsActive.WithLabelValues(cfg.Role),
		dropped:  metrics.MessagesDropped.WithLabelValues(cfg.Role),
		messages: metrics.MessagesTotal.WithLabelValues(cfg.Role),
	}
}

// SetGauges installs the per-channel gauge source.
func (a *Aggregator) SetGauges(g GaugeSource) {
	a.extMu.Lock()
	a.gauges = g
	a.extMu.Unlock()
}

// SetReporter replaces the reporter.
func (a *Aggregator) SetReporter(r Reporter) {
	a.extMu.Lock()
	a.reporter = r
	a.extMu.Unlock()
}

// Opened counts a connection open.
func (a *Aggregator) Opened() {
	a.mu.RLock()
	a.cur.opens.Add(1)
	a.mu.RUnlock()
	a.opened.Inc()
}

// Closed counts a connection close.
func (a *Aggregator) Closed() {
	a.mu.RLock()
	a.cur.closes.Add(1)
	a.mu.RUnlock()
	a.closed.Inc()
}

// Connected increments the active connection gauge.
func (a *Aggregator) Connected() {
	a.active.Add(1)
	a.activeG.Inc()
}

// Disconnected decrements the active connection gauge.
func (a *Aggregator) Disconnected() {
	a.active.Add(-1)
	a.activeG.Dec()
}

// Active returns the current active connection count.
func (a *Aggregator) Active() int64 {
	return a.active.Load()
}

// Error counts an error of the given kind.
func (a *Aggregator) Error(kind string) {
	a.mu.RLock()
	a.cur.errors.Add(1)
	a.mu.RUnlock()
	metrics.ErrorsTotal.WithLabelValues(a.cfg.Role, kind).Inc()
}

// Dropped counts a message lost to backpressure.
func (a *Aggregator) Dropped() {
	a.mu.RLock()
	a.cur.drops.Add(1)
	a.mu.RUnlock()
	a.dropped.Inc()
}

// Messages counts n frames received or sent.
func (a *Aggregator) Messages(n int) {
	if n <= 0 {
		return
	}
	a.mu.RLock()
	a.cur.messages.Add(int64(n))
	a.mu.RUnlock()
	a.messages.Add(float64(n))
}

// Transaction counts one executed trade.
func (a *Aggregator) Transaction() {
	a.mu.RLock()
	a.cur.transactions.Add(1)
	a.mu.RUnlock()
}

// ChannelMessage counts a trade-related message on a channel.
func (a *Aggregator) ChannelMessage(symbol string) {
	a.mu.RLock()
	if c, ok := a.cur.channels[symbol]; ok {
		c.messages.Add(1)
	}
	a.mu.RUnlock()
}

// ChannelBroadcast counts a broadcast received on a channel.
func (a *Aggregator) ChannelBroadcast(symbol string) {
	a.mu.RLock()
	if c, ok := a.cur.channels[symbol]; ok {
		c.broadcasts.Add(1)
	}
	a.mu.RUnlock()
}

// Swap closes the current window, starts a new one and returns the closed
// window's snapshot.
func (a *Aggregator) Swap() Snapshot {
	fresh := newWindow(a.cfg.Symbols)

	a.mu.Lock()
	old := a.cur
	since := a.since
	now := a.clock.Now()
	a.cur = fresh
	a.since = now
	a.mu.Unlock()

	a.extMu.RLock()
	gauges := a.gauges
	a.extMu.RUnlock()

	var current map[string]ChannelGauge
	if gauges != nil {
		current = gauges.ChannelGauges()
	}

	snap := Snapshot{
		Role:         a.cfg.Role,
		At:           now,
		Elapsed:      now.Sub(since),
		Active:       a.active.Load(),
		Opens:        old.opens.Load(),
		Closes:       old.closes.Load(),
		Errors:       old.errors.Load(),
		Drops:        old.drops.Load(),
		Messages:     old.messages.Load(),
		Transactions: old.transactions.Load(),
		Channels:     make([]ChannelSnapshot, 0, len(a.cfg.Symbols)),
	}
	for _, sym := range a.cfg.Symbols {
		c := old.channels[sym]
		line := ChannelSnapshot{
			Symbol:       sym,
			Messages:     c.messages.Load(),
			Broadcasts:   c.broadcasts.Load(),
			ChannelGauge: current[sym],
		}
		snap.Channels = append(snap.Channels, line)
		metrics.ChannelSubscribers.WithLabelValues(a.cfg.Role, sym).Set(float64(line.Subscribers))
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap.Goroutines = runtime.NumGoroutine()
	snap.HeapMB = mem.HeapAlloc / 1024 / 1024

	return snap
}

// Run reports every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	a.since = a.clock.Now()
	a.mu.Unlock()

	ticker := a.clock.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			snap := a.Swap()
			if a.cfg.SkipWhen != nil && a.cfg.SkipWhen(snap) {
				continue
			}
			a.extMu.RLock()
			r := a.reporter
			a.extMu.RUnlock()
			if r != nil {
				r.Report(snap)
			}
		}
	}
}
