package exchange

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/wsstress/internal/market"
	"github.com/rickgao/wsstress/internal/metrics"
	"github.com/rickgao/wsstress/internal/protocol"
	"github.com/rickgao/wsstress/internal/stats"
)

// Engine is the server-side channel registry.
type Engine struct {
	cfg    Config
	agg    *stats.Aggregator
	logger *slog.Logger

	channels map[string]*channel
	order    []string

	fanoutMu sync.RWMutex
	fanout   Fanout

	nextID   atomic.Uint64
	mu       sync.RWMutex
	sessions map[protocol.ConnID]*Session
}

// New creates an Engine over catalog. agg receives every counter update.
func New(cfg Config, catalog market.Catalog, agg *stats.Aggregator, logger *slog.Logger) (*Engine, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if agg == nil {
		agg = stats.NewAggregator(stats.Config{Role: metrics.RoleServer, Symbols: catalog.Symbols()}, nil, logger)
	}

	e := &Engine{
		cfg:      cfg,
		agg:      agg,
		logger:   logger.With("component", "exchange"),
		channels: make(map[string]*channel, len(catalog)),
		order:    catalog.Symbols(),
		fanout:   nopFanout{},
		sessions: make(map[protocol.ConnID]*Session),
	}
	for _, inst := range catalog {
		e.channels[inst.Symbol] = newChannel(inst.Symbol, inst.Price)
		metrics.ChannelPrice.WithLabelValues(inst.Symbol).Set(inst.Price)
	}
	return e, nil
}

// Bind installs the transport's fan-out. Call before accepting connections.
func (e *Engine) Bind(f Fanout) {
	if f == nil {
		f = nopFanout{}
	}
	e.fanoutMu.Lock()
	e.fanout = f
	e.fanoutMu.Unlock()
}

func (e *Engine) getFanout() Fanout {
	e.fanoutMu.RLock()
	defer e.fanoutMu.RUnlock()
	return e.fanout
}

// Stats returns the aggregator the engine reports to.
func (e *Engine) Stats() *stats.Aggregator {
	return e.agg
}

// Authenticate reports whether a peer may connect. A false result must be
// turned into a refusal by the transport before any frame is exchanged.
func (e *Engine) Authenticate(namespace, credential string) bool {
	ok := subtle.ConstantTimeCompare([]byte(credential), []byte(e.cfg.Secret)) == 1
	if ok && e.cfg.Namespace != "" && namespace != e.cfg.Namespace {
		ok = false
	}
	if !ok {
		metrics.AuthRejected.Inc()
		e.logger.Debug("authentication rejected", "namespace", namespace)
	}
	return ok
}

// Open registers an authenticated peer and sends its auth_confirmed.
func (e *Engine) Open(peer Peer) *Session {
	s := &Session{
		id:       protocol.ConnID(e.nextID.Add(1)),
		peer:     peer,
		engine:   e,
		channels: make(map[string]struct{}),
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	e.agg.Opened()
	e.agg.Connected()
	e.logger.Debug("connection opened", "conn_id", s.id)

	s.reply(protocol.AuthConfirmed(s.id))
	return s
}

// Session returns the open session with id.
func (e *Engine) Session(id protocol.ConnID) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Connections returns the number of open sessions.
func (e *Engine) Connections() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Close removes id from every channel. Unknown and already closed ids are
// ignored.
func (e *Engine) Close(id protocol.ConnID) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return
	}

	fan := e.getFanout()
	s.mu.Lock()
	s.closed = true
	for name := range s.channels {
		ch := e.channels[name]
		ch.mu.Lock()
		delete(ch.subs, id)
		fan.Unsubscribe(id, name)
		ch.mu.Unlock()
	}
	s.channels = nil
	s.mu.Unlock()

	e.agg.Closed()
	e.agg.Disconnected()
	e.logger.Debug("connection closed", "conn_id", id)
}

// Channels returns the state of every channel in catalog order.
func (e *Engine) Channels() []ChannelState {
	out := make([]ChannelState, 0, len(e.order))
	for _, sym := range e.order {
		out = append(out, e.channels[sym].state())
	}
	return out
}

// Channel returns the state of one channel.
func (e *Engine) Channel(symbol string) (ChannelState, bool) {
	ch, ok := e.channels[symbol]
	if !ok {
		return ChannelState{}, false
	}
	return ch.state(), true
}

// ChannelGauges implements stats.GaugeSource.
func (e *Engine) ChannelGauges() map[string]stats.ChannelGauge {
	out := make(map[string]stats.ChannelGauge, len(e.channels))
	for sym, ch := range e.channels {
		st := ch.state()
		out[sym] = stats.ChannelGauge{Subscribers: st.Subscribers, Value: st.Value, Volume: st.Volume}
	}
	return out
}

func (e *Engine) subscribe(s *Session, name string) error {
	ch, ok := e.channels[name]
	if !ok {
		e.agg.Error(metrics.KindUnknownChannel)
		return fmt.Errorf("subscribe %q: %w", name, protocol.ErrUnknownChannel)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.ErrClosed
	}
	ch.mu.Lock()
	if _, dup := ch.subs[s.id]; dup {
		ch.mu.Unlock()
		s.mu.Unlock()
		e.logger.Debug("subscribe rejected", "conn_id", s.id, "channel", name, "error", ErrAlreadySubscribed)
		return fmt.Errorf("subscribe %q: %w", name, ErrAlreadySubscribed)
	}
	if err := e.getFanout().Subscribe(s.id, name); err != nil {
		ch.mu.Unlock()
		s.mu.Unlock()
		e.agg.Error(metrics.KindTransport)
		return fmt.Errorf("subscribe %q: %w", name, err)
	}
	ch.subs[s.id] = struct{}{}
	count := len(ch.subs)
	ch.mu.Unlock()
	s.channels[name] = struct{}{}
	s.mu.Unlock()

	s.reply(protocol.SubscribeOK(s.id, name, count))
	return nil
}

func (e *Engine) trade(s *Session, action, name string) error {
	ch, ok := e.channels[name]
	if !ok {
		e.agg.Error(metrics.KindUnknownChannel)
		return fmt.Errorf("%s %q: %w", action, name, protocol.ErrUnknownChannel)
	}
	fan := e.getFanout()

	ch.mu.Lock()
	ch.apply(action)
	value, volume := ch.value, ch.volume
	data, err := protocol.Encode(protocol.Info(s.id, ch.symbol, ch.symbol, value, volume))
	if err != nil {
		ch.mu.Unlock()
		return err
	}
	subscribers := len(ch.subs)
	_, senderSubscribed := ch.subs[s.id]
	delivered := 0
	if subscribers > 0 {
		delivered = fan.Publish(ch.symbol, data, s.id)
	}
	ch.mu.Unlock()

	e.agg.Transaction()
	e.agg.ChannelMessage(ch.symbol)
	e.agg.Messages(delivered)
	metrics.TradesTotal.WithLabelValues(ch.symbol, action).Inc()
	metrics.ChannelPrice.WithLabelValues(ch.symbol).Set(value)
	if subscribers > 0 {
		metrics.BroadcastFanout.Observe(float64(delivered))
	}

	// The sender already got the publish.
	if subscribers > 0 && senderSubscribed && fan.Capabilities().PublishIncludesSender {
		return nil
	}
	s.send(data)
	return nil
}
