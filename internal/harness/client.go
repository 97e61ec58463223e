package harness

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/wsstress/internal/metrics"
	"github.com/rickgao/wsstress/internal/protocol"
)

// SimulatedClient is one load-generator slot. All of its transitions happen
// on its own goroutine; mu only guards the fields read by Info.
type SimulatedClient struct {
	h       *Harness
	ordinal int
	role    Role
	rng     *rand.Rand

	mu         sync.Mutex
	state      State
	id         protocol.ConnID
	channel    string
	retryCount int
}

func newSimulatedClient(h *Harness, ordinal int, role Role, rng *rand.Rand) *SimulatedClient {
	return &SimulatedClient{h: h, ordinal: ordinal, role: role, rng: rng, state: StateIdle}
}

// Info returns a snapshot of the client.
func (c *SimulatedClient) Info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		Ordinal:    c.ordinal,
		Role:       c.role,
		State:      c.state,
		ID:         c.id,
		Channel:    c.channel,
		RetryCount: c.retryCount,
	}
}

func (c *SimulatedClient) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		metrics.ClientStates.WithLabelValues(prev.String()).Dec()
		metrics.ClientStates.WithLabelValues(s.String()).Inc()
	}
}

func (c *SimulatedClient) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run loops connect, operate, back off until ctx is done.
func (c *SimulatedClient) run(ctx context.Context) error {
	defer c.setState(StateIdle)

	var delay time.Duration
	if w := c.h.cfg.RampWindow; w > 0 {
		delay = time.Duration(c.rng.Int64N(int64(w)))
	}
	if !c.sleep(ctx, delay) {
		return nil
	}

	for {
		c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		c.retryCount++
		retry := c.retryCount
		c.mu.Unlock()

		c.setState(StateReconnecting)
		metrics.ReconnectsTotal.Inc()
		wait := Backoff(retry, c.h.cfg.ReconnectJitter, c.h.cfg.ReconnectStep, c.rng)
		c.h.logger.Debug("reconnect scheduled", "client", c.ordinal, "retry", retry, "delay", wait)
		if !c.sleep(ctx, wait) {
			return nil
		}
	}
}

func (c *SimulatedClient) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := c.h.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

// connection is the per-connection part of a client's state.
type connection struct {
	conn          Conn
	authenticated bool
	joined        string
	ticker        clockwork.Ticker
}

func (cn *connection) tick() <-chan time.Time {
	if cn.ticker == nil {
		return nil
	}
	return cn.ticker.Chan()
}

// connect runs one connection until it ends.
func (c *SimulatedClient) connect(ctx context.Context) {
	agg := c.h.agg
	c.setState(StateConnecting)

	conn, err := c.h.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		agg.Error(metrics.KindDial)
		if errors.Is(err, protocol.ErrAuthRejected) {
			c.h.logger.Warn("connection refused", "client", c.ordinal, "error", err)
		} else {
			c.h.logger.Debug("dial failed", "client", c.ordinal, "error", err)
		}
		return
	}

	agg.Opened()
	c.setState(StateAuthenticating)
	cn := &connection{conn: conn}
	defer c.teardown(cn)

	msgs := conn.Messages()
	errs := conn.Errors()
	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosing)
			return
		case frame, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(cn, frame)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			agg.Error(metrics.KindTransport)
			c.h.logger.Debug("connection error", "client", c.ordinal, "error", err)
			return
		case <-cn.tick():
			c.trade(cn)
		}
	}
}

// teardown stops trading before anything else so no action follows the close.
func (c *SimulatedClient) teardown(cn *connection) {
	if cn.ticker != nil {
		cn.ticker.Stop()
		cn.ticker = nil
	}
	c.setState(StateClosing)
	_ = cn.conn.Close()

	agg := c.h.agg
	agg.Closed()
	if cn.authenticated {
		agg.Disconnected()
	}
	if cn.joined != "" {
		c.h.join(cn.joined, -1)
		cn.joined = ""
	}

	c.mu.Lock()
	c.id = 0
	c.mu.Unlock()
}

func (c *SimulatedClient) handle(cn *connection, frame protocol.Frame) {
	agg := c.h.agg
	agg.Messages(1)

	msg, err := protocol.Decode(frame.Data)
	if err != nil {
		agg.Error(metrics.KindMalformed)
		return
	}

	switch msg.Action {
	case protocol.ActionAuthConfirmed:
		if cn.authenticated {
			return
		}
		c.authenticated(cn, msg.ID)
	case protocol.ActionSubscribeOK:
		if c.getState() != StateSubscribing {
			return
		}
		c.subscribed(cn)
	case protocol.ActionInfo:
		agg.ChannelMessage(msg.Channel)
		c.mu.Lock()
		own := c.id
		c.mu.Unlock()
		if msg.ID != own {
			agg.ChannelBroadcast(msg.Channel)
		}
		if msg.Value != nil {
			c.h.observe(msg.Channel, msg.Value.InexactFloat64(), msg.Volume)
		}
	}
}

func (c *SimulatedClient) authenticated(cn *connection, id protocol.ConnID) {
	cn.authenticated = true
	channel := c.h.cfg.Catalog.Pick(c.rng)

	c.mu.Lock()
	c.id = id
	c.retryCount = 0
	c.channel = channel
	c.mu.Unlock()
	c.h.agg.Connected()

	if !c.h.cfg.Profile.PubSub {
		c.subscribed(cn)
		return
	}

	c.setState(StateSubscribing)
	c.send(cn, protocol.Subscribe(channel))
}

// subscribed records the local subscription and starts operating.
func (c *SimulatedClient) subscribed(cn *connection) {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	cn.joined = channel
	c.h.join(channel, 1)

	if c.role != RoleTrader {
		c.setState(StateObserving)
		return
	}
	c.setState(StateTrading)
	if interval := c.h.cfg.Profile.TradeInterval(); interval > 0 {
		cn.ticker = c.h.clock.NewTicker(interval)
	}
}

func (c *SimulatedClient) trade(cn *connection) {
	action := protocol.ActionBuy
	if c.rng.IntN(2) == 1 {
		action = protocol.ActionSell
	}
	c.h.agg.ChannelMessage(cn.joined)
	c.send(cn, protocol.Trade(action, cn.joined))
}

func (c *SimulatedClient) send(cn *connection, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.h.logger.Error("encode", "client", c.ordinal, "error", err)
		return
	}
	if err := cn.conn.Send(data); err != nil {
		if errors.Is(err, protocol.ErrBackpressure) {
			c.h.agg.Dropped()
			return
		}
		c.h.logger.Debug("send failed", "client", c.ordinal, "action", msg.Action, "error", err)
		return
	}
	c.h.agg.Messages(1)
}
