package exchange

import (
	"fmt"
	"sync"

	"github.com/rickgao/wsstress/internal/metrics"
	"github.com/rickgao/wsstress/internal/protocol"
)

// Session is one registered connection. Handle must be called from a single
// goroutine per session so actions are processed in arrival order.
type Session struct {
	id     protocol.ConnID
	peer   Peer
	engine *Engine

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

// ID returns the connection id assigned at open.
func (s *Session) ID() protocol.ConnID {
	return s.id
}

// Subscriptions returns the channels the session belongs to.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for name := range s.channels {
		out = append(out, name)
	}
	return out
}

// Handle processes one inbound frame. The returned error describes why a
// frame was rejected; it never means the connection should be closed.
func (s *Session) Handle(data []byte) error {
	e := s.engine
	e.agg.Messages(1)

	msg, err := protocol.Decode(data)
	if err != nil {
		e.agg.Error(metrics.KindMalformed)
		return err
	}

	switch {
	case msg.Action == protocol.ActionSubscribe:
		if msg.Channel == "" {
			e.agg.Error(metrics.KindMalformed)
			return fmt.Errorf("%w: subscribe without channel", protocol.ErrMalformedMessage)
		}
		return e.subscribe(s, msg.Channel)
	case protocol.IsTrade(msg.Action):
		if msg.Channel == "" {
			e.agg.Error(metrics.KindMalformed)
			return fmt.Errorf("%w: %s without channel", protocol.ErrMalformedMessage, msg.Action)
		}
		return e.trade(s, msg.Action, msg.Channel)
	default:
		e.agg.Error(metrics.KindMalformed)
		return fmt.Errorf("%w: unknown action %q", protocol.ErrMalformedMessage, msg.Action)
	}
}

// Dropped records an outbound message lost to backpressure.
func (s *Session) Dropped() {
	s.engine.agg.Dropped()
}

// Error records a transport error. It does not close the session.
func (s *Session) Error(err error) {
	s.engine.agg.Error(metrics.KindTransport)
	s.engine.logger.Debug("connection error", "conn_id", s.id, "error", err)
}

// Close unregisters the session. It is safe to call more than once.
func (s *Session) Close() {
	s.engine.Close(s.id)
}

func (s *Session) reply(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.engine.logger.Error("encode reply", "conn_id", s.id, "error", err)
		return
	}
	s.send(data)
}

// send delivers a direct frame. Drops are counted by the transport.
func (s *Session) send(data []byte) {
	if err := s.peer.Send(data); err != nil {
		s.engine.logger.Debug("direct send failed", "conn_id", s.id, "error", err)
		return
	}
	s.engine.agg.Messages(1)
}
