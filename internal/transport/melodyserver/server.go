package melodyserver

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/olahol/melody"

	"github.com/rickgao/wsstress/internal/exchange"
	"github.com/rickgao/wsstress/internal/protocol"
)

const sessionKey = "exchange.session"

// Config tunes melody's per-session buffering and keepalive.
type Config struct {
	WriteBuffer    int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// Server accepts exchange connections through melody and implements
// exchange.Fanout.
type Server struct {
	engine *exchange.Engine
	m      *melody.Melody
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[protocol.ConnID]*melody.Session
	members  map[string]map[protocol.ConnID]*melody.Session
}

// New creates a Server and binds it to engine. Zero config fields keep
// melody's defaults.
func New(engine *exchange.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	m := melody.New()
	if cfg.WriteBuffer > 0 {
		m.Config.MessageBufferSize = cfg.WriteBuffer
	}
	if cfg.PingInterval > 0 {
		m.Config.PingPeriod = cfg.PingInterval
	}
	if cfg.PongWait > 0 {
		m.Config.PongWait = cfg.PongWait
	}
	if cfg.WriteWait > 0 {
		m.Config.WriteWait = cfg.WriteWait
	}
	if cfg.MaxMessageSize > 0 {
		m.Config.MaxMessageSize = cfg.MaxMessageSize
	}
	m.Upgrader.Subprotocols = []string{protocol.TokenProtocol}
	m.Upgrader.CheckOrigin = func(r *http.Request) bool { return true }

	s := &Server{
		engine:   engine,
		m:        m,
		logger:   logger.With("component", "melodyserver"),
		sessions: make(map[protocol.ConnID]*melody.Session),
		members:  make(map[string]map[protocol.ConnID]*melody.Session),
	}

	m.HandleConnect(s.handleConnect)
	m.HandleMessage(s.handleMessage)
	m.HandleDisconnect(s.handleDisconnect)
	m.HandleError(s.handleError)

	engine.Bind(s)
	return s
}

// ServeHTTP authenticates the request before handing it to melody.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred, _ := protocol.CredentialFromProtocols(websocket.Subprotocols(r))
	if !s.engine.Authenticate(protocol.Namespace(r.URL.Path), cred) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if err := s.m.HandleRequest(w, r); err != nil {
		s.logger.Debug("upgrade failed", "error", err)
	}
}

// peer adapts a melody session to exchange.Peer. Buffer overflows are
// reported asynchronously through HandleError.
type peer struct {
	ms *melody.Session
}

func (p peer) Send(data []byte) error {
	if err := p.ms.Write(data); err != nil {
		return protocol.ErrClosed
	}
	return nil
}

func (s *Server) handleConnect(ms *melody.Session) {
	session := s.engine.Open(peer{ms: ms})
	ms.Set(sessionKey, session)

	s.mu.Lock()
	s.sessions[session.ID()] = ms
	s.mu.Unlock()
}

func (s *Server) handleMessage(ms *melody.Session, data []byte) {
	session, ok := sessionOf(ms)
	if !ok {
		return
	}
	if err := session.Handle(data); err != nil {
		s.logger.Debug("frame rejected", "conn_id", session.ID(), "error", err)
	}
}

func (s *Server) handleDisconnect(ms *melody.Session) {
	session, ok := sessionOf(ms)
	if !ok {
		return
	}
	session.Close()

	s.mu.Lock()
	delete(s.sessions, session.ID())
	s.mu.Unlock()
}

func (s *Server) handleError(ms *melody.Session, err error) {
	session, ok := sessionOf(ms)
	if !ok {
		return
	}
	switch {
	case errors.Is(err, melody.ErrMessageBufferFull):
		session.Dropped()
	case errors.Is(err, melody.ErrWriteClosed), errors.Is(err, melody.ErrSessionClosed):
		// Late write to a closing session
	default:
		session.Error(err)
	}
}

func sessionOf(ms *melody.Session) (*exchange.Session, bool) {
	v, ok := ms.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*exchange.Session)
	return session, ok
}

// Subscribe implements exchange.Fanout.
func (s *Server) Subscribe(id protocol.ConnID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.sessions[id]
	if !ok {
		return protocol.ErrClosed
	}
	set := s.members[channel]
	if set == nil {
		set = make(map[protocol.ConnID]*melody.Session)
		s.members[channel] = set
	}
	set[id] = ms
	return nil
}

// Unsubscribe implements exchange.Fanout.
func (s *Server) Unsubscribe(id protocol.ConnID, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.members[channel]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.members, channel)
		}
	}
}

// Publish implements exchange.Fanout. Every member receives the frame,
// including the origin. Members melody has already closed are skipped and
// not counted.
func (s *Server) Publish(channel string, data []byte, origin protocol.ConnID) int {
	s.mu.RLock()
	targets := make([]*melody.Session, 0, len(s.members[channel]))
	for _, ms := range s.members[channel] {
		targets = append(targets, ms)
	}
	s.mu.RUnlock()

	delivered := 0
	for _, ms := range targets {
		if err := ms.Write(data); err != nil {
			s.logger.Debug("skipping closed member", "channel", channel, "origin", origin, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Capabilities implements exchange.Fanout.
func (s *Server) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{PublishIncludesSender: true}
}

// Connections returns the number of open melody sessions.
func (s *Server) Connections() int {
	return s.m.Len()
}

// Shutdown closes every session with a going-away frame.
func (s *Server) Shutdown() error {
	return s.m.CloseWithMsg(melody.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}
