package wsserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/wsstress/internal/exchange"
	"github.com/rickgao/wsstress/internal/protocol"
)

// Server accepts exchange connections and implements exchange.Fanout.
type Server struct {
	engine   *exchange.Engine
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	peers   map[protocol.ConnID]*peer
	members map[string]map[protocol.ConnID]*peer
	closing bool

	wg sync.WaitGroup
}

// New creates a Server and binds it to engine.
func New(engine *exchange.Engine, cfg Config, clock clockwork.Clock, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine: engine,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "wsserver"),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{protocol.TokenProtocol},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		peers:   make(map[protocol.ConnID]*peer),
		members: make(map[string]map[protocol.ConnID]*peer),
	}
	engine.Bind(s)
	return s
}

// ServeHTTP authenticates and upgrades the request, then reads frames until
// the connection ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred, _ := protocol.CredentialFromProtocols(websocket.Subprotocols(r))
	if !s.engine.Authenticate(protocol.Namespace(r.URL.Path), cred) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()
	if closing {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	s.wg.Add(1)
	defer s.wg.Done()

	p := newPeer(conn, s.cfg, s.clock)
	session := s.engine.Open(p)
	p.session = session

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		session.Close()
		p.stopGraceful("server shutting down")
		return
	}
	s.peers[session.ID()] = p
	s.mu.Unlock()

	defer func() {
		session.Close()
		s.mu.Lock()
		delete(s.peers, session.ID())
		s.mu.Unlock()
		p.stop()
	}()

	s.readLoop(p, session)
}

func (s *Server) readLoop(p *peer, session *exchange.Session) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					session.Error(err)
				}
			}
			return
		}
		if err := session.Handle(data); err != nil {
			s.logger.Debug("frame rejected", "conn_id", session.ID(), "error", err)
		}
	}
}

// Subscribe implements exchange.Fanout.
func (s *Server) Subscribe(id protocol.ConnID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return protocol.ErrClosed
	}
	set := s.members[channel]
	if set == nil {
		set = make(map[protocol.ConnID]*peer)
		s.members[channel] = set
	}
	set[id] = p
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

// Publish implements exchange.Fanout. The origin never receives its own publish.
func (s *Server) Publish(channel string, data []byte, origin protocol.ConnID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id, p := range s.members[channel] {
		if id == origin {
			continue
		}
		if p.Send(data) == nil {
			n++
		}
	}
	return n
}

// Capabilities implements exchange.Fanout.
func (s *Server) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{PublishIncludesSender: false}
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Shutdown refuses new connections, sends a close frame to every open one and
// waits for their handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.stopGraceful("server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
