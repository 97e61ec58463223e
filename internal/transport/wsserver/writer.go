package wsserver

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/wsstress/internal/exchange"
	"github.com/rickgao/wsstress/internal/protocol"
)

// peer is one accepted connection. Only the writer goroutine writes to conn.
type peer struct {
	conn    *websocket.Conn
	cfg     Config
	clock   clockwork.Clock
	session *exchange.Session

	sendCh   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newPeer(conn *websocket.Conn, cfg Config, clock clockwork.Clock) *peer {
	p := &peer{
		conn:   conn,
		cfg:    cfg,
		clock:  clock,
		sendCh: make(chan []byte, cfg.WriteBuffer),
		done:   make(chan struct{}),
	}
	p.configurePongHandler()
	p.wg.Add(1)
	go p.run()
	return p
}

// Send implements exchange.Peer. It never blocks; a full buffer drops data.
func (p *peer) Send(data []byte) error {
	select {
	case <-p.done:
		return protocol.ErrClosed
	default:
	}
	select {
	case p.sendCh <- data:
		return nil
	default:
		if p.session != nil {
			p.session.Dropped()
		}
		return protocol.ErrBackpressure
	}
}

func (p *peer) run() {
	ticker := p.clock.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.sendCh:
			p.updateWriteDeadline()
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Unblocks the reader
				_ = p.conn.Close()
				return
			}
		case <-ticker.Chan():
			p.updateWriteDeadline()
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = p.conn.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
	p.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (p *peer) stopGraceful(reason string) {
	p.stopOnce.Do(func() {
		close(p.done)
		// The writer must exit before we write the close frame.
		p.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		p.updateWriteDeadline()
		_ = p.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = p.conn.Close()
	})
	p.wg.Wait()
}

func (p *peer) configurePongHandler() {
	p.updateReadDeadline()
	p.conn.SetPongHandler(func(string) error {
		p.updateReadDeadline()
		return nil
	})
}

func (p *peer) updateWriteDeadline() {
	_ = p.conn.SetWriteDeadline(p.clock.Now().Add(p.cfg.WriteWait))
}

func (p *peer) updateReadDeadline() {
	_ = p.conn.SetReadDeadline(p.clock.Now().Add(p.cfg.PongWait))
}
