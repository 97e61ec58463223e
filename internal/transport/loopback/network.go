package loopback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/wsstress/internal/exchange"
	"github.com/rickgao/wsstress/internal/harness"
	"github.com/rickgao/wsstress/internal/protocol"
)

// DefaultBuffer is the per-direction frame buffer of a connection.
const DefaultBuffer = 256

// Options configures a Network.
type Options struct {
	Token         string // Credential presented on Dial
	Namespace     string
	Buffer        int
	IncludeSender bool // Publishes reach the originating connection too
}

// Network is an in-process transport: exchange.Fanout on the server side,
// harness.Dialer on the client side.
type Network struct {
	engine *exchange.Engine
	opts   Options

	mu      sync.RWMutex
	conns   map[protocol.ConnID]*Conn
	members map[string]map[protocol.ConnID]*Conn

	wg sync.WaitGroup
}

// New creates a Network and binds it to engine.
func New(engine *exchange.Engine, opts Options) *Network {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	n := &Network{
		engine:  engine,
		opts:    opts,
		conns:   make(map[protocol.ConnID]*Conn),
		members: make(map[string]map[protocol.ConnID]*Conn),
	}
	engine.Bind(n)
	return n
}

// Dial implements harness.Dialer.
func (n *Network) Dial(ctx context.Context) (harness.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !n.engine.Authenticate(n.opts.Namespace, n.opts.Token) {
		return nil, fmt.Errorf("dial loopback: %w", protocol.ErrAuthRejected)
	}

	c := &Conn{
		inbound:  make(chan protocol.Frame, n.opts.Buffer),
		outbound: make(chan []byte, n.opts.Buffer),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	session := n.engine.Open(serverPeer{c})

	n.mu.Lock()
	c.session = session
	n.conns[session.ID()] = c
	n.mu.Unlock()

	n.wg.Add(1)
	go n.serve(c)
	return c, nil
}

// serve is the server side of one connection.
func (n *Network) serve(c *Conn) {
	defer n.wg.Done()
	defer func() {
		c.session.Close()
		n.mu.Lock()
		delete(n.conns, c.session.ID())
		n.mu.Unlock()
		c.finish()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			_ = c.session.Handle(data)
		}
	}
}

// Kick closes a connection from the server side.
func (n *Network) Kick(id protocol.ConnID) bool {
	n.mu.RLock()
	c, ok := n.conns[id]
	n.mu.RUnlock()
	if ok {
		_ = c.Close()
	}
	return ok
}

// Fail reports err on a connection and closes it, as a transport error would.
func (n *Network) Fail(id protocol.ConnID, err error) bool {
	n.mu.RLock()
	c, ok := n.conns[id]
	n.mu.RUnlock()
	if ok {
		select {
		case c.errs <- err:
		default:
		}
		_ = c.Close()
	}
	return ok
}

// Connections returns the number of open connections.
func (n *Network) Connections() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

// Close closes every connection and waits for their server sides to exit.
func (n *Network) Close() {
	n.mu.RLock()
	conns := make([]*Conn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	n.wg.Wait()
}

// Subscribe implements exchange.Fanout.
func (n *Network) Subscribe(id protocol.ConnID, channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.conns[id]
	if !ok {
		return protocol.ErrClosed
	}
	set := n.members[channel]
	if set == nil {
		set = make(map[protocol.ConnID]*Conn)
		n.members[channel] = set
	}
	set[id] = c
	return nil
}

// Unsubscribe implements exchange.Fanout.
func (n *Network) Unsubscribe(id protocol.ConnID, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if set := n.members[channel]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(n.members, channel)
		}
	}
}

// Publish implements exchange.Fanout.
func (n *Network) Publish(channel string, data []byte, origin protocol.ConnID) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	delivered := 0
	for id, c := range n.members[channel] {
		if id == origin && !n.opts.IncludeSender {
			continue
		}
		if (serverPeer{c}).Send(data) == nil {
			delivered++
		}
	}
	return delivered
}

// Capabilities implements exchange.Fanout.
func (n *Network) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{PublishIncludesSender: n.opts.IncludeSender}
}

// Conn is the client side of a loopback connection.
type Conn struct {
	session *exchange.Session

	inbound  chan protocol.Frame
	outbound chan []byte
	errs     chan error

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	finished bool
}

// Send queues a frame for the server. A full buffer drops it.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return protocol.ErrClosed
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	default:
		return protocol.ErrBackpressure
	}
}

// Messages returns frames from the server. It is closed when the
// connection ends.
func (c *Conn) Messages() <-chan protocol.Frame {
	return c.inbound
}

// Errors returns transport errors.
func (c *Conn) Errors() <-chan error {
	return c.errs
}

// Close ends the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// finish closes the inbound channel once no server write can follow.
func (c *Conn) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finished {
		c.finished = true
		close(c.inbound)
	}
}

// serverPeer is the server's write side of a Conn.
type serverPeer struct {
	c *Conn
}

func (p serverPeer) Send(data []byte) error {
	c := p.c
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.finished {
		return protocol.ErrClosed
	}
	select {
	case c.inbound <- protocol.Frame{Data: data, ReceivedAt: time.Now()}:
		return nil
	default:
		if c.session != nil {
			c.session.Dropped()
		}
		return protocol.ErrBackpressure
	}
}
