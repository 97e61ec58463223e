package harness

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rickgao/wsstress/internal/protocol"
)

// Defaults
const (
	DefaultRampWindow      = 10 * time.Second
	DefaultReconnectJitter = 3 * time.Second
	DefaultReconnectStep   = 2 * time.Second
)

// Conn is one client connection as seen by a simulated client.
//
// Messages is closed when the connection ends. Errors carries transport
// errors; any error ends the connection.
type Conn interface {
	Send(data []byte) error
	Messages() <-chan protocol.Frame
	Errors() <-chan error
	Close() error
}

// Dialer opens authenticated client connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Role is fixed per client at creation.
type Role int

const (
	RoleObserver Role = iota
	RoleTrader
)

func (r Role) String() string {
	if r == RoleTrader {
		return "trader"
	}
	return "observer"
}

// State is a simulated client's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateTrading
	StateObserving
	StateClosing
	StateReconnecting
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateSubscribing:    "subscribing",
	StateTrading:        "trading",
	StateObserving:      "observing",
	StateClosing:        "closing",
	StateReconnecting:   "reconnecting",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ClientInfo is a snapshot of one simulated client.
type ClientInfo struct {
	Ordinal    int
	Role       Role
	State      State
	ID         protocol.ConnID
	Channel    string
	RetryCount int
}

// Backoff returns the reconnect delay after retry failed attempts:
// uniform jitter in [0, jitter) plus retry*step.
func Backoff(retry int, jitter, step time.Duration, rng *rand.Rand) time.Duration {
	d := time.Duration(retry) * step
	if jitter > 0 {
		d += time.Duration(rng.Int64N(int64(jitter)))
	}
	return d
}
