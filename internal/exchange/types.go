package exchange

import (
	"errors"

	"github.com/rickgao/wsstress/internal/protocol"
)

// Price multipliers applied per executed action.
const (
	BuyFactor  = 1.001
	SellFactor = 0.999
)

// ErrAlreadySubscribed is returned for a repeated subscribe on the same channel.
var ErrAlreadySubscribed = errors.New("already subscribed")

// Capabilities describes transport behavior the engine must account for.
type Capabilities struct {
	// PublishIncludesSender is true when a channel publish is also delivered
	// to the originating connection if it is subscribed.
	PublishIncludesSender bool
}

// Peer is the reply side of one connection.
type Peer interface {
	// Send queues data for delivery. It must not block.
	Send(data []byte) error
}

// Fanout is the channel side of a server transport.
type Fanout interface {
	Subscribe(id protocol.ConnID, channel string) error
	Unsubscribe(id protocol.ConnID, channel string)
	// Publish delivers data to the channel's members and returns how many
	// deliveries were queued. Members whose buffers are full are skipped.
	Publish(channel string, data []byte, origin protocol.ConnID) int
	Capabilities() Capabilities
}

// Config configures admission.
type Config struct {
	Secret    string // Shared secret expected in the handshake
	Namespace string // Required namespace; empty accepts any
}

// ChannelState is a point-in-time view of one channel.
type ChannelState struct {
	Symbol      string  `json:"symbol"`
	Value       float64 `json:"value"`
	Volume      int64   `json:"volume"`
	Subscribers int     `json:"subscribers"`
}

// nopFanout is used until a transport binds. Publishing reaches nobody.
type nopFanout struct{}

func (nopFanout) Subscribe(protocol.ConnID, string) error     { return nil }
func (nopFanout) Unsubscribe(protocol.ConnID, string)         {}
func (nopFanout) Publish(string, []byte, protocol.ConnID) int { return 0 }
func (nopFanout) Capabilities() Capabilities                  { return Capabilities{} }
