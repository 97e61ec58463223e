package exchange

import (
	"sync"

	"github.com/rickgao/wsstress/internal/protocol"
)

type channel struct {
	symbol string

	mu     sync.Mutex
	value  float64
	volume int64
	subs   map[protocol.ConnID]struct{}
}

func newChannel(symbol string, price float64) *channel {
	return &channel{
		symbol: symbol,
		value:  price,
		subs:   make(map[protocol.ConnID]struct{}),
	}
}

// apply mutates the price for one action. Caller holds mu.
func (c *channel) apply(action string) {
	if action == protocol.ActionBuy {
		c.value *= BuyFactor
	} else {
		c.value *= SellFactor
	}
	c.volume++
}

func (c *channel) state() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelState{
		Symbol:      c.symbol,
		Value:       c.value,
		Volume:      c.volume,
		Subscribers: len(c.subs),
	}
}
