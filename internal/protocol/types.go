package protocol

import (
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrBackpressure     = errors.New("outbound buffer full")
	ErrClosed           = errors.New("connection closed")
)

// Actions
const (
	ActionSubscribe     = "subscribe"
	ActionSubscribeOK   = "subscribe_ok"
	ActionAuthConfirmed = "auth_confirmed"
	ActionBuy           = "buy"
	ActionSell          = "sell"
	ActionInfo          = "info"
)

// ConnID identifies a server-side connection. IDs are assigned at open time
// and never reused.
type ConnID uint64

func (id ConnID) String() string {
	return "_" + strconv.FormatUint(uint64(id), 10)
}

// Message is a single wire frame. Unused fields are omitted when encoding.
type Message struct {
	Action       string           `json:"action,omitempty"`
	Channel      string           `json:"channel,omitempty"`
	Share        string           `json:"share,omitempty"`
	Value        *decimal.Decimal `json:"value,omitempty"`      // Rounded to 2 places
	Volume       int64            `json:"volume,omitempty"`     // Executed actions on the channel
	ChannelCount int              `json:"channelCnt,omitempty"` // Subscribers at admission
	ID           ConnID           `json:"id,omitempty"`         // Recipient (auth_confirmed) or originator (info)
}

// Frame wraps raw frame bytes with the local receive time.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// IsTrade reports whether the action mutates a channel price.
func IsTrade(action string) bool {
	return action == ActionBuy || action == ActionSell
}
