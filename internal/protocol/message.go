package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// pricePlaces is the display precision used for prices on the wire.
const pricePlaces = 2

// Decode parses a frame. A frame without an action is malformed.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Action == "" {
		return Message{}, fmt.Errorf("%w: missing action", ErrMalformedMessage)
	}
	return msg, nil
}

// Encode marshals a frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Action, err)
	}
	return data, nil
}

// Price converts an engine price to its wire representation.
func Price(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v).Round(pricePlaces)
	return &d
}

// AuthConfirmed builds the acknowledgment sent once per connection.
func AuthConfirmed(id ConnID) Message {
	return Message{Action: ActionAuthConfirmed, ID: id}
}

// SubscribeOK builds the subscription confirmation.
func SubscribeOK(id ConnID, channel string, count int) Message {
	return Message{Action: ActionSubscribeOK, Channel: channel, ChannelCount: count, ID: id}
}

// Info builds the price snapshot sent after a trade.
func Info(origin ConnID, channel, share string, value float64, volume int64) Message {
	return Message{
		Action:  ActionInfo,
		Channel: channel,
		Share:   share,
		Value:   Price(value),
		Volume:  volume,
		ID:      origin,
	}
}

// Subscribe builds a client subscription request.
func Subscribe(channel string) Message {
	return Message{Action: ActionSubscribe, Channel: channel, Share: channel}
}

// Trade builds a client buy or sell request.
func Trade(action, channel string) Message {
	return Message{Action: action, Channel: channel, Share: channel}
}
