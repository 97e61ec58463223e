package harness

import (
	"fmt"
	"time"
)

// Profile is the load shape of a run.
type Profile struct {
	Name          string  `yaml:"name"`
	Description   string  `yaml:"description"`
	NumClients    int     `yaml:"num_clients"`
	ActiveTraders int     `yaml:"active_traders"`
	TradeFreq     float64 `yaml:"trade_freq"` // Actions per second per trader
	PubSub        bool    `yaml:"pubsub"`
}

// TradeInterval returns the period between two actions of one trader.
func (p Profile) TradeInterval() time.Duration {
	if p.TradeFreq <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / p.TradeFreq)
}

// Validate checks the profile.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.NumClients < 1 {
		return fmt.Errorf("profile %s: num_clients must be >= 1, got %d", p.Name, p.NumClients)
	}
	if p.ActiveTraders < 0 || p.ActiveTraders > p.NumClients {
		return fmt.Errorf("profile %s: active_traders must be between 0 and num_clients, got %d", p.Name, p.ActiveTraders)
	}
	if p.ActiveTraders > 0 && p.TradeFreq <= 0 {
		return fmt.Errorf("profile %s: trade_freq must be > 0 when active_traders > 0", p.Name)
	}
	return nil
}

// BuiltinProfiles returns the standard stress set.
func BuiltinProfiles() []Profile {
	return []Profile{
		{Name: "single", Description: "1 client, 1 trade/s", NumClients: 1, ActiveTraders: 1, TradeFreq: 1},
		{Name: "clients_5", Description: "5 clients, 2 trades/s, up to 10 messages/s", NumClients: 5, ActiveTraders: 2, TradeFreq: 1, PubSub: true},
		{Name: "clients_50", Description: "50 clients, 5 trades/s, up to 250 messages/s", NumClients: 50, ActiveTraders: 5, TradeFreq: 1, PubSub: true},
		{Name: "clients_200", Description: "200 clients, 100 trades/s, up to 20,000 messages/s", NumClients: 200, ActiveTraders: 50, TradeFreq: 2, PubSub: true},
		{Name: "clients_500", Description: "500 clients, 1,000 trades/s, up to 500,000 messages/s", NumClients: 500, ActiveTraders: 50, TradeFreq: 20, PubSub: true},
		{Name: "clients_1000", Description: "1000 clients, 4,000 trades/s, up to 4,000,000 messages/s", NumClients: 1000, ActiveTraders: 200, TradeFreq: 20, PubSub: true},
		{Name: "clients_2000", Description: "2000 clients, 8,000 trades/s, up to 16,000,000 messages/s", NumClients: 2000, ActiveTraders: 400, TradeFreq: 20, PubSub: true},
		{Name: "clients_3000", Description: "3000 clients, 12,000 trades/s, up to 36,000,000 messages/s", NumClients: 3000, ActiveTraders: 600, TradeFreq: 20, PubSub: true},
		{Name: "clients_50_direct", Description: "50 clients, 10 trades/s (direct)", NumClients: 50, ActiveTraders: 10, TradeFreq: 1},
		{Name: "clients_2000_direct", Description: "2000 clients, 5,000 trades/s (direct)", NumClients: 2000, ActiveTraders: 100, TradeFreq: 50},
		{Name: "clients_3000_direct", Description: "3000 clients, 10,000 trades/s (direct)", NumClients: 3000, ActiveTraders: 200, TradeFreq: 50},
		{Name: "clients_6000_direct", Description: "6000 clients, 50,000 trades/s (direct)", NumClients: 6000, ActiveTraders: 1000, TradeFreq: 50},
	}
}

// LookupProfile finds a profile by name.
func LookupProfile(profiles []Profile, name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
