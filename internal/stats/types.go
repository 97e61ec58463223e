package stats

import (
	"time"
)

// DefaultInterval is the reporting period.
const DefaultInterval = 5 * time.Second

// Config configures an Aggregator.
type Config struct {
	Role     string        // "server" or "client"; used as the metrics role label
	Interval time.Duration // Reporting period
	Symbols  []string      // Channels tracked per window

	// SkipWhen suppresses the report for a window. The window is reset anyway.
	SkipWhen func(Snapshot) bool
}

// ChannelGauge is the non-resetting state of one channel.
type ChannelGauge struct {
	Subscribers int
	Value       float64
	Volume      int64
}

// GaugeSource supplies per-channel gauges at report time.
type GaugeSource interface {
	ChannelGauges() map[string]ChannelGauge
}

// Reporter receives one snapshot per window.
type Reporter interface {
	Report(Snapshot)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Snapshot)

// Report calls f(s).
func (f ReporterFunc) Report(s Snapshot) { f(s) }

// ChannelSnapshot is one channel's line in a report.
type ChannelSnapshot struct {
	Symbol     string
	Messages   int64
	Broadcasts int64
	ChannelGauge
}

// Snapshot is the content of one closed window.
type Snapshot struct {
	Role    string
	At      time.Time
	Elapsed time.Duration

	Active       int64
	Opens        int64
	Closes       int64
	Errors       int64
	Drops        int64
	Messages     int64
	Transactions int64

	Channels []ChannelSnapshot

	Goroutines int
	HeapMB     uint64
}

// MessagesPerSecond returns the window's message rate.
func (s Snapshot) MessagesPerSecond() float64 {
	return perSecond(s.Messages, s.Elapsed)
}

// TransactionsPerSecond returns the window's trade rate.
func (s Snapshot) TransactionsPerSecond() float64 {
	return perSecond(s.Transactions, s.Elapsed)
}

// Subscribers sums subscribers across channels.
func (s Snapshot) Subscribers() int {
	total := 0
	for _, ch := range s.Channels {
		total += ch.Subscribers
	}
	return total
}

// Channel returns the line for a symbol.
func (s Snapshot) Channel(symbol string) (ChannelSnapshot, bool) {
	for _, ch := range s.Channels {
		if ch.Symbol == symbol {
			return ch, true
		}
	}
	return ChannelSnapshot{}, false
}

func perSecond(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// ServerIdle skips server reports with no trades and no drops.
func ServerIdle(s Snapshot) bool {
	return s.Transactions == 0 && s.Drops == 0
}

// ClientIdle skips client reports while nothing is subscribed.
func ClientIdle(s Snapshot) bool {
	return s.Subscribers() == 0
}
