package stats

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// LogReporter renders snapshots as structured log lines: one summary line
// followed by one line per channel.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger.With("component", "stats")}
}

// Report implements Reporter.
func (r *LogReporter) Report(s Snapshot) {
	r.logger.Info("stats",
		"role", s.Role,
		"active", s.Active,
		"opens", s.Opens,
		"closes", s.Closes,
		"errors", s.Errors,
		"drops", s.Drops,
		"messages", s.Messages,
		"msg_per_sec", round(s.MessagesPerSecond(), 1),
		"transactions", s.Transactions,
		"tx_per_sec", round(s.TransactionsPerSecond(), 1),
		"goroutines", s.Goroutines,
		"heap_mb", s.HeapMB,
	)
	for _, ch := range s.Channels {
		r.logger.Info("channel",
			"role", s.Role,
			"symbol", ch.Symbol,
			"subscribers", ch.Subscribers,
			"messages", ch.Messages,
			"broadcasts", ch.Broadcasts,
			"value", round(ch.Value, 2),
			"volume", ch.Volume,
		)
	}
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
