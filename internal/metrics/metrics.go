package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Roles used as the "role" label.
const (
	RoleServer = "server"
	RoleClient = "client"
)

// Error kinds used as the "kind" label.
const (
	KindMalformed      = "malformed"
	KindUnknownChannel = "unknown_channel"
	KindTransport      = "transport"
	KindDial           = "dial"
)

// Connection Metrics
var (
	// ConnectionsOpened tracks connections opened per role
	ConnectionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsstress_connections_opened_total",
			Help: "Total connections opened",
		},
		[]string{"role"},
	)

	// ConnectionsClosed tracks connections closed per role
	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsstress_connections_closed_total",
			Help: "Total connections closed",
		},
		[]string{"role"},
	)

	// ConnectionsActive tracks currently authenticated connections
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsstress_connections_active",
			Help: "Currently authenticated connections",
		},
		[]string{"role"},
	)

	// AuthRejected tracks upgrade attempts refused for a bad credential
	AuthRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsstress_auth_rejected_total",
			Help: "Total connection attempts refused with 401",
		},
	)

	// ErrorsTotal tracks errors by role and kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsstress_errors_total",
			Help: "Total errors by role and kind",
		},
		[]string{"role", "kind"},
	)

	// MessagesDropped tracks outbound messages lost to backpressure
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsstress_messages_dropped_total",
			Help: "Total outbound messages dropped because the peer buffer was full",
		},
		[]string{"role"},
	)

	// MessagesTotal tracks frames processed (received and sent) per role
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsstress_messages_total",
			Help: "Total frames received and sent",
		},
		[]string{"role"},
	)
)

// Exchange Metrics
var (
	// TradesTotal tracks executed buy/sell actions
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsstress_trades_total",
			Help: "Total executed trades by channel and action",
		},
		[]string{"channel", "action"},
	)

	// ChannelPrice tracks the current channel price
	ChannelPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsstress_channel_price",
			Help: "Current channel price",
		},
		[]string{"channel"},
	)

	// ChannelSubscribers tracks subscribers per channel as seen by each role
	ChannelSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsstress_channel_subscribers",
			Help: "Current subscribers per channel",
		},
		[]string{"role", "channel"},
	)

	// BroadcastFanout tracks recipients per broadcast
	BroadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wsstress_broadcast_fanout",
			Help:    "Recipients per channel broadcast",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
)

// Harness Metrics
var (
	// ReconnectsTotal tracks reconnect attempts scheduled by the harness
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsstress_harness_reconnects_total",
			Help: "Total reconnect attempts scheduled",
		},
	)

	// ClientStates tracks simulated clients per state
	ClientStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsstress_harness_client_states",
			Help: "Simulated clients per state",
		},
		[]string{"state"},
	)
)
