package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Order ledger metrics
	// ============================================
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmarket_orders_created_total",
		Help: "Total number of escrow orders created",
	})

	OrdersSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botmarket_orders_settled_total",
			Help: "Total number of orders that reached a terminal state",
		},
		[]string{"status"},
	)

	PayoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmarket_payout_failures_total",
		Help: "Total number of payout transfers that failed after the terminal transition",
	})

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botmarket_settlement_duration_seconds",
			Help:    "Settlement operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ============================================
	// Deposit intake metrics
	// ============================================
	DepositsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmarket_deposits_processed_total",
		Help: "Total number of chain deposit events credited to custody balances",
	})

	DepositsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmarket_deposits_duplicate_total",
		Help: "Total number of chain deposit events skipped as already processed",
	})

	DepositsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmarket_deposits_failed_total",
		Help: "Total number of chain deposit events that failed to process",
	})

	// ============================================
	// NATS connection and event metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "botmarket_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botmarket_events_published_total",
			Help: "Total number of settlement events published",
		},
		[]string{"event_type"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botmarket_event_publish_failures_total",
			Help: "Total number of settlement events that failed to publish",
		},
		[]string{"event_type"},
	)

	// ============================================
	// WebSocket push metrics
	// ============================================
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "botmarket_websocket_clients",
		Help: "Number of connected websocket event subscribers",
	})
)
