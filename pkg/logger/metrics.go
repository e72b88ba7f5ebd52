package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the square-off engine.
// Registered via promauto; exposed on each service's health port.

var (
	TicksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squareoff_ticks_processed_total",
			Help: "Total number of price ticks evaluated",
		},
	)

	RulesTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squareoff_rules_triggered_total",
			Help: "Total number of rule triggers",
		},
		[]string{"breach"},
	)

	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squareoff_orders_total",
			Help: "Total number of square-off order attempts by result",
		},
		[]string{"result"},
	)

	CacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squareoff_rule_cache_refreshes_total",
			Help: "Total number of rule cache refreshes by result",
		},
		[]string{"result"},
	)

	CachedRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "squareoff_cached_rules",
			Help: "Number of rules in the current cache snapshot",
		},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squareoff_feed_reconnects_total",
			Help: "Total number of market feed reconnect attempts",
		},
	)

	AuditRecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squareoff_audit_records_dropped_total",
			Help: "Total number of audit records dropped due to a full write queue",
		},
	)
)
