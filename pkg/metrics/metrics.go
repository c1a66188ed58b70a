// Package metrics defines the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersSubmitted counts mirror orders created, by side.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_orders_submitted_total",
		Help: "Total mirror orders submitted",
	}, []string{"side"})

	// OrdersFilled counts orders that reached filled or simulated.
	OrdersFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_orders_filled_total",
		Help: "Total mirror orders filled",
	})

	// OrdersFailed counts terminal failures by reason.
	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_orders_failed_total",
		Help: "Total mirror orders failed",
	}, []string{"reason"})

	// RiskRejections counts risk-gate rejections by reason.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_risk_rejections_total",
		Help: "Total source trades rejected by the risk gate",
	}, []string{"reason"})

	// SessionsActive tracks sessions currently in running state.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_sessions_active",
		Help: "Number of running copy-trade sessions",
	})

	// DatabaseConnectionsGauge tracks sql pool state.
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_database_connections",
		Help: "Database connection pool state",
	}, []string{"state"})
)
