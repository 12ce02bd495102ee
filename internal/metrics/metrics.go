// Package metrics declares the Prometheus collectors of the checkout core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkout"

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "orders", Name: "created_total",
		Help: "Orders persisted in PENDING.",
	})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "orders", Name: "transitions_total",
		Help: "Order status transitions by target status and result.",
	}, []string{"to", "result"})

	ReservationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "inventory", Name: "reservation_failures_total",
		Help: "Order creations aborted while reserving stock, by error code.",
	}, []string{"code"})

	InventoryInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "inventory", Name: "inconsistencies_total",
		Help: "Consume or release calls whose precondition did not hold.",
	})

	GatewayNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "gateway", Name: "notifications_total",
		Help: "Inbound gateway notifications by kind (ipn, return) and result code.",
	}, []string{"kind", "result"})

	ConfirmationTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "confirmation", Name: "tokens_total",
		Help: "Confirmation token operations by op (issue, redeem) and result.",
	}, []string{"op", "result"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "outbox", Name: "published_total",
		Help: "Outbox relay publish attempts by result.",
	}, []string{"result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latency by route pattern, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
