// Package metrics holds the Prometheus collectors for checkout and coupon
// operations. Collectors register on the default registry served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kart"

var (
	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_operations_total",
			Help:      "Total number of order operations by outcome.",
		},
		[]string{"operation", "status"},
	)

	orderOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_operation_duration_seconds",
			Help:      "Duration of order operations.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	couponOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_outcomes_total",
			Help:      "Coupon applications by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	notificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the queue was full or a sink failed.",
		},
		[]string{"reason"},
	)
)

// Operation names.
const (
	OpCreateOrder = "create_order"
	OpDeleteOrder = "delete_order"
	OpUpdateOrder = "update_order"
)

// RecordOrderOperation counts an order operation and observes its duration.
func RecordOrderOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	orderOperations.WithLabelValues(operation, status).Inc()
	orderOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordCouponOutcome counts a coupon application. Outcome is "applied" or
// the rejection reason.
func RecordCouponOutcome(mode, outcome string) {
	couponOutcomes.WithLabelValues(mode, outcome).Inc()
}

// RecordNotificationDrop counts a notification that never reached a sink.
func RecordNotificationDrop(reason string) {
	notificationsDropped.WithLabelValues(reason).Inc()
}
