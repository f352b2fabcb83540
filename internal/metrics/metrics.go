package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spacehire"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of bookings created by type.",
		},
		[]string{"type"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Count of booking status transitions.",
		},
		[]string{"from", "to"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Count of rejected operations by conflict reason.",
		},
		[]string{"reason"},
	)

	timeChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_changes_total",
			Help:      "Count of time change proposals by outcome.",
		},
		[]string{"outcome"},
	)

	processorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_requests_total",
			Help:      "Count of payment processor calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	processorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_request_duration_seconds",
			Help:      "Latency of payment processor calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"op"},
	)

	payouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Count of payout attempts by final status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingCreated, bookingTransitions, conflicts, timeChanges,
			processorCalls, processorDuration, payouts, httpRequests)
	})
}

func IncBookingCreated(bookingType string) {
	bookingCreated.WithLabelValues(bookingType).Inc()
}

func IncTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

func IncConflict(reason string) {
	conflicts.WithLabelValues(reason).Inc()
}

func IncTimeChange(outcome string) {
	timeChanges.WithLabelValues(outcome).Inc()
}

// ObserveProcessor records one processor call.
func ObserveProcessor(op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	processorCalls.WithLabelValues(op, result).Inc()
	processorDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func IncPayout(status string) {
	payouts.WithLabelValues(status).Inc()
}

func IncHTTPRequest(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}
