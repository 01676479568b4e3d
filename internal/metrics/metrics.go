package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scheduling"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	slotsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "created_total",
			Help:      "Slots materialized, by origin (single or recurring).",
		},
		[]string{"origin"},
	)

	recurringSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "recurring_skipped_total",
			Help:      "Recurring candidate dates skipped because they overlapped an existing slot.",
		},
	)

	slotConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "conflicts_total",
			Help:      "Slot writes rejected by the overlap or booked/past guards.",
		},
		[]string{"reason"},
	)

	requestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "transitions_total",
			Help:      "Appointment request state transitions.",
		},
		[]string{"to", "actor"},
	)

	reservationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "reservation_conflicts_total",
			Help:      "Acceptances that lost the slot reservation race.",
		},
	)

	notificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "delivery_failures_total",
			Help:      "Transition events or activity entries that could not be delivered.",
		},
		[]string{"sink"},
	)

	grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC requests handled.",
		},
		[]string{"method", "code"},
	)

	grpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of gRPC requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method"},
	)
)

func init() {
	Registry.MustRegister(
		slotsCreated,
		recurringSkipped,
		slotConflicts,
		requestTransitions,
		reservationConflicts,
		notificationFailures,
		grpcRequests,
		grpcDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordSlotsCreated(origin string, n int) {
	if n <= 0 {
		return
	}
	slotsCreated.WithLabelValues(origin).Add(float64(n))
}

func RecordRecurringSkipped(n int) {
	if n <= 0 {
		return
	}
	recurringSkipped.Add(float64(n))
}

func RecordSlotConflict(reason string) {
	slotConflicts.WithLabelValues(reason).Inc()
}

func RecordTransition(to, actor string) {
	requestTransitions.WithLabelValues(to, actor).Inc()
}

func RecordReservationConflict() {
	reservationConflicts.Inc()
}

func RecordDeliveryFailure(sink string) {
	notificationFailures.WithLabelValues(sink).Inc()
}

// RecordGRPCRequest records one finished unary call.
func RecordGRPCRequest(method, code string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	grpcRequests.WithLabelValues(method, code).Inc()
	grpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}
