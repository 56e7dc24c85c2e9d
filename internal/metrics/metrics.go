package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eticket_reservations_total",
			Help: "Reservation attempts by result",
		},
		[]string{"result"},
	)

	releases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eticket_reservation_releases_total",
			Help: "Released reservations by reason",
		},
		[]string{"reason"},
	)

	confirmations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eticket_reservation_confirmations_total",
			Help: "Reservations confirmed after payment",
		},
	)

	paymentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eticket_payment_outcomes_total",
			Help: "Payment outcomes by provider",
		},
		[]string{"provider", "outcome"},
	)

	paymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eticket_payment_duration_seconds",
			Help:    "Time spent waiting for a payment outcome",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"provider"},
	)

	reconciliationAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eticket_reconciliation_alerts_total",
			Help: "Payments that succeeded without a live reservation",
		},
		[]string{"provider"},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eticket_tickets_issued_total",
			Help: "Tickets issued",
		},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eticket_expiry_sweeps_total",
			Help: "Expiry sweep runs by status",
		},
		[]string{"status"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eticket_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eticket_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ReservationCreated counts a successful hold
func ReservationCreated() {
	reservations.WithLabelValues("held").Inc()
}

// ReservationRejected counts a reserve call that failed
func ReservationRejected(reason string) {
	reservations.WithLabelValues(reason).Inc()
}

// ReservationReleased counts a hold returned to the pool
func ReservationReleased(reason string, n int) {
	releases.WithLabelValues(reason).Add(float64(n))
}

// ReservationConfirmed counts a hold that became a sale
func ReservationConfirmed() {
	confirmations.Inc()
}

// PaymentOutcome records a provider outcome and the time it took
func PaymentOutcome(provider, outcome string, took time.Duration) {
	paymentOutcomes.WithLabelValues(provider, outcome).Inc()
	paymentDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// ReconciliationAlert counts a payment that could not be matched to a live hold
func ReconciliationAlert(provider string) {
	reconciliationAlerts.WithLabelValues(provider).Inc()
}

// TicketIssued counts a newly written ticket
func TicketIssued() {
	ticketsIssued.Inc()
}

// SweepRun counts one pass of the expiry worker
func SweepRun(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sweepRuns.WithLabelValues(status).Inc()
}

// Middleware records request counts and latency per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
