package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tably",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	admissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tably",
			Name:      "booking_admissions_total",
			Help:      "Bookings admitted by the conflict guard.",
		},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tably",
			Name:      "booking_rejections_total",
			Help:      "Booking attempts rejected, by reason code.",
		},
		[]string{"reason"},
	)

	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tably",
			Name:      "verifications_total",
			Help:      "Ticket redemption attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, admissions, rejections, verifications)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncAdmission counts a booking admitted.
func IncAdmission() {
	admissions.Inc()
}

// IncRejection counts a rejected booking attempt by reason code.
func IncRejection(reason string) {
	rejections.WithLabelValues(reason).Inc()
}

// IncVerification counts a redemption attempt by outcome.
func IncVerification(outcome string) {
	verifications.WithLabelValues(outcome).Inc()
}
