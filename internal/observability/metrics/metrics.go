package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for availability and booking flows.
type BookingMetrics struct {
	availabilityTotal *prometheus.CounterVec
	bookingAttempts   *prometheus.CounterVec
	bookingLatency    *prometheus.HistogramVec
	eventsDropped     *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking_engine",
			Name:      "availability_requests_total",
			Help:      "Total availability queries by kind (day, range)",
		}, []string{"kind"}),
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking_engine",
			Name:      "booking_attempts_total",
			Help:      "Total booking attempts by result",
		}, []string{"result"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking_engine",
			Name:      "booking_latency_seconds",
			Help:      "Latency of the booking transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking_engine",
			Name:      "events_dropped_total",
			Help:      "Booking events dropped after the dispatcher gave up",
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityTotal, m.bookingAttempts, m.bookingLatency, m.eventsDropped)
	return m
}

func (m *BookingMetrics) ObserveAvailability(kind string) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(kind).Inc()
}

// ObserveBooking records one booking attempt. result is one of
// created, slot_taken, validation, not_found, lock_timeout, error.
func (m *BookingMetrics) ObserveBooking(result string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(result).Inc()
	m.bookingLatency.WithLabelValues(result).Observe(seconds)
}

func (m *BookingMetrics) ObserveEventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}
