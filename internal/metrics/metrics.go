package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the scheduling engine.
// A nil *SchedulingMetrics is valid and records nothing.
type SchedulingMetrics struct {
	bookingTotal      *prometheus.CounterVec
	waitlistTotal     *prometheus.CounterVec
	optimizationTotal *prometheus.CounterVec
	slotSearchLatency prometheus.Histogram
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "booking_outcomes_total",
			Help:      "Appointment requests by outcome",
		}, []string{"outcome"}),
		waitlistTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "waitlist_transitions_total",
			Help:      "Waitlist entries moved into a status",
		}, []string{"status"}),
		optimizationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "optimization_requests_total",
			Help:      "Batch optimization requests by whether a slot was found",
		}, []string{"found"}),
		slotSearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slot_search_seconds",
			Help:      "Latency of candidate slot generation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingTotal, m.waitlistTotal, m.optimizationTotal, m.slotSearchLatency)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveWaitlist(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.waitlistTotal.WithLabelValues(status).Add(float64(n))
}

func (m *SchedulingMetrics) ObserveOptimization(found bool) {
	if m == nil {
		return
	}
	label := "false"
	if found {
		label = "true"
	}
	m.optimizationTotal.WithLabelValues(label).Inc()
}

func (m *SchedulingMetrics) ObserveSlotSearch(seconds float64) {
	if m == nil {
		return
	}
	m.slotSearchLatency.Observe(seconds)
}
