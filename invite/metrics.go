package invite

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcjanio/vibehouse/generic"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	redemptions *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	slots       prometheus.Histogram
	pending     prometheus.Gauge
}

// NewMetrics registers collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibehouse",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by outcome.",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibehouse",
			Name:      "pending_resolutions_total",
			Help:      "Ledger retries for pending confirmations by outcome.",
		}, []string{"outcome"}),
		slots: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vibehouse",
			Name:      "offered_slots",
			Help:      "Number of slots returned per availability request.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vibehouse",
			Name:      "pending_confirmations",
			Help:      "Invites booked in the record store but not redeemed on the ledger, as of the last sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.redemptions, m.resolutions, m.slots, m.pending)
	}
	return m
}

func outcomeLabel(err error) string {
	if err == nil {
		return "booked"
	}
	return generic.Code(err)
}

func (m *Metrics) observeRedeem(err error) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcomeLabel(err)).Inc()
}

func (m *Metrics) observeResolve(err error) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcomeLabel(err)).Inc()
}

func (m *Metrics) observeSlots(n int) {
	if m == nil {
		return
	}
	m.slots.Observe(float64(n))
}

// SetPending records the pending-confirmation count found by a sweep.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
