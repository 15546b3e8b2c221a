package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the collectors updated by the ledger, registry and coordinator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	rounds              *prometheus.CounterVec
	roundDuration       prometheus.Histogram
	chainHeight         prometheus.Gauge
	slashedParticipants prometheus.Gauge
	signatures          prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synledger",
			Name:      "rounds_total",
			Help:      "Number of consensus rounds by outcome",
		}, []string{"outcome"}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synledger",
			Name:      "round_duration_seconds",
			Help:      "Wall time of a consensus round",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synledger",
			Name:      "chain_height",
			Help:      "Height of the canonical chain",
		}),
		slashedParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synledger",
			Name:      "slashed_participants",
			Help:      "Participants currently slashed",
		}),
		signatures: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synledger",
			Name:      "signatures_collected",
			Help:      "Validator signatures collected per round",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.rounds, m.roundDuration, m.chainHeight, m.slashedParticipants, m.signatures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRound(r *Round) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(r.State.String()).Inc()
	m.roundDuration.Observe(r.Duration.Seconds())
	m.signatures.Observe(float64(r.Signatures))
}

func (m *Metrics) setChainHeight(h uint64) {
	if m == nil {
		return
	}
	m.chainHeight.Set(float64(h))
}

func (m *Metrics) setSlashed(n int) {
	if m == nil {
		return
	}
	m.slashedParticipants.Set(float64(n))
}
