package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsensusMetrics is the consensus core's Prometheus instrumentation:
// view-change frequency, quorum latency, slashing events, accepted
// evidence, cross-domain 2PC outcomes and block interval, mirroring the
// teacher's metrics-struct-plus-singleton-constructor shape
// (observability/metrics.Potso) applied to this module's own signals.
type ConsensusMetrics struct {
	viewChanges    *prometheus.CounterVec
	quorumLatency  *prometheus.HistogramVec
	slashingEvents *prometheus.CounterVec
	evidenceAccepted *prometheus.CounterVec
	twoPCOutcomes  *prometheus.CounterVec
	blockInterval  prometheus.Histogram
}

var (
	consensusOnce     sync.Once
	consensusRegistry *ConsensusMetrics
)

// Consensus returns the process-wide ConsensusMetrics singleton,
// registering its collectors with the default Prometheus registry on first
// call, matching Potso()'s sync.Once shape.
func Consensus() *ConsensusMetrics {
	consensusOnce.Do(func() {
		consensusRegistry = &ConsensusMetrics{
			viewChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_view_changes_total",
				Help: "Count of view changes triggered by a liveness timeout.",
			}, []string{"protocol"}),
			quorumLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "consensus_quorum_latency_seconds",
				Help:    "Time from a proposal's first vote to quorum formation, by vote type.",
				Buckets: prometheus.DefBuckets,
			}, []string{"vote_type"}),
			slashingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_slashing_events_total",
				Help: "Count of slashing penalties applied, by evidence kind.",
			}, []string{"kind"}),
			evidenceAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_evidence_accepted_total",
				Help: "Count of evidence records accepted into the store, by kind.",
			}, []string{"kind"}),
			twoPCOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_xdomain_2pc_outcomes_total",
				Help: "Count of cross-domain two-phase commit sessions by terminal outcome.",
			}, []string{"outcome"}),
			blockInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "consensus_block_interval_seconds",
				Help:    "Wall-clock time between consecutive finalized blocks.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			consensusRegistry.viewChanges,
			consensusRegistry.quorumLatency,
			consensusRegistry.slashingEvents,
			consensusRegistry.evidenceAccepted,
			consensusRegistry.twoPCOutcomes,
			consensusRegistry.blockInterval,
		)
	})
	return consensusRegistry
}

// IncViewChange records one view change for protocol (e.g. "tendermint").
func (m *ConsensusMetrics) IncViewChange(protocol string) {
	if m == nil {
		return
	}
	if protocol == "" {
		protocol = "unknown"
	}
	m.viewChanges.WithLabelValues(protocol).Inc()
}

// ObserveQuorumLatency records how long voteType took to reach quorum.
func (m *ConsensusMetrics) ObserveQuorumLatency(voteType string, seconds float64) {
	if m == nil {
		return
	}
	if voteType == "" {
		voteType = "unknown"
	}
	m.quorumLatency.WithLabelValues(voteType).Observe(seconds)
}

// IncSlashingEvent records one applied penalty for the given evidence kind.
func (m *ConsensusMetrics) IncSlashingEvent(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.slashingEvents.WithLabelValues(kind).Inc()
}

// IncEvidenceAccepted records one newly-accepted evidence record.
func (m *ConsensusMetrics) IncEvidenceAccepted(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.evidenceAccepted.WithLabelValues(kind).Inc()
}

// IncTwoPCOutcome records one terminal cross-domain 2PC session outcome
// ("committed", "aborted", "rolled_back").
func (m *ConsensusMetrics) IncTwoPCOutcome(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.twoPCOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveBlockInterval records the gap between two consecutive finalized
// blocks.
func (m *ConsensusMetrics) ObserveBlockInterval(seconds float64) {
	if m == nil {
		return
	}
	m.blockInterval.Observe(seconds)
}
