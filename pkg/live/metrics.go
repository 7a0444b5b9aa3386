package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "parlo_live"

// Metrics holds the Prometheus instruments for one session's components.
type Metrics struct {
	EventsSequenced        prometheus.Counter
	QueueDepth             prometheus.Gauge
	CommitsCreated         prometheus.Counter
	CommitsSuperseded      prometheus.Counter
	CommitsEvicted         prometheus.Counter
	ResponsesRequested     prometheus.Counter
	DuplicateStops         prometheus.Counter
	TurnsFinalized         *prometheus.CounterVec
	TurnsVetoed            prometheus.Counter
	ProtocolAnomalies      prometheus.Counter
	Reconnects             prometheus.Counter
	TranscriptAckLatencyMS prometheus.Histogram
}

// NewMetrics creates and registers all instruments on the given
// registerer. Tests pass a fresh registry to avoid collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsSequenced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_sequenced_total",
			Help:      "Inbound events drained through the ordered lane",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sequencer_queue_depth",
			Help:      "Events buffered awaiting ordered dispatch",
		}),
		CommitsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commits_created_total",
			Help:      "Commits created by stop actions",
		}),
		CommitsSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commits_superseded_total",
			Help:      "Commits cancelled by a newer utterance",
		}),
		CommitsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commits_evicted_total",
			Help:      "Commits evicted from the capped active set",
		}),
		ResponsesRequested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_requested_total",
			Help:      "Response generation actions emitted",
		}),
		DuplicateStops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplicate_stops_total",
			Help:      "Stop signals suppressed by the guard window",
		}),
		TurnsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_finalized_total",
			Help:      "Turns finalized, by role",
		}, []string{"role"}),
		TurnsVetoed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_vetoed_total",
			Help:      "User turns discarded by the finalize predicate",
		}),
		ProtocolAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_anomalies_total",
			Help:      "Inbound events handled defensively",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Pre-expiry reconnects performed",
		}),
		TranscriptAckLatencyMS: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "transcript_ack_latency_ms",
			Help:      "Gap between commit ack and transcript finalization",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000},
		}),
	}
}

func nopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
