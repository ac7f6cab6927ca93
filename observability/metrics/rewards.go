package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type RewardsMetrics struct {
	mutationsApplied *prometheus.CounterVec
	mutationsFailed  *prometheus.CounterVec
	mutationSeconds  *prometheus.HistogramVec
	mintedTotal      prometheus.Counter
	burnedTotal      prometheus.Counter
	batchSkipped     prometheus.Counter
	journalSeq       prometheus.Gauge
	streamSubs       prometheus.Gauge
}

var (
	rewardsOnce     sync.Once
	rewardsRegistry *RewardsMetrics
)

func Rewards() *RewardsMetrics {
	rewardsOnce.Do(func() {
		rewardsRegistry = &RewardsMetrics{
			mutationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_mutations_applied_total",
				Help: "Count of committed ledger mutations by operation.",
			}, []string{"op"}),
			mutationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_mutations_failed_total",
				Help: "Count of rejected ledger mutations by operation and error code.",
			}, []string{"op", "code"}),
			mutationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "rewards_mutation_duration_seconds",
				Help:    "Wall-clock duration of ledger mutations by operation.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			}, []string{"op"}),
			mintedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "rewards_minted_total",
				Help: "Count of rewards issued, including batch items.",
			}),
			burnedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "rewards_burned_total",
				Help: "Count of rewards retired.",
			}),
			batchSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "rewards_batch_items_skipped_total",
				Help: "Count of batch mint items skipped by per-item validation.",
			}),
			journalSeq: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "rewards_journal_sequence",
				Help: "Latest committed journal sequence number.",
			}),
			streamSubs: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "rewards_stream_subscribers",
				Help: "Number of active event stream subscribers.",
			}),
		}
		prometheus.MustRegister(
			rewardsRegistry.mutationsApplied,
			rewardsRegistry.mutationsFailed,
			rewardsRegistry.mutationSeconds,
			rewardsRegistry.mintedTotal,
			rewardsRegistry.burnedTotal,
			rewardsRegistry.batchSkipped,
			rewardsRegistry.journalSeq,
			rewardsRegistry.streamSubs,
		)
	})
	return rewardsRegistry
}

func (m *RewardsMetrics) ObserveMutation(op string, seconds float64) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.mutationsApplied.WithLabelValues(op).Inc()
	m.mutationSeconds.WithLabelValues(op).Observe(seconds)
}

func (m *RewardsMetrics) ObserveMutationFailure(op string, code int) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.mutationsFailed.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

func (m *RewardsMetrics) AddMinted(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mintedTotal.Add(float64(count))
}

func (m *RewardsMetrics) IncBurned() {
	if m == nil {
		return
	}
	m.burnedTotal.Inc()
}

func (m *RewardsMetrics) AddBatchSkipped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchSkipped.Add(float64(count))
}

func (m *RewardsMetrics) SetJournalSequence(seq uint64) {
	if m == nil {
		return
	}
	m.journalSeq.Set(float64(seq))
}

func (m *RewardsMetrics) SetStreamSubscribers(count int) {
	if m == nil {
		return
	}
	m.streamSubs.Set(float64(count))
}
