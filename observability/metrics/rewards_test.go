package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, metric := range family.GetMetric() {
			for key, want := range labels {
				if !hasLabel(metric, key, want) {
					continue next
				}
			}
			switch {
			case metric.Counter != nil:
				return metric.Counter.GetValue()
			case metric.Gauge != nil:
				return metric.Gauge.GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, key, value string) bool {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == key && pair.GetValue() == value {
			return true
		}
	}
	return false
}

func TestMutationCountersTrackOperations(t *testing.T) {
	m := Rewards()
	labels := map[string]string{"op": "mint"}
	before := metricValue(t, "rewards_mutations_applied_total", labels)

	m.ObserveMutation("mint", 0.002)
	m.ObserveMutation("mint", 0.004)

	after := metricValue(t, "rewards_mutations_applied_total", labels)
	if after-before != 2 {
		t.Fatalf("applied delta = %v, want 2", after-before)
	}
}

func TestFailureCounterCarriesErrorCode(t *testing.T) {
	m := Rewards()
	labels := map[string]string{"op": "burn", "code": "204"}
	before := metricValue(t, "rewards_mutations_failed_total", labels)

	m.ObserveMutationFailure("burn", 204)

	after := metricValue(t, "rewards_mutations_failed_total", labels)
	if after-before != 1 {
		t.Fatalf("failed delta = %v, want 1", after-before)
	}
}

func TestGaugesTrackLatestValue(t *testing.T) {
	m := Rewards()

	m.SetJournalSequence(41)
	if got := metricValue(t, "rewards_journal_sequence", nil); got != 41 {
		t.Fatalf("journal sequence = %v, want 41", got)
	}

	m.SetStreamSubscribers(3)
	if got := metricValue(t, "rewards_stream_subscribers", nil); got != 3 {
		t.Fatalf("stream subscribers = %v, want 3", got)
	}
	m.SetStreamSubscribers(0)
	if got := metricValue(t, "rewards_stream_subscribers", nil); got != 0 {
		t.Fatalf("stream subscribers after drain = %v, want 0", got)
	}
}

func TestCountersIgnoreNonPositiveDeltas(t *testing.T) {
	m := Rewards()
	before := metricValue(t, "rewards_minted_total", nil)

	m.AddMinted(0)
	m.AddMinted(-4)
	m.AddBatchSkipped(-1)

	if after := metricValue(t, "rewards_minted_total", nil); after != before {
		t.Fatalf("minted moved on non-positive delta: %v -> %v", before, after)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var m *RewardsMetrics
	m.ObserveMutation("mint", 1)
	m.ObserveMutationFailure("mint", 200)
	m.AddMinted(1)
	m.IncBurned()
	m.AddBatchSkipped(1)
	m.SetJournalSequence(1)
	m.SetStreamSubscribers(1)
}
