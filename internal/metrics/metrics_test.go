package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ContentCacheHit()
	m.ContentCacheMiss()
	m.ContentCacheCorruption()
	m.ContentCacheWriteFailure()
	m.RenderedCacheEviction()
	m.PlaceholderBlock()
	m.DistributionRequest("c", OutcomeFulfilled)
	m.PayloadRejected("blob")
}

func TestMetricsCount(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.ContentCacheHit()
	m.ContentCacheHit()
	m.DistributionRequest("vellum.content.request", OutcomeTimedOut)

	if got := testutil.ToFloat64(m.ContentCacheHits); got != 2 {
		t.Fatalf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DistributionRequests.WithLabelValues("vellum.content.request", OutcomeTimedOut)); got != 1 {
		t.Fatalf("timed out requests = %v, want 1", got)
	}
}
