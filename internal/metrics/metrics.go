package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Distribution request outcomes.
const (
	OutcomeFulfilled = "fulfilled"
	OutcomeTimedOut  = "timed_out"
	OutcomeFailed    = "failed"
)

// Metrics provides observability for caches, the resolver and distribution.
// All methods are safe on a nil receiver so components can run unobserved.
type Metrics struct {
	ContentCacheHits          prometheus.Counter
	ContentCacheMisses        prometheus.Counter
	ContentCacheCorruptions   prometheus.Counter
	ContentCacheWriteFailures prometheus.Counter
	ProviderFetchDuration     *prometheus.HistogramVec
	RenderedCacheEvictions    prometheus.Counter
	PlaceholderBlocks         prometheus.Counter
	DistributionRequests      *prometheus.CounterVec
	PayloadTooLarge           *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ContentCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "vellum_content_cache_hits_total",
			Help: "Content cache lookups answered from the local store",
		}),
		ContentCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "vellum_content_cache_misses_total",
			Help: "Content cache lookups that found no usable entry",
		}),
		ContentCacheCorruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "vellum_content_cache_corruptions_total",
			Help: "Stored content cache entries deleted because they failed to parse",
		}),
		ContentCacheWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vellum_content_cache_write_failures_total",
			Help: "Content cache writes skipped because the local store refused them",
		}),
		ProviderFetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vellum_provider_fetch_duration_seconds",
			Help:    "Duration of content provider children fetches",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"result"}),
		RenderedCacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "vellum_rendered_cache_evictions_total",
			Help: "Rendered output entries evicted for capacity",
		}),
		PlaceholderBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "vellum_resolver_placeholder_blocks_total",
			Help: "Blocks replaced by an error placeholder during resolution",
		}),
		DistributionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vellum_distribution_requests_total",
			Help: "Distribution request outcomes by channel",
		}, []string{"channel", "outcome"}),
		PayloadTooLarge: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vellum_payload_too_large_total",
			Help: "Payloads rejected locally for exceeding the size budget",
		}, []string{"target"}),
	}
}

// ContentCacheHit records a cache hit.
func (m *Metrics) ContentCacheHit() {
	if m == nil {
		return
	}
	m.ContentCacheHits.Inc()
}

// ContentCacheMiss records a cache miss.
func (m *Metrics) ContentCacheMiss() {
	if m == nil {
		return
	}
	m.ContentCacheMisses.Inc()
}

// ContentCacheCorruption records a self-healed corrupt entry.
func (m *Metrics) ContentCacheCorruption() {
	if m == nil {
		return
	}
	m.ContentCacheCorruptions.Inc()
}

// ContentCacheWriteFailure records a skipped cache write.
func (m *Metrics) ContentCacheWriteFailure() {
	if m == nil {
		return
	}
	m.ContentCacheWriteFailures.Inc()
}

// ObserveProviderFetch records the duration of one provider fetch.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveProviderFetch(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderFetchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// RenderedCacheEviction records one capacity eviction.
func (m *Metrics) RenderedCacheEviction() {
	if m == nil {
		return
	}
	m.RenderedCacheEvictions.Inc()
}

// PlaceholderBlock records one block replaced by an error placeholder.
func (m *Metrics) PlaceholderBlock() {
	if m == nil {
		return
	}
	m.PlaceholderBlocks.Inc()
}

// DistributionRequest records one request outcome.
func (m *Metrics) DistributionRequest(channel string, outcome string) {
	if m == nil {
		return
	}
	m.DistributionRequests.WithLabelValues(channel, outcome).Inc()
}

// PayloadRejected records one payload-too-large rejection for target ("blob" or a channel name).
func (m *Metrics) PayloadRejected(target string) {
	if m == nil {
		return
	}
	m.PayloadTooLarge.WithLabelValues(target).Inc()
}
