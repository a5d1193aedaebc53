// Package metrics exposes the AI pipeline counters. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry plumbing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aah"

// Provider call paths.
const (
	PathShared = "shared"
	PathBYOK   = "byok"
	PathJudge  = "judge"
)

type Metrics struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	providerCalls  *prometheus.CounterVec
	fillers        *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	rateLimited    prometheus.Counter
	roundsFinished prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "response_cache_hits_total",
			Help: "AI submissions served from the response cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "response_cache_misses_total",
			Help: "AI submissions that needed a provider call.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_calls_total",
			Help: "Provider calls by credential path and outcome.",
		}, []string{"path", "outcome"}),
		fillers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "filler_responses_total",
			Help: "Filler answers submitted instead of a generated one.",
		}, []string{"reason"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ai_submissions_total",
			Help: "AI submission attempts by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Shared-credential calls refused by the per-game limiter.",
		}),
		roundsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rounds_completed_total",
			Help: "Rounds that reached the complete state.",
		}),
	}
	reg.MustRegister(m.cacheHits, m.cacheMisses, m.providerCalls, m.fillers,
		m.submissions, m.rateLimited, m.roundsFinished)
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) ProviderCall(path, outcome string) {
	if m != nil {
		m.providerCalls.WithLabelValues(path, outcome).Inc()
	}
}

func (m *Metrics) Filler(reason string) {
	if m != nil {
		m.fillers.WithLabelValues(reason).Inc()
	}
}

// Submission counts "inserted" or "skipped" AI submissions.
func (m *Metrics) Submission(result string) {
	if m != nil {
		m.submissions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) RoundCompleted() {
	if m != nil {
		m.roundsFinished.Inc()
	}
}
