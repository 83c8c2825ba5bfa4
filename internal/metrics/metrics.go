// Package metrics provides Prometheus collectors for the retrieval core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kensaku"

var (
	// CacheLookups counts embedding cache lookups.
	// Labels: tier (memory, disk), result (hit, miss, corrupt)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "cache_lookups_total",
			Help:      "Embedding cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	// ModelLockWait is the time callers spend queued for the model lock. All
	// encode traffic funnels through this lock, so it is the throughput
	// bottleneck to watch.
	ModelLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "model_lock_wait_seconds",
			Help:      "Time spent waiting for the embedding model lock",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ModelCallDuration is the time spent inside the embedding backend.
	ModelCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "model_call_seconds",
			Help:      "Duration of embedding backend calls",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ModelErrors counts failed backend calls.
	// Labels: reason (unavailable, timeout, canceled)
	ModelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "model_errors_total",
			Help:      "Failed embedding backend calls",
		},
		[]string{"reason"},
	)

	// EncodedTexts counts texts that reached the backend.
	EncodedTexts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "encoded_texts_total",
			Help:      "Texts embedded by the backend (cache misses)",
		},
	)

	// StoreVectors tracks the vector count per tenant store.
	StoreVectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "vectors",
			Help:      "Vectors held per tenant store",
		},
		[]string{"tenant"},
	)

	// PersistFailures counts failed persist attempts.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "persist_failures_total",
			Help:      "Failed vector store persist attempts",
		},
	)

	// CorruptRecoveries counts stores that were quarantined and reinitialized on load.
	CorruptRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "corrupt_recoveries_total",
			Help:      "Tenant stores quarantined and reinitialized after a corrupt load",
		},
	)

	// DroppedVectors counts index vectors discarded on load because their
	// metadata never reached disk.
	DroppedVectors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "dropped_unacknowledged_vectors_total",
			Help:      "Index vectors trimmed on load because their metadata was never persisted",
		},
	)

	// KeywordBuilds counts keyword index builds.
	// Labels: result (success, error)
	KeywordBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "keyword_builds_total",
			Help:      "Keyword index builds by result",
		},
		[]string{"result"},
	)

	// RetrievalDuration tracks end-to-end retrieve latency.
	// Labels: method (hybrid, semantic)
	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieve latency by search method",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RetrievalErrors counts failed retrieves by error kind.
	RetrievalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "errors_total",
			Help:      "Failed retrieves by error kind",
		},
		[]string{"kind"},
	)

	// ConfidenceFallbacks counts confidence computations that fell back to raw similarity.
	ConfidenceFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "confidence_fallbacks_total",
			Help:      "Confidence computations replaced by the clamped similarity fallback",
		},
	)
)

// RecordCacheLookup records one cache lookup outcome.
func RecordCacheLookup(tier string, hit bool) {
	if hit {
		CacheLookups.WithLabelValues(tier, "hit").Inc()
	} else {
		CacheLookups.WithLabelValues(tier, "miss").Inc()
	}
}

// RecordKeywordBuild records the outcome of a keyword index build.
func RecordKeywordBuild(success bool) {
	if success {
		KeywordBuilds.WithLabelValues("success").Inc()
	} else {
		KeywordBuilds.WithLabelValues("error").Inc()
	}
}
