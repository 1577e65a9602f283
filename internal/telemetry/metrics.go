// Package telemetry exposes Prometheus collectors for the cache, the
// incremental analyzer and the gate, and writes them as a node-exporter
// textfile at the end of a run.
//
// All methods are safe on a nil *Metrics, so components can take metrics as
// an optional dependency.
package telemetry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "qgate"

// Metrics holds every collector qgate registers.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	cacheErrors    *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge

	analyzedFiles    *prometheus.CounterVec
	providerRetries  prometheus.Counter
	analysisDuration *prometheus.HistogramVec

	decisions *prometheus.CounterVec
	deltaQ    prometheus.Gauge
	pcq       prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Metric cache lookups by result (hit, miss).",
		}, []string{"result", "tier"}),
		cacheErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Cache errors downgraded to misses, by operation.",
		}, []string{"op"}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted from the in-memory LRU.",
		}),
		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held in memory.",
		}),
		analyzedFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "files_total",
			Help:      "Files materialized into a quality state, by source (reused, cached, computed, degraded).",
		}, []string{"source"}),
		providerRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "provider_retries_total",
			Help:      "Metric provider calls retried after a failure.",
		}),
		analysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "duration_seconds",
			Help:      "Time to build a quality state, by mode (full, incremental).",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"mode"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Gate invocations by outcome.",
		}, []string{"outcome"}),
		deltaQ: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "delta_q",
			Help:      "Q(head) - Q(base) of the last decision.",
		}),
		pcq: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "pcq_ratio",
			Help:      "Piecewise quality ratio of the last head state.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CacheHit counts a hit in tier ("memory" or "persistent").
func (m *Metrics) CacheHit(tier string) {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit", tier).Inc()
	}
}

// CacheMiss counts a lookup that found nothing in any tier.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss", "none").Inc()
	}
}

// CacheError counts a cache failure that was treated as a miss.
func (m *Metrics) CacheError(op string) {
	if m != nil {
		m.cacheErrors.WithLabelValues(op).Inc()
	}
}

// CacheEvicted counts LRU evictions.
func (m *Metrics) CacheEvicted(n int) {
	if m != nil && n > 0 {
		m.cacheEvictions.Add(float64(n))
	}
}

// CacheSize records the number of in-memory entries.
func (m *Metrics) CacheSize(n int) {
	if m != nil {
		m.cacheEntries.Set(float64(n))
	}
}

// FilesAnalyzed counts files by how their metrics were obtained.
func (m *Metrics) FilesAnalyzed(source string, n int) {
	if m != nil && n > 0 {
		m.analyzedFiles.WithLabelValues(source).Add(float64(n))
	}
}

// ProviderRetried counts one provider retry.
func (m *Metrics) ProviderRetried() {
	if m != nil {
		m.providerRetries.Inc()
	}
}

// AnalysisDone observes the duration of one state build.
func (m *Metrics) AnalysisDone(mode string, d time.Duration) {
	if m != nil {
		m.analysisDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

// Decision records the outcome of one gate invocation. deltaQ and pcq are
// only set when a decision was produced.
func (m *Metrics) Decision(outcome string, produced bool, deltaQ, pcq float64) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
	if produced {
		m.deltaQ.Set(deltaQ)
		m.pcq.Set(pcq)
	}
}

// WriteTextfile writes all metrics in the text exposition format to path,
// atomically, for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
