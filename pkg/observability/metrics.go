package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authorization decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Permission cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Store metrics
	StoreQueryDuration *prometheus.HistogramVec
	StoreErrorsTotal   *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal        *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Grant metrics
	GrantsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"outcome", "basis"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_decision_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"cached"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"kind"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_errors_total",
				Help: "Total number of cache backend failures (fail-open)",
			},
			[]string{"operation"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_store_query_duration_seconds",
				Help:    "Persistent store query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_store_errors_total",
				Help: "Total number of persistent store errors",
			},
			[]string{"query"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_writes_total",
				Help: "Total number of audit entries written",
			},
			[]string{"action"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_write_failures_total",
				Help: "Total number of discarded audit write failures",
			},
		),
		GrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_grants_total",
				Help: "Total number of grant and revoke operations",
			},
			[]string{"kind", "status"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.DecisionsTotal,
			m.DecisionDuration,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheErrorsTotal,
			m.StoreQueryDuration,
			m.StoreErrorsTotal,
			m.AuditWritesTotal,
			m.AuditWriteFailuresTotal,
			m.GrantsTotal,
		)
	}

	return m
}

// ObserveDecision records a decision outcome with its evaluation basis
func (m *Metrics) ObserveDecision(allowed bool, basis string, cached bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	m.DecisionsTotal.WithLabelValues(outcome, basis).Inc()
	m.DecisionDuration.WithLabelValues(cachedLabel).Observe(elapsed.Seconds())
}

// ObserveCacheHit records a cache hit for the given key kind
func (m *Metrics) ObserveCacheHit(kind string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(kind).Inc()
}

// ObserveCacheMiss records a cache miss for the given key kind
func (m *Metrics) ObserveCacheMiss(kind string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(kind).Inc()
}

// ObserveCacheError records a cache backend failure
func (m *Metrics) ObserveCacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// ObserveStoreQuery records one persistent store query
func (m *Metrics) ObserveStoreQuery(query string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.StoreQueryDuration.WithLabelValues(query).Observe(elapsed.Seconds())
	if failed {
		m.StoreErrorsTotal.WithLabelValues(query).Inc()
	}
}

// ObserveAuditWrite records an audit write attempt
func (m *Metrics) ObserveAuditWrite(action string, failed bool) {
	if m == nil {
		return
	}
	m.AuditWritesTotal.WithLabelValues(action).Inc()
	if failed {
		m.AuditWriteFailuresTotal.Inc()
	}
}

// ObserveGrant records a grant or revocation
func (m *Metrics) ObserveGrant(kind, status string) {
	if m == nil {
		return
	}
	m.GrantsTotal.WithLabelValues(kind, status).Inc()
}
