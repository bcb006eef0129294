package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/widgetchat/internal/protect"
)

// ChatMetrics exposes counters/histograms for the chat request path.
type ChatMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	dependencyCalls  *prometheus.CounterVec
	dependencyTime   *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	configCache      *prometheus.CounterVec
	stateConflicts   prometheus.Counter
	routingWarnings  *prometheus.CounterVec
	auditSinkFailure *prometheus.CounterVec
}

var _ protect.Observer = (*ChatMetrics)(nil)

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetchat",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat requests by terminal code",
		}, []string{"code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "widgetchat",
			Subsystem: "chat",
			Name:      "request_duration_seconds",
			Help:      "End-to-end chat request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		dependencyCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetchat",
			Subsystem: "dependency",
			Name:      "calls_total",
			Help:      "Protected dependency call attempts by outcome",
		}, []string{"dependency", "operation", "outcome"}),
		dependencyTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "widgetchat",
			Subsystem: "dependency",
			Name:      "call_duration_seconds",
			Help:      "Protected dependency call attempt latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"dependency", "operation"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "widgetchat",
			Subsystem: "dependency",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"dependency"}),
		configCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetchat",
			Subsystem: "tenant_config",
			Name:      "cache_total",
			Help:      "Tenant config cache lookups by result",
		}, []string{"result"}),
		stateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "widgetchat",
			Subsystem: "state",
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts on session writes",
		}),
		routingWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetchat",
			Subsystem: "routing",
			Name:      "warnings_total",
			Help:      "Non-fatal CTA routing warnings by kind",
		}, []string{"kind"}),
		auditSinkFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetchat",
			Subsystem: "events",
			Name:      "sink_failures_total",
			Help:      "Events a sink failed to accept",
		}, []string{"sink"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.requestsTotal, m.requestLatency, m.dependencyCalls, m.dependencyTime,
		m.breakerState, m.configCache, m.stateConflicts, m.routingWarnings, m.auditSinkFailure,
	)
	return m
}

func (m *ChatMetrics) ObserveRequest(code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if code != "OK" {
		outcome = "error"
	}
	m.requestsTotal.WithLabelValues(code).Inc()
	m.requestLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *ChatMetrics) ObserveCall(dependency, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dependencyCalls.WithLabelValues(dependency, operation, outcome).Inc()
	if elapsed > 0 {
		m.dependencyTime.WithLabelValues(dependency, operation).Observe(elapsed.Seconds())
	}
}

func (m *ChatMetrics) ObserveBreakerState(dependency string, state protect.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(dependency).Set(float64(state))
}

// ObserveConfigCache records "hit", "miss", "stale" or "error".
func (m *ChatMetrics) ObserveConfigCache(result string) {
	if m == nil {
		return
	}
	m.configCache.WithLabelValues(result).Inc()
}

func (m *ChatMetrics) ObserveStateConflict() {
	if m == nil {
		return
	}
	m.stateConflicts.Inc()
}

func (m *ChatMetrics) ObserveRoutingWarning(kind string) {
	if m == nil {
		return
	}
	m.routingWarnings.WithLabelValues(kind).Inc()
}

func (m *ChatMetrics) ObserveSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.auditSinkFailure.WithLabelValues(sink).Inc()
}
