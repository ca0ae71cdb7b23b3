package core

import "github.com/prometheus/client_golang/prometheus"

// MetricsRecorder receives operation counters from the service. The default
// recorder discards everything; deployments wanting scrape-able metrics wire
// the prometheus implementation.
type MetricsRecorder interface {
	InstancesCreated(n int)
	ActionExecuted(outcome string)
	AuditRecorded(n int)
}

type noopMetrics struct{}

func (noopMetrics) InstancesCreated(int)  {}
func (noopMetrics) ActionExecuted(string) {}
func (noopMetrics) AuditRecorded(int)     {}

// PrometheusMetrics publishes service counters on a prometheus registerer.
type PrometheusMetrics struct {
	instances prometheus.Counter
	actions   *prometheus.CounterVec
	audit     prometheus.Counter
}

// NewPrometheusMetrics constructs and registers the counters. A nil registerer
// uses the default prometheus registry.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		instances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objectcore_instances_created_total",
			Help: "Number of instances created, including recursive children.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objectcore_actions_executed_total",
			Help: "Number of action executions by outcome.",
		}, []string{"outcome"}),
		audit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objectcore_audit_records_total",
			Help: "Number of audit records appended.",
		}),
	}
	for _, c := range []prometheus.Collector{m.instances, m.actions, m.audit} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// InstancesCreated adds to the instance creation counter.
func (m *PrometheusMetrics) InstancesCreated(n int) {
	m.instances.Add(float64(n))
}

// ActionExecuted counts one action execution outcome.
func (m *PrometheusMetrics) ActionExecuted(outcome string) {
	m.actions.WithLabelValues(outcome).Inc()
}

// AuditRecorded adds to the audit record counter.
func (m *PrometheusMetrics) AuditRecorded(n int) {
	m.audit.Add(float64(n))
}
