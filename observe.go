package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the kernel's Prometheus instrumentation (§4.12,
// domain stack wiring). Registered at construction against a caller-supplied
// registerer so multiple runtimes in one process don't collide on the
// default registry, the way the teacher's buildObserverChain composed
// independent observer instances per scheduler.
type Metrics struct {
	taskDuration *prometheus.HistogramVec
	taskErrors   *prometheus.CounterVec
}

// NewMetrics registers the kernel's histograms/counters against reg
// (pass prometheus.DefaultRegisterer for the global registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runtime_task_duration_seconds",
			Help:    "Task execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		taskErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runtime_task_errors_total",
			Help: "Total task executions that returned an error.",
		}, []string{"task"}),
	}
	reg.MustRegister(m.taskDuration, m.taskErrors)
	return m
}

// Observe records one task execution's outcome.
func (m *Metrics) Observe(taskID string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(taskID).Observe(duration.Seconds())
	if err != nil {
		m.taskErrors.WithLabelValues(taskID).Inc()
	}
}

// InstrumentTaskRunner wraps runner's task invocations with a global
// middleware-manager interceptor that records Metrics, so every task
// pipeline is timed without the task body needing to know metrics
// exist (§4.7 interceptors, §4.12).
func InstrumentTaskRunner(mm *MiddlewareManager, m *Metrics) error {
	return mm.Intercept(func(exec *ExecutionInput, next func() (any, error)) (any, error) {
		if exec.Target.Kind() != KindTask {
			return next()
		}
		start := time.Now()
		out, err := next()
		m.Observe(exec.Target.ID(), time.Since(start), err)
		return out, err
	})
}
