package stats

import (
	"errors"

	"forgedash/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forgedash"

// Collector exports the engine's summary as Prometheus gauges and counts
// dispatched intents by outcome.
type Collector struct {
	engine *Engine

	jobs             *prometheus.Desc
	jobsByPriority   *prometheus.Desc
	workers          *prometheus.Desc
	assigned         *prometheus.Desc
	dlqDepth         *prometheus.Desc
	workflowProgress *prometheus.Desc
	successRate      *prometheus.Desc

	intents *prometheus.CounterVec
}

// NewCollector returns a collector over e. Register it with a
// prometheus.Registerer and pass ObserveIntent to the dispatcher.
func NewCollector(e *Engine) *Collector {
	return &Collector{
		engine: e,
		jobs: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "jobs"),
			"Jobs known to the dashboard by status.", []string{"status"}, nil),
		jobsByPriority: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "jobs_by_priority"),
			"Jobs known to the dashboard by priority.", []string{"priority"}, nil),
		workers: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "workers"),
			"Workers by status.", []string{"status"}, nil),
		assigned: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "assigned_jobs"),
			"Jobs assigned to a worker and not yet finished.", nil, nil),
		dlqDepth: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "dlq_depth"),
			"Entries waiting in the dead letter queue.", nil, nil),
		workflowProgress: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "workflow_progress"),
			"Workflow completion in percent.", []string{"workflow"}, nil),
		successRate: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "job_success_rate"),
			"Completed jobs as a percentage of finished jobs.", nil, nil),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Operator intents by name and outcome.",
		}, []string{"intent", "outcome"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	ch <- c.jobsByPriority
	ch <- c.workers
	ch <- c.assigned
	ch <- c.dlqDepth
	ch <- c.workflowProgress
	ch <- c.successRate
	c.intents.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	sum := c.engine.Summary()

	for status, n := range sum.Jobs {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), string(status))
	}
	for prio, n := range sum.JobsByPriority {
		ch <- prometheus.MustNewConstMetric(c.jobsByPriority, prometheus.GaugeValue, float64(n), string(prio))
	}
	for status, n := range sum.Workers {
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(n), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.assigned, prometheus.GaugeValue, float64(sum.AssignedJobs))
	ch <- prometheus.MustNewConstMetric(c.dlqDepth, prometheus.GaugeValue, float64(sum.DLQDepth))
	for _, wf := range sum.Workflows {
		ch <- prometheus.MustNewConstMetric(c.workflowProgress, prometheus.GaugeValue, float64(wf.Progress), wf.ID)
	}
	ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, sum.SuccessRate)
	c.intents.Collect(ch)
}

// ObserveIntent counts one dispatched intent. Its signature matches
// dispatcher.Config.OnIntent.
func (c *Collector) ObserveIntent(intent string, err error) {
	c.intents.WithLabelValues(intent, Outcome(err)).Inc()
}

// Outcome names the error class of an intent result: "ok" for success,
// otherwise the taxonomy class, or "error" for anything unclassified.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, protocol.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, protocol.ErrNotFound):
		return "not_found"
	case errors.Is(err, protocol.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, protocol.ErrWorkerUnavailable):
		return "worker_unavailable"
	case errors.Is(err, protocol.ErrInvalidDag):
		return "invalid_dag"
	case errors.Is(err, protocol.ErrBackendUnavailable):
		return "backend_unavailable"
	}
	return "error"
}
