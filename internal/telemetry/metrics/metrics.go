// Package metrics wires the supervisor's Prometheus instrumentation: a
// private registry, one vec per named metric, pre-registered at startup.
// The surface is fixed and small -- what the health pulse and
// per-component counters need. Nothing in this module needs to swap
// instrumentation backends at runtime, so there is no provider
// abstraction.
package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odsyjr2/detection-supervisor/internal/queue"
)

// Registry bundles every metric the supervisor publishes under one
// Prometheus registry.
type Registry struct {
	reg *prom.Registry

	queueDepth        *prom.GaugeVec
	queueDropped      *prom.CounterVec
	streamFrameRate   *prom.GaugeVec
	streamRestarts    *prom.CounterVec
	workerRestarts    *prom.CounterVec
	workerTasks       *prom.CounterVec
	tasksRejected     *prom.CounterVec
	tasksRetried      *prom.CounterVec
	tasksAccepted     prom.Counter
	tasksPermFailed   prom.Counter
	reportsDelivered  prom.Counter
	reportsRejected   prom.Counter
	reportsDeadLetter prom.Counter
	spoolDepth        prom.Gauge
}

// New constructs a Registry with every metric pre-registered.
func New() *Registry {
	reg := prom.NewRegistry()
	r := &Registry{
		reg: reg,
		queueDepth: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "supervisor_queue_depth", Help: "current task queue depth by priority class",
		}, []string{"priority"}),
		queueDropped: prom.NewCounterVec(prom.CounterOpts{
			Name: "supervisor_queue_dropped_total", Help: "tasks dropped or evicted by the task queue",
		}, []string{"reason"}),
		streamFrameRate: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "supervisor_stream_frame_rate", Help: "observed frames/sec per stream",
		}, []string{"stream_id"}),
		streamRestarts: prom.NewCounterVec(prom.CounterOpts{
			Name: "supervisor_stream_restarts_total", Help: "producer restarts per stream",
		}, []string{"stream_id"}),
		workerRestarts: prom.NewCounterVec(prom.CounterOpts{
			Name: "supervisor_worker_restarts_total", Help: "pipeline worker panics recovered",
		}, []string{"worker_id"}),
		workerTasks: prom.NewCounterVec(prom.CounterOpts{
			Name: "supervisor_worker_tasks_total", Help: "tasks processed per pipeline worker; rate() gives tasks/sec",
		}, []string{"worker_id"}),
		tasksRejected: prom.NewCounterVec(prom.CounterOpts{
			Name: "supervisor_tasks_rejected_total", Help: "tasks rejected by the pipeline",
		}, []string{"reason"}),
		tasksRetried: prom.NewCounterVec(prom.CounterOpts{
			Name: "supervisor_tasks_retried_total", Help: "tasks retried after a transient stage failure",
		}, []string{"retry_count"}),
		tasksAccepted: prom.NewCounter(prom.CounterOpts{
			Name: "supervisor_tasks_accepted_total", Help: "tasks that produced a violation report",
		}),
		tasksPermFailed: prom.NewCounter(prom.CounterOpts{
			Name: "supervisor_tasks_permanently_failed_total", Help: "tasks dropped after exhausting retries",
		}),
		reportsDelivered: prom.NewCounter(prom.CounterOpts{
			Name: "supervisor_reports_delivered_total", Help: "violation reports delivered to the backend",
		}),
		reportsRejected: prom.NewCounter(prom.CounterOpts{
			Name: "supervisor_reports_rejected_total", Help: "violation reports permanently rejected by the backend",
		}),
		reportsDeadLetter: prom.NewCounter(prom.CounterOpts{
			Name: "supervisor_reports_dead_lettered_total", Help: "violation reports moved to the dead-letter spool",
		}),
		spoolDepth: prom.NewGauge(prom.GaugeOpts{
			Name: "supervisor_reporter_spool_depth", Help: "records currently pending in the reporter spool",
		}),
	}

	reg.MustRegister(
		r.queueDepth, r.queueDropped, r.streamFrameRate, r.streamRestarts,
		r.workerRestarts, r.workerTasks, r.tasksRejected, r.tasksRetried, r.tasksAccepted, r.tasksPermFailed,
		r.reportsDelivered, r.reportsRejected, r.reportsDeadLetter, r.spoolDepth,
	)
	return r
}

// Handler exposes the registry over HTTP for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetQueueDepth publishes per-priority queue depth, read by the health
// pulse.
func (r *Registry) SetQueueDepth(priority string, depth int) {
	r.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

// QueueDropped satisfies queue.DroppedFunc.
func (r *Registry) QueueDropped(task queue.AnalysisTask, reason string) {
	r.queueDropped.WithLabelValues(reason).Inc()
}

// SetStreamFrameRate publishes the observed frame rate for one stream.
func (r *Registry) SetStreamFrameRate(streamID string, fps float64) {
	r.streamFrameRate.WithLabelValues(streamID).Set(fps)
}

// StreamRestarted records one producer restart for streamID.
func (r *Registry) StreamRestarted(streamID string) {
	r.streamRestarts.WithLabelValues(streamID).Inc()
}

// SetSpoolDepth publishes the reporter's pending spool size.
func (r *Registry) SetSpoolDepth(n int) {
	r.spoolDepth.Set(float64(n))
}

// PipelineMetrics adapts the registry to pipeline.Metrics. A distinct type
// is needed because pipeline.Metrics.Rejected takes a reason string while
// reporter.Metrics.Rejected takes none; Go methods can't overload by
// signature on the same receiver.
type PipelineMetrics struct{ r *Registry }

// Pipeline returns the pipeline.Metrics view of the registry.
func (r *Registry) Pipeline() PipelineMetrics { return PipelineMetrics{r} }

func (p PipelineMetrics) Rejected(reason string) {
	p.r.tasksRejected.WithLabelValues(reason).Inc()
}

func (p PipelineMetrics) Retried(taskID string, retryCount int) {
	p.r.tasksRetried.WithLabelValues(strconv.Itoa(retryCount)).Inc()
}

func (p PipelineMetrics) PermanentFailure(taskID string) {
	p.r.tasksPermFailed.Inc()
}

func (p PipelineMetrics) Accepted() {
	p.r.tasksAccepted.Inc()
}

func (p PipelineMetrics) TaskProcessed(workerID int) {
	p.r.workerTasks.WithLabelValues(strconv.Itoa(workerID)).Inc()
}

func (p PipelineMetrics) WorkerRestarted(workerID int, cause any) {
	p.r.workerRestarts.WithLabelValues(strconv.Itoa(workerID)).Inc()
}

// ReporterMetrics adapts the registry to reporter.Metrics.
type ReporterMetrics struct{ r *Registry }

// Reporter returns the reporter.Metrics view of the registry.
func (r *Registry) Reporter() ReporterMetrics { return ReporterMetrics{r} }

func (m ReporterMetrics) Delivered() {
	m.r.reportsDelivered.Inc()
}

func (m ReporterMetrics) Rejected() {
	m.r.reportsRejected.Inc()
}

func (m ReporterMetrics) DeadLettered() {
	m.r.reportsDeadLetter.Inc()
}

