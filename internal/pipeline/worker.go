package pipeline

import (
	"context"
	"encoding/base64"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/queue"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
	"gocv.io/x/gocv"
)

// TaskOutcome is the tagged result of running one task through the
// pipeline: accepted (a report was produced), rejected, re-enqueued for
// retry, or dropped after exhausting retries.
type TaskOutcome int

const (
	OutcomeAccepted TaskOutcome = iota
	OutcomeRejected
	OutcomeRetried
	OutcomePermanentlyFailed
)

// TaskResult is what one worker iteration produces.
type TaskResult struct {
	Outcome    TaskOutcome
	Report     model.ViolationReport
	RejectWhy  string
	RetryCount int
}

// Config configures the pipeline.
type Config struct {
	Workers        int
	StageADeadline time.Duration
	StageBDeadline time.Duration
	StageCDeadline time.Duration
	SeverityGate   float64
	MaxRetries     int
	PopDeadline    time.Duration // default 1s, keeps shutdown responsive
}

// Reporter is the dispatcher's enqueue surface, as consumed by workers.
type Reporter interface {
	Enqueue(report model.ViolationReport)
}

// CropExtractor crops the regions the stages operate on from a
// ParkingEvent's frame. Kept as an interface so tests can substitute a
// trivial implementation without decoding real images.
type CropExtractor interface {
	VehicleCrop(event model.ParkingEvent) any
	PlateCrop(event model.ParkingEvent, plate model.PlateBox) any
}

// Metrics receives pipeline observability events. A nil Metrics is
// allowed: the worker then skips every metrics call.
type Metrics interface {
	Rejected(reason string)
	Retried(taskID string, retryCount int)
	PermanentFailure(taskID string)
	Accepted()
	TaskProcessed(workerID int)
	WorkerRestarted(workerID int, cause any)
}

// Worker runs one single-threaded stage loop over tasks popped from q,
// using its own exclusively-owned ModelHandles.
type Worker struct {
	ID       int
	cfg      Config
	q        *queue.Queue
	handles  *ModelHandles
	crops    CropExtractor
	reporter Reporter
	metrics  Metrics
	clk      clock.Clock
	log      telemetry.Logger
}

// NewWorker constructs a worker. handles must not be shared with any other
// worker.
func NewWorker(id int, cfg Config, q *queue.Queue, handles *ModelHandles, crops CropExtractor, reporter Reporter, metrics Metrics, clk clock.Clock, log telemetry.Logger) *Worker {
	if log == nil {
		log = telemetry.New(nil)
	}
	return &Worker{ID: id, cfg: cfg, q: q, handles: handles, crops: crops, reporter: reporter, metrics: metrics, clk: clk, log: log}
}

// Run loops popping tasks until ctx is cancelled or the queue closes and
// drains. A panic inside processOne is recovered and logged as a worker
// restart, isolating this worker's failure from the rest of the pool.
func (w *Worker) Run(ctx context.Context) {
	popDeadline := w.cfg.PopDeadline
	if popDeadline <= 0 {
		popDeadline = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, status := w.q.Pop(w.clk.Now().Add(popDeadline))
		switch status {
		case queue.PopTimeout:
			continue
		case queue.PopClosed:
			return
		}

		w.runIsolated(ctx, task)
	}
}

func (w *Worker) runIsolated(ctx context.Context, task model.AnalysisTask) {
	retried := false
	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorCtx(ctx, "worker stage panicked, restarting stage loop",
				"worker_id", w.ID,
				"task_id", task.TaskID,
				"stream_id", task.ParkingEvent.StreamID,
				"panic", r,
				"stack", string(debug.Stack()))
			if w.metrics != nil {
				w.metrics.WorkerRestarted(w.ID, r)
			}
		}
		// The event frame is owned by the task until a retry re-enqueues
		// it; every terminal outcome (including a panic) frees it here.
		if !retried {
			task.ParkingEvent.Frame.Release()
		}
	}()
	result := w.processOne(ctx, task)
	retried = result.Outcome == OutcomeRetried
	if w.metrics != nil {
		w.metrics.TaskProcessed(w.ID)
	}
}

func (w *Worker) processOne(ctx context.Context, task model.AnalysisTask) TaskResult {
	vehicleCrop := w.crops.VehicleCrop(task.ParkingEvent)
	defer releaseCrop(vehicleCrop)

	classify := runClassify(ctx, w.handles, vehicleCrop, w.cfg.StageADeadline)
	switch classify.Outcome {
	case StageTransient:
		return w.retryOrFail(task, "stage_a_transient")
	case StagePermanent, StageUnavailable:
		return w.reject(task, "stage_a_unavailable")
	}
	if !classify.Value.IsIllegal || classify.Value.Severity < w.cfg.SeverityGate {
		return w.reject(task, "legal_or_low_conf")
	}

	plateDetected := false
	var chosenPlate model.PlateBox
	plateResult := runPlateDetect(ctx, w.handles, vehicleCrop, w.cfg.StageBDeadline)
	switch plateResult.Outcome {
	case StageTransient:
		return w.retryOrFail(task, "stage_b_transient")
	case StageOK:
		if best, ok := bestPlate(plateResult.Plates); ok {
			plateDetected = true
			chosenPlate = best
		}
	}

	var ocr *model.OCRData
	var plateData *model.PlateData
	if plateDetected {
		plateData = &model.PlateData{
			PlateText:     "",
			Confidence:    chosenPlate.Confidence,
			BoundingBox:   [4]float64{chosenPlate.Box.X, chosenPlate.Box.Y, chosenPlate.Box.W, chosenPlate.Box.H},
			IsValidFormat: false,
		}

		plateCrop := w.crops.PlateCrop(task.ParkingEvent, chosenPlate)
		defer releaseCrop(plateCrop)
		ocrResult := runOCR(ctx, w.handles, plateCrop, w.cfg.StageCDeadline)
		switch ocrResult.Outcome {
		case StageTransient:
			return w.retryOrFail(task, "stage_c_transient")
		case StageOK:
			plateData.PlateText = ocrResult.Value.Text
			plateData.IsValidFormat = ocrResult.Value.ValidFormat && ValidPlateFormat(ocrResult.Value.Text)
			ocr = &model.OCRData{
				RecognizedText: ocrResult.Value.Text,
				Confidence:     ocrResult.Value.Confidence,
				IsValidFormat:  plateData.IsValidFormat,
			}
		}
	}

	report := w.assemble(task, classify.Value, plateData, ocr, vehicleCrop)
	w.reporter.Enqueue(report)
	if w.metrics != nil {
		w.metrics.Accepted()
	}
	return TaskResult{Outcome: OutcomeAccepted, Report: report}
}

func (w *Worker) assemble(task model.AnalysisTask, classify model.ClassifyOutcome, plate *model.PlateData, ocr *model.OCRData, vehicleCrop any) model.ViolationReport {
	ev := task.ParkingEvent
	now := w.clk.Now()
	return model.ViolationReport{
		EventID:       uuid.NewString(),
		EventType:     "violation_detected",
		Priority:      task.Priority,
		Timestamp:     float64(now.UnixNano()) / float64(time.Second),
		TimestampISO:  now.UTC().Format(time.RFC3339Nano),
		StreamID:      ev.StreamID,
		CorrelationID: ev.CorrelationID(),
		Data: model.ReportData{
			Violation: model.ViolationData{
				StartTime:       ev.ParkingStart,
				Duration:        ev.Duration,
				Severity:        classify.Severity,
				IsConfirmed:     true,
				VehicleType:     "vehicle",
				ParkingZoneType: classify.ZoneType,
			},
			Vehicle: model.VehicleData{
				TrackID:      ev.TrackID,
				VehicleType:  "vehicle",
				Confidence:   1.0,
				BoundingBox:  [4]float64{ev.Box.X, ev.Box.Y, ev.Box.W, ev.Box.H},
				LastPosition: [2]float64{ev.Lon, ev.Lat},
			},
			LicensePlate: plate,
			OCRResult:    ocr,
			StreamInfo: model.StreamInfoData{
				StreamID:     ev.StreamID,
				LocationName: ev.LocationName,
			},
			VehicleImage: encodeJPEGDataURI(vehicleCrop),
		},
	}
}

// encodeJPEGDataURI recovers the gocv.Mat crop (when the configured
// CropExtractor is MatCropExtractor) and encodes it as the wire payload's
// vehicle_image data URI. Any other crop type yields an empty string
// rather than an error: image attachment is best-effort, never
// pipeline-blocking.
func encodeJPEGDataURI(crop any) string {
	mat, ok := crop.(gocv.Mat)
	if !ok || mat.Empty() {
		return ""
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return ""
	}
	defer buf.Close()
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes())
}

// releaseCrop frees a gocv-backed crop view; non-Mat crops (test stubs)
// have nothing to free.
func releaseCrop(crop any) {
	if m, ok := crop.(gocv.Mat); ok && !m.Closed() {
		_ = m.Close()
	}
}

func (w *Worker) reject(task model.AnalysisTask, reason string) TaskResult {
	if w.metrics != nil {
		w.metrics.Rejected(reason)
	}
	return TaskResult{Outcome: OutcomeRejected, RejectWhy: reason}
}

// retryOrFail re-enqueues task with RetryCount incremented, up to
// MaxRetries attempts; beyond that the task is dropped and counted as a
// permanent failure.
func (w *Worker) retryOrFail(task model.AnalysisTask, reason string) TaskResult {
	if task.RetryCount >= w.cfg.MaxRetries {
		if w.metrics != nil {
			w.metrics.PermanentFailure(task.TaskID)
		}
		return TaskResult{Outcome: OutcomePermanentlyFailed, RejectWhy: reason, RetryCount: task.RetryCount}
	}
	retried := task
	retried.RetryCount++
	if w.q.Push(retried) != queue.Accepted {
		if w.metrics != nil {
			w.metrics.PermanentFailure(task.TaskID)
		}
		return TaskResult{Outcome: OutcomePermanentlyFailed, RejectWhy: reason, RetryCount: retried.RetryCount}
	}
	if w.metrics != nil {
		w.metrics.Retried(task.TaskID, retried.RetryCount)
	}
	return TaskResult{Outcome: OutcomeRetried, RejectWhy: reason, RetryCount: retried.RetryCount}
}

// Pool owns a fixed set of Workers.
type Pool struct {
	workers []*Worker
}

// NewPool constructs a pool of cfg.Workers workers, each with its own
// ModelHandles from newHandles (called once per worker so handle ownership
// never crosses a goroutine boundary).
func NewPool(cfg Config, q *queue.Queue, newHandles func(workerID int) *ModelHandles, crops CropExtractor, reporter Reporter, metrics Metrics, clk clock.Clock, log telemetry.Logger) *Pool {
	n := cfg.Workers
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, NewWorker(i, cfg, q, newHandles(i), crops, reporter, metrics, clk, log))
	}
	return p
}

// Run starts all workers and blocks until every worker has returned,
// which happens once ctx is cancelled or the queue has drained and closed.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, len(p.workers))
	for _, w := range p.workers {
		go func(w *Worker) {
			w.Run(ctx)
			done <- struct{}{}
		}(w)
	}
	for range p.workers {
		<-done
	}
}
