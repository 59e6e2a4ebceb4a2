// Package supervisor wires the daemon together: it owns one source+tracker pair per
// stream, the shared task queue, the pipeline worker pool, and the reporter
// dispatcher, and drives the health pulse and the graceful shutdown
// sequence. One process-supervision type owns everything else and runs a
// periodic health goroutine alongside the main work.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/backend"
	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/config"
	"github.com/odsyjr2/detection-supervisor/internal/httputil"
	"github.com/odsyjr2/detection-supervisor/internal/kalman"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/pipeline"
	"github.com/odsyjr2/detection-supervisor/internal/queue"
	"github.com/odsyjr2/detection-supervisor/internal/reporter"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry/metrics"
	"github.com/odsyjr2/detection-supervisor/internal/tracker"
)

// Exit codes
const (
	ExitClean              = 0
	ExitFatalConfig        = 1
	ExitBackendUnreachable = 2
	ExitInternal           = 3
)

// Config wires the supervisor's dependencies. DetectorFactory and HandlesFactory are
// optional; the no-op defaults in operators.go are used when nil, since the
// real detection/classification models are external to this repo.
type Config struct {
	Cfg             *config.Config
	Logger          telemetry.Logger
	Clock           clock.Clock
	DetectorFactory func(streamID string) tracker.VehicleDetector
	HandlesFactory  func(workerID int) *pipeline.ModelHandles
}

// Supervisor owns every other component's lifecycle.
type Supervisor struct {
	cfg    *config.Config
	log    telemetry.Logger
	clk    clock.Clock
	metric *metrics.Registry

	detectorFactory func(streamID string) tracker.VehicleDetector
	handlesFactory  func(workerID int) *pipeline.ModelHandles

	backend *backend.Client
	q       *queue.Queue
	rep     *reporter.Reporter
	pool    *pipeline.Pool

	mu         sync.Mutex
	streams    map[string]*streamRunner
	restartsAt map[string][]time.Time
}

// New constructs a Supervisor. Call Run to start it.
func New(c Config) *Supervisor {
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := c.Logger
	if log == nil {
		log = telemetry.New(nil)
	}
	detectorFactory := c.DetectorFactory
	if detectorFactory == nil {
		detectorFactory = defaultDetectorFactory
	}
	handlesFactory := c.HandlesFactory
	if handlesFactory == nil {
		handlesFactory = defaultHandlesFactory
	}

	reg := metrics.New()
	// An evicted task leaves the queue with no other owner, so its frame
	// is freed here; a rejected push ("rejected_low") stays owned by the
	// caller.
	q := queue.New(c.Cfg.Queue.Capacity, func(task model.AnalysisTask, reason string) {
		if reason == "dropped_low" {
			task.ParkingEvent.Frame.Release()
		}
		reg.QueueDropped(task, reason)
	}, log)

	backendHTTP := httputil.NewStandardClient(&http.Client{Timeout: c.Cfg.Backend.Timeout})

	return &Supervisor{
		cfg:             c.Cfg,
		log:             log,
		clk:             clk,
		metric:          reg,
		detectorFactory: detectorFactory,
		handlesFactory:  handlesFactory,
		backend:         backend.NewWithClient(c.Cfg.Backend.BaseURL, backendHTTP),
		q:               q,
		streams:         make(map[string]*streamRunner),
		restartsAt:      make(map[string][]time.Time),
	}
}

// Metrics exposes the Prometheus registry for an HTTP /metrics handler.
func (s *Supervisor) Metrics() *metrics.Registry { return s.metric }

func (s *Supervisor) trackerConfig() tracker.Config {
	t := s.cfg.Tracker
	return tracker.Config{
		ConfMin:           t.ConfMin,
		KMiss:             t.KMiss,
		EpsAbs:            t.EpsAbs,
		EpsRel:            t.EpsRel,
		TStationary:       t.TStationary,
		TViolation:        t.TViolation,
		ReidWindow:        t.ReidWindow,
		ReidIoUThreshold:  t.ReidIoUThreshold,
		MatchIoUThreshold: t.MatchIoUThreshold,
		BBoxHistoryLen:    t.BBoxHistoryLen,
		KalmanParams:      kalman.DefaultParams(),
	}
}

// Run resolves the active stream list, starts every component, and blocks
// until ctx is cancelled, then runs the shutdown sequence. The returned
// code is the process exit code.
func (s *Supervisor) Run(ctx context.Context) (code int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorCtx(ctx, "supervisor panicked", "error", r)
			code = ExitInternal
		}
	}()

	s.rep = reporter.New(reporter.Config{
		BackendURL:          s.cfg.Backend.BaseURL + "/api/ai/v1/report-detection",
		SpoolPath:           s.cfg.Reporter.SpoolPath,
		DeadLetterSpoolPath: s.cfg.Reporter.DeadLetterSpoolPath,
		RetryBase:           s.cfg.Reporter.RetryBase,
		RetryCap:            s.cfg.Reporter.RetryCap,
		RetryFactor:         s.cfg.Reporter.RetryFactor,
		MaxAttempts:         s.cfg.Reporter.MaxAttempts,
		SendTimeout:         s.cfg.Reporter.SendTimeout,
	}, s.clk, s.log, s.metric.Reporter())
	for _, w := range s.rep.LoadAndResume() {
		s.log.WarnCtx(ctx, "reporter spool warning", "error", w)
	}

	streams, err := s.resolveStreams(ctx)
	if err != nil {
		s.log.ErrorCtx(ctx, "no streams available at startup", "error", err)
		return ExitBackendUnreachable
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	repCtx, repCancel := context.WithCancel(context.Background())
	defer repCancel()

	for _, desc := range streams {
		if err := s.startStream(runCtx, desc); err != nil {
			s.log.WarnCtx(ctx, "failed to start stream", "stream_id", desc.StreamID, "error", err)
		}
	}

	s.pool = pipeline.NewPool(pipeline.Config{
		Workers:        s.cfg.Pipeline.Workers,
		StageADeadline: s.cfg.Pipeline.StageADeadline,
		StageBDeadline: s.cfg.Pipeline.StageBDeadline,
		StageCDeadline: s.cfg.Pipeline.StageCDeadline,
		SeverityGate:   s.cfg.Pipeline.SeverityGate,
		MaxRetries:     s.cfg.Pipeline.MaxRetries,
		PopDeadline:    s.cfg.Pipeline.PopDeadline,
	}, s.q, s.handlesFactory, pipeline.MatCropExtractor{}, s.rep, s.metric.Pipeline(), s.clk, s.log)

	poolDone := make(chan struct{})
	go func() { s.pool.Run(poolCtx); close(poolDone) }()

	repDone := make(chan struct{})
	go func() { s.rep.Run(repCtx); close(repDone) }()

	healthDone := make(chan struct{})
	go func() { s.healthPulseLoop(runCtx); close(healthDone) }()

	<-ctx.Done()
	s.log.InfoCtx(ctx, "shutdown requested, draining")
	return s.shutdown(cancel, poolCancel, repCancel, poolDone, repDone, healthDone)
}

// resolveStreams fetches the active CCTV list from the backend, falling
// back to the locally configured stream list on failure.
// Exit code 2 applies only when neither source yields any stream.
func (s *Supervisor) resolveStreams(ctx context.Context) ([]model.StreamDescriptor, error) {
	streams, err := s.backend.ActiveStreams(ctx)
	if err == nil && len(streams) > 0 {
		return streams, nil
	}
	if err != nil {
		s.log.WarnCtx(ctx, "active-cctvs lookup failed, falling back to local streams", "error", err)
	}
	if len(s.cfg.Streams) > 0 {
		return s.cfg.Streams, nil
	}
	return nil, fmt.Errorf("no active streams from backend and no local fallback configured")
}

func (s *Supervisor) startStream(ctx context.Context, desc model.StreamDescriptor) error {
	runner, err := newStreamRunner(desc, 0, s.trackerConfig(), s.clk, s.log, s.detectorFactory(desc.StreamID))
	if err != nil {
		return err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	runner.cancel = cancel

	s.mu.Lock()
	s.streams[desc.StreamID] = runner
	s.mu.Unlock()

	go func() {
		ended := runner.run(streamCtx, s.q, s.cfg.Tracker.TViolation, func(reason string) {
			s.metric.QueueDropped(model.AnalysisTask{}, reason)
		})
		if ended {
			s.retireStream(desc.StreamID, runner)
		}
	}()
	return nil
}

// retireStream removes an ended (non-looping) stream so the health pulse
// does not try to restart it.
func (s *Supervisor) retireStream(streamID string, runner *streamRunner) {
	s.mu.Lock()
	if s.streams[streamID] == runner {
		delete(s.streams, streamID)
	}
	s.mu.Unlock()
	runner.src.Close()
}

// ActiveStreamCount reports how many stream producers are still running,
// for replay mode to detect completion.
func (s *Supervisor) ActiveStreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// shutdown drains the daemon downstream-first: stop the producers, close
// the queue, let the workers drain it up to the configured deadline, then
// stop the reporter and flush its spool. The workers and the reporter run
// on their own contexts so cancelling the producers does not cut the
// drain short.
func (s *Supervisor) shutdown(cancelProducers, cancelPool, cancelReporter context.CancelFunc, poolDone, repDone, healthDone <-chan struct{}) int {
	cancelProducers()

	s.mu.Lock()
	runners := make([]*streamRunner, 0, len(s.streams))
	for _, r := range s.streams {
		runners = append(runners, r)
	}
	s.mu.Unlock()
	for _, r := range runners {
		r.stop()
	}

	s.q.Close()

	// Workers drain the closed queue and exit on PopClosed; the deadline
	// only forces the issue if a stage wedges.
	select {
	case <-poolDone:
	case <-s.clk.After(s.cfg.Supervisor.ShutdownDrainTimeout):
		cancelPool()
		<-poolDone
	}

	cancelReporter()
	<-repDone
	<-healthDone

	if err := s.rep.Flush(); err != nil {
		s.log.ErrorCtx(context.Background(), "failed to flush reporter spool on shutdown", "error", err)
		return ExitInternal
	}
	return ExitClean
}
