package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/odsyjr2/detection-supervisor/internal/backoff"
	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/queue"
	"github.com/odsyjr2/detection-supervisor/internal/source"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
	"github.com/odsyjr2/detection-supervisor/internal/tracker"
)

// pullDeadline bounds one NextFrame call; short enough that the producer
// loop notices context cancellation promptly during shutdown.
const pullDeadline = 200 * time.Millisecond

// pushRetries bounds how many times a producer retries a BLOCKED push
// before dropping the candidate, so one contended queue can't wedge a
// producer.
const pushRetries = 3

// streamRunner owns one stream's source+tracker pair and the goroutine
// driving them.
type streamRunner struct {
	desc   model.StreamDescriptor
	clk    clock.Clock
	log    telemetry.Logger
	src    source.Source
	trk    *tracker.Tracker
	cancel context.CancelFunc
	done   chan struct{}

	lastFrameAt  time.Time
	frameCount   atomic.Uint64
	sessionEpoch int
}

func newStreamRunner(desc model.StreamDescriptor, sessionEpoch int, cfg tracker.Config, clk clock.Clock, log telemetry.Logger, detector tracker.VehicleDetector) (*streamRunner, error) {
	src, err := source.Open(desc, clk, log)
	if err != nil {
		return nil, err
	}
	return &streamRunner{
		desc:         desc,
		clk:          clk,
		log:          log,
		src:          src,
		trk:          tracker.New(desc.StreamID, sessionEpoch, cfg, clk, log, detector),
		done:         make(chan struct{}),
		sessionEpoch: sessionEpoch,
	}, nil
}

// run is the producer loop: pull -> track -> enqueue, until ctx is
// cancelled or a non-looping source ends. Returns true if the source
// ended (as opposed to cancellation), so the supervisor can retire the
// stream instead of restarting it.
func (s *streamRunner) run(ctx context.Context, q *queue.Queue, tViolation time.Duration, onDrop func(reason string)) (ended bool) {
	defer close(s.done)
	sched := backoff.Default20pct(time.Second, 30*time.Second, 2)
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		deadline := s.clk.Now().Add(pullDeadline)
		frame, status, err := s.src.NextFrame(ctx, deadline)
		switch status {
		case source.PullEnded:
			return true
		case source.PullTransientError:
			attempt++
			s.log.WarnCtx(ctx, "source pull failed", "stream_id", s.desc.StreamID, "error", err)
			select {
			case <-s.clk.After(sched.Duration(attempt-1, nil)):
			case <-ctx.Done():
				return false
			}
			continue
		}
		attempt = 0
		s.lastFrameAt = s.clk.Now()
		s.frameCount.Add(1)

		events := s.trk.Update(ctx, frame)
		frame.Release()

		for _, ev := range events {
			s.enqueue(ev, tViolation, q, onDrop)
		}
	}
}

func (s *streamRunner) enqueue(ev model.ParkingEvent, tViolation time.Duration, q *queue.Queue, onDrop func(reason string)) {
	task := model.AnalysisTask{
		TaskID:       uuid.NewString(),
		ParkingEvent: ev,
		Priority:     model.PriorityForDuration(ev.Duration.Seconds(), tViolation.Seconds()),
		CreatedAt:    s.clk.Now(),
		Deadline:     s.clk.Now().Add(tViolation),
	}

	for attempt := 0; attempt < pushRetries; attempt++ {
		switch q.Push(task) {
		case queue.Accepted:
			return
		case queue.DroppedLow:
			// The queue already counted the rejection; only the frame is
			// left to clean up.
			task.ParkingEvent.Frame.Release()
			return
		case queue.Blocked:
			continue
		case queue.Closed:
			task.ParkingEvent.Frame.Release()
			return
		}
	}
	task.ParkingEvent.Frame.Release()
	if onDrop != nil {
		onDrop("blocked_retries_exhausted")
	}
}

// frameRate returns frames/sec observed since the last call, resetting the
// counter. Sampled by the health pulse.
func (s *streamRunner) frameRate(window time.Duration) float64 {
	n := s.frameCount.Swap(0)
	if window <= 0 {
		return 0
	}
	return float64(n) / window.Seconds()
}

func (s *streamRunner) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.src.Close()
}
