package supervisor

import (
	"context"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/model"
)

// healthPulseLoop publishes queue depth, per-stream frame rate, and spool
// depth every HealthPulseInterval, and restarts any stream whose frame rate
// has been zero for ZeroFrameRateTimeout, capped at
// MaxStreamRestartsPerHour via a sliding window.
func (s *Supervisor) healthPulseLoop(ctx context.Context) {
	interval := s.cfg.Supervisor.HealthPulseInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	zeroStreak := make(map[string]time.Duration)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(interval):
		}

		for p, n := range s.q.SizeByPriority() {
			s.metric.SetQueueDepth(p.String(), n)
		}
		s.metric.SetSpoolDepth(s.rep.PendingCount())

		s.mu.Lock()
		for id, r := range s.streams {
			rate := r.frameRate(interval)
			s.metric.SetStreamFrameRate(id, rate)

			if rate == 0 {
				zeroStreak[id] += interval
			} else {
				zeroStreak[id] = 0
			}

			if zeroStreak[id] >= s.cfg.Supervisor.ZeroFrameRateTimeout && s.canRestart(id) {
				zeroStreak[id] = 0
				s.restartStream(ctx, id, r)
			}
		}
		s.mu.Unlock()
	}
}

// canRestart enforces the sliding-window cap of
// MaxStreamRestartsPerHour restarts per stream. Caller
// holds s.mu.
func (s *Supervisor) canRestart(streamID string) bool {
	now := s.clk.Now()
	cutoff := now.Add(-time.Hour)
	kept := s.restartsAt[streamID][:0]
	for _, t := range s.restartsAt[streamID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restartsAt[streamID] = kept
	return len(kept) < s.cfg.Supervisor.MaxStreamRestartsPerHour
}

// restartStream closes the stalled producer and opens a fresh one with an
// incremented session_epoch. Caller holds s.mu.
func (s *Supervisor) restartStream(ctx context.Context, streamID string, old *streamRunner) {
	s.log.WarnCtx(ctx, "restarting stalled stream", "stream_id", streamID)
	s.restartsAt[streamID] = append(s.restartsAt[streamID], s.clk.Now())
	s.metric.StreamRestarted(streamID)

	old.cancel()
	go func(r *streamRunner) {
		<-r.done
		r.src.Close()
	}(old)

	desc := old.desc
	runner, err := newStreamRunner(desc, old.sessionEpoch+1, s.trackerConfig(), s.clk, s.log, s.detectorFactory(desc.StreamID))
	if err != nil {
		s.log.ErrorCtx(ctx, "failed to reopen stream after restart", "stream_id", streamID, "error", err)
		delete(s.streams, streamID)
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	runner.cancel = cancel
	s.streams[streamID] = runner

	go func() {
		ended := runner.run(streamCtx, s.q, s.cfg.Tracker.TViolation, func(reason string) {
			s.metric.QueueDropped(model.AnalysisTask{}, reason)
		})
		if ended {
			s.retireStream(streamID, runner)
		}
	}()
}
