// Package source implements the stream source adapters: pull-model frame
// iterators over a configured stream. An OpenCV capture is wrapped with
// pacing and drop bookkeeping so each adapter serves one frame at a time
// under a caller-supplied deadline, fitting the supervisor's per-stream
// producer loop.
package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
	"gocv.io/x/gocv"
)

// PullStatus is the outcome of one NextFrame call.
type PullStatus int

const (
	PullOK PullStatus = iota
	PullEnded
	PullTransientError
)

// ErrNoFramesAvailable is returned when the deadline elapses with nothing
// new to deliver: by file-backed sources when the deadline is too short to
// service pacing, and by the live source when no frame has arrived yet.
var ErrNoFramesAvailable = errors.New("source: no frame available before deadline")

// Source is the pull interface every stream adapter implements.
type Source interface {
	// NextFrame blocks at most until deadline, returning a frame, PullEnded
	// once the source is exhausted (non-looping), or PullTransientError.
	NextFrame(ctx context.Context, deadline time.Time) (model.Frame, PullStatus, error)

	// FrameDrops reports frames dropped since the last call.
	FrameDrops() uint64

	// Close releases underlying resources (capture handles, files).
	Close() error
}

// Open constructs the Source declared by desc, dispatching on SourceType:
// image_sequence, video_file, or live_http.
func Open(desc model.StreamDescriptor, clk clock.Clock, log telemetry.Logger) (Source, error) {
	if log == nil {
		log = telemetry.New(nil)
	}
	switch desc.SourceType {
	case "image_sequence":
		return newImageSequenceSource(desc, clk, log)
	case "video_file":
		return newVideoFileSource(desc, clk, log)
	case "live_http":
		return newLiveHTTPSource(desc, clk, log)
	default:
		return nil, fmt.Errorf("source: unknown source_type %q", desc.SourceType)
	}
}

// pacer blocks callers to the configured FPS. The adapter itself has no
// UI, only pacing and drop accounting.
type pacer struct {
	clk      clock.Clock
	interval time.Duration
	next     time.Time
}

func newPacer(clk clock.Clock, fps float64) *pacer {
	interval := time.Duration(0)
	if fps > 0 {
		interval = time.Duration(float64(time.Second) / fps)
	}
	return &pacer{clk: clk, interval: interval, next: clk.Now()}
}

// wait blocks (via clk.Sleep, fake-clock-friendly) until the next frame is
// due, respecting deadline; returns false if deadline would be exceeded
// first.
func (p *pacer) wait(deadline time.Time) bool {
	if p.interval == 0 {
		return true
	}
	now := p.clk.Now()
	if p.next.Before(now) {
		p.next = now
	}
	if p.next.After(deadline) {
		return false
	}
	if d := p.next.Sub(now); d > 0 {
		p.clk.Sleep(d)
	}
	p.next = p.next.Add(p.interval)
	return true
}

// imageSequenceSource reads a numerically-sorted directory of images as a
// frame sequence. Supports session_epoch increment on loop.
type imageSequenceSource struct {
	desc  model.StreamDescriptor
	clk   clock.Clock
	log   telemetry.Logger
	pacer *pacer
	files []string
	idx   int
	seq   uint64
	epoch int
}

func newImageSequenceSource(desc model.StreamDescriptor, clk clock.Clock, log telemetry.Logger) (*imageSequenceSource, error) {
	matches, err := filepath.Glob(filepath.Join(desc.Path, "*"))
	if err != nil {
		return nil, fmt.Errorf("source: globbing %s: %w", desc.Path, err)
	}
	sort.Strings(matches)
	fps := desc.FPS
	if fps <= 0 {
		fps = 30
	}
	s := &imageSequenceSource{desc: desc, clk: clk, log: log, pacer: newPacer(clk, fps), files: matches}
	if desc.CheckpointPath != "" {
		cp, err := LoadCheckpoint(desc.CheckpointPath)
		if err != nil {
			return nil, err
		}
		s.epoch = cp.SessionEpoch
		s.seq = cp.LastSeq
		if len(matches) > 0 {
			s.idx = int(cp.LastSeq % uint64(len(matches)))
		}
	}
	return s, nil
}

func (s *imageSequenceSource) NextFrame(ctx context.Context, deadline time.Time) (model.Frame, PullStatus, error) {
	if len(s.files) == 0 {
		return model.Frame{}, PullTransientError, fmt.Errorf("source: no images found at %s", s.desc.Path)
	}
	if s.idx >= len(s.files) {
		if !s.desc.Loop {
			return model.Frame{}, PullEnded, nil
		}
		s.idx = 0
		s.epoch++
	}
	if !s.pacer.wait(deadline) {
		return model.Frame{}, PullTransientError, ErrNoFramesAvailable
	}

	mat := gocv.IMRead(s.files[s.idx], gocv.IMReadColor)
	if mat.Empty() {
		s.idx++
		s.log.WarnCtx(ctx, "skipping undecodable image",
			"stream_id", s.desc.StreamID, "path", s.files[s.idx-1])
		return model.Frame{}, PullTransientError, fmt.Errorf("source: failed to decode %s", s.files[s.idx-1])
	}
	s.idx++
	s.seq++

	return model.Frame{
		StreamID:     s.desc.StreamID,
		Seq:          s.seq,
		SessionEpoch: s.epoch,
		CapturedAt:   s.clk.Now(),
		Mat:          mat,
		Lat:          s.desc.Lat,
		Lon:          s.desc.Lon,
		LocationName: s.desc.LocationName,
	}, PullOK, nil
}

func (s *imageSequenceSource) FrameDrops() uint64 { return 0 }

func (s *imageSequenceSource) Close() error {
	if s.desc.CheckpointPath == "" {
		return nil
	}
	return SaveCheckpoint(s.desc.CheckpointPath, Checkpoint{SessionEpoch: s.epoch, LastSeq: s.seq})
}

// videoFileSource wraps gocv.VideoCapture over a file, pacing reads at
// the container's declared FPS unless overridden.
type videoFileSource struct {
	desc      model.StreamDescriptor
	clk       clock.Clock
	log       telemetry.Logger
	pacer     *pacer
	capture   *gocv.VideoCapture
	seq       uint64
	epoch     int
	closeOnce sync.Once
}

func newVideoFileSource(desc model.StreamDescriptor, clk clock.Clock, log telemetry.Logger) (*videoFileSource, error) {
	cap, err := gocv.OpenVideoCapture(desc.Path)
	if err != nil {
		return nil, fmt.Errorf("source: opening video %s: %w", desc.Path, err)
	}
	fps := desc.FPS
	if fps <= 0 {
		fps = cap.Get(gocv.VideoCaptureFPS)
	}
	if fps <= 0 {
		fps = 30
	}
	return &videoFileSource{desc: desc, clk: clk, log: log, pacer: newPacer(clk, fps), capture: cap}, nil
}

func (s *videoFileSource) NextFrame(ctx context.Context, deadline time.Time) (model.Frame, PullStatus, error) {
	if !s.pacer.wait(deadline) {
		return model.Frame{}, PullTransientError, ErrNoFramesAvailable
	}

	mat := gocv.NewMat()
	if !s.capture.Read(&mat) || mat.Empty() {
		mat.Close()
		if s.desc.Loop {
			if !s.capture.Set(gocv.VideoCapturePosFrames, 0) {
				return model.Frame{}, PullTransientError, fmt.Errorf("source: rewinding %s", s.desc.Path)
			}
			s.epoch++
			s.log.InfoCtx(ctx, "restarting looped video",
				"stream_id", s.desc.StreamID, "session_epoch", s.epoch)
			return s.NextFrame(ctx, deadline)
		}
		return model.Frame{}, PullEnded, nil
	}
	s.seq++

	return model.Frame{
		StreamID:     s.desc.StreamID,
		Seq:          s.seq,
		SessionEpoch: s.epoch,
		CapturedAt:   s.clk.Now(),
		Mat:          mat,
		Lat:          s.desc.Lat,
		Lon:          s.desc.Lon,
		LocationName: s.desc.LocationName,
	}, PullOK, nil
}

func (s *videoFileSource) FrameDrops() uint64 { return 0 }

func (s *videoFileSource) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.capture.Close() })
	return err
}
