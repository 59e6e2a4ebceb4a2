package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/backoff"
	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
	"gocv.io/x/gocv"
)

// liveHTTPSource polls an MJPEG-style HTTP endpoint on a background
// goroutine and keeps only the most recently decoded frame, counting the
// frames overwritten between pulls as drops. The supervisor retries
// TRANSIENT_ERROR with backoff (base 1s, cap 30s, jitter +/-20%);
// this type exposes one pull attempt and tracks drops, leaving the retry
// loop to the caller so it composes with cancellation the same way the
// other sources do.
type liveHTTPSource struct {
	desc   model.StreamDescriptor
	clk    clock.Clock
	log    telemetry.Logger
	client *http.Client
	sched  backoff.Schedule

	mu      sync.Mutex
	latest  *model.Frame
	seq     uint64
	epoch   int
	drops   atomic.Uint64
	stop    chan struct{}
	stopped sync.Once
}

func newLiveHTTPSource(desc model.StreamDescriptor, clk clock.Clock, log telemetry.Logger) (*liveHTTPSource, error) {
	s := &liveHTTPSource{
		desc:   desc,
		clk:    clk,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
		sched:  backoff.Default20pct(time.Second, 30*time.Second, 2),
		stop:   make(chan struct{}),
	}
	go s.pollLoop()
	return s, nil
}

// pollLoop continuously fetches desc.URL and decodes the response body as a
// single JPEG frame, replacing s.latest. A real MJPEG multipart stream would
// decode each part in turn; the replace-latest semantics are the same
// either way, only the newest frame is ever kept.
func (s *liveHTTPSource) pollLoop() {
	attempt := 0
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		frame, err := s.fetchOne()
		if err != nil {
			attempt++
			d := s.sched.Duration(attempt-1, nil)
			s.log.WarnCtx(context.Background(), "live frame fetch failed, backing off",
				"stream_id", s.desc.StreamID, "attempt", attempt, "backoff", d, "error", err)
			select {
			case <-s.clk.After(d):
			case <-s.stop:
				return
			}
			continue
		}
		attempt = 0

		s.mu.Lock()
		if s.latest != nil {
			s.latest.Release()
			s.drops.Add(1)
		}
		s.latest = &frame
		s.mu.Unlock()
	}
}

func (s *liveHTTPSource) fetchOne() (model.Frame, error) {
	req, err := http.NewRequest(http.MethodGet, s.desc.URL, nil)
	if err != nil {
		return model.Frame{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return model.Frame{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Frame{}, fmt.Errorf("source: %s returned %d", s.desc.URL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Frame{}, err
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return model.Frame{}, fmt.Errorf("source: decoding frame from %s: %w", s.desc.URL, err)
	}
	if mat.Empty() {
		return model.Frame{}, fmt.Errorf("source: empty frame from %s", s.desc.URL)
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	epoch := s.epoch
	s.mu.Unlock()

	return model.Frame{
		StreamID:     s.desc.StreamID,
		Seq:          seq,
		SessionEpoch: epoch,
		CapturedAt:   s.clk.Now(),
		Mat:          mat,
		Lat:          s.desc.Lat,
		Lon:          s.desc.Lon,
		LocationName: s.desc.LocationName,
	}, nil
}

func (s *liveHTTPSource) NextFrame(ctx context.Context, deadline time.Time) (model.Frame, PullStatus, error) {
	for {
		s.mu.Lock()
		f := s.latest
		s.latest = nil
		s.mu.Unlock()
		if f != nil {
			return *f, PullOK, nil
		}
		if s.clk.Now().After(deadline) {
			return model.Frame{}, PullTransientError, ErrNoFramesAvailable
		}
		select {
		case <-ctx.Done():
			return model.Frame{}, PullTransientError, ctx.Err()
		case <-s.clk.After(10 * time.Millisecond):
		}
	}
}

// FrameDrops returns and resets the drop counter.
func (s *liveHTTPSource) FrameDrops() uint64 {
	return s.drops.Swap(0)
}

func (s *liveHTTPSource) Close() error {
	s.stopped.Do(func() { close(s.stop) })
	return nil
}
