package tracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/geometry"
	"github.com/odsyjr2/detection-supervisor/internal/kalman"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() tracker.Config {
	return tracker.Config{
		ConfMin:           0.5,
		KMiss:             5,
		EpsAbs:            4,
		EpsRel:            0.02,
		TStationary:       3 * time.Second,
		TViolation:        60 * time.Second,
		ReidWindow:        2 * time.Second,
		ReidIoUThreshold:  0.3,
		MatchIoUThreshold: 0.3,
		BBoxHistoryLen:    16,
		KalmanParams:      kalman.DefaultParams(),
	}
}

// stationaryDetector always returns one box at a fixed location.
func stationaryDetector(box geometry.Box) tracker.VehicleDetectorFunc {
	return func(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
		return []tracker.VehicleDetection{{Box: box, Confidence: 0.9}}, nil
	}
}

func frameAt(clk *clock.Fake, stream string) model.Frame {
	return model.Frame{StreamID: stream, CapturedAt: clk.Now(), Lat: 1, Lon: 2, LocationName: "loc"}
}

func TestTracker_EmitsExactlyOneCandidatePerStationaryEpisode(t *testing.T) {
	clk := clock.NewFake(time.Now())
	box := geometry.Box{X: 10, Y: 10, W: 20, H: 20}
	tr := tracker.New("cam-1", 0, testConfig(), clk, nil, stationaryDetector(box))

	var allEvents []model.ParkingEvent
	for i := 0; i < 64; i++ {
		events := tr.Update(context.Background(), frameAt(clk, "cam-1"))
		allEvents = append(allEvents, events...)
		clk.Advance(time.Second)
	}

	require.Len(t, allEvents, 1)
	assert.Equal(t, "cam-1", allEvents[0].StreamID)
}

func TestTracker_ReMotionClearsCandidateAndDelaysViolation(t *testing.T) {
	clk := clock.NewFake(time.Now())
	start := clk.Now()
	box := geometry.Box{X: 10, Y: 10, W: 20, H: 20}
	moved := geometry.Box{X: 20, Y: 10, W: 20, H: 20} // 10 px shift, still associated (IoU 1/3)

	var current geometry.Box = box
	det := tracker.VehicleDetectorFunc(func(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
		return []tracker.VehicleDetection{{Box: current, Confidence: 0.9}}, nil
	})
	tr := tracker.New("cam-1", 0, testConfig(), clk, nil, det)

	var events []model.ParkingEvent
	for i := 0; i < 40; i++ {
		events = append(events, tr.Update(context.Background(), frameAt(clk, "cam-1"))...)
		clk.Advance(time.Second)
	}
	require.Empty(t, events, "should not have fired before re-motion at t=40")

	current = moved
	events = append(events, tr.Update(context.Background(), frameAt(clk, "cam-1"))...)
	clk.Advance(time.Second)
	current = box
	for i := 0; i < 107; i++ {
		events = append(events, tr.Update(context.Background(), frameAt(clk, "cam-1"))...)
		clk.Advance(time.Second)
	}

	require.Len(t, events, 1)
	assert.True(t, events[0].ParkingStart.After(start.Add(40*time.Second)),
		"the stationary episode restarted after the re-motion at t=40")
}

func TestTracker_EmptyStreamProducesNoCandidates(t *testing.T) {
	clk := clock.NewFake(time.Now())
	det := tracker.VehicleDetectorFunc(func(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
		return nil, nil
	})
	tr := tracker.New("cam-1", 0, testConfig(), clk, nil, det)

	var events []model.ParkingEvent
	for i := 0; i < 120; i++ {
		events = append(events, tr.Update(context.Background(), frameAt(clk, "cam-1"))...)
		clk.Advance(time.Second)
	}
	assert.Empty(t, events)
}

func TestTracker_JitterExactlyEpsilonIsNotStationary(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testConfig()
	box := geometry.Box{X: 0, Y: 0, W: 10, H: 10}
	eps := cfg.EpsAbs // small box: EpsRel*diagonal (~0.28 px) is below EpsAbs, so eps == EpsAbs

	toggle := false
	det := tracker.VehicleDetectorFunc(func(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
		b := box
		if toggle {
			b.X += eps // displacement equal to eps counts as motion; only < eps is stationary
		}
		toggle = !toggle
		return []tracker.VehicleDetection{{Box: b, Confidence: 0.9}}, nil
	})
	tr := tracker.New("cam-1", 0, cfg, clk, nil, det)

	var events []model.ParkingEvent
	for i := 0; i < 70; i++ {
		events = append(events, tr.Update(context.Background(), frameAt(clk, "cam-1"))...)
		clk.Advance(time.Second)
	}
	assert.Empty(t, events, "displacement == eps counts as motion, never stationary")
}

func TestTracker_TrackIDsUniqueWithinSession(t *testing.T) {
	clk := clock.NewFake(time.Now())
	boxes := []geometry.Box{
		{X: 0, Y: 0, W: 10, H: 10},
		{X: 100, Y: 100, W: 10, H: 10},
		{X: 200, Y: 200, W: 10, H: 10},
	}
	det := tracker.VehicleDetectorFunc(func(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
		out := make([]tracker.VehicleDetection, len(boxes))
		for i, b := range boxes {
			out[i] = tracker.VehicleDetection{Box: b, Confidence: 0.9}
		}
		return out, nil
	})
	tr := tracker.New("cam-1", 0, testConfig(), clk, nil, det)
	tr.Update(context.Background(), frameAt(clk, "cam-1"))

	tracks := tr.Tracks()
	assert.Len(t, tracks, 3)
	seen := map[int]bool{}
	for id := range tracks {
		assert.False(t, seen[id], "track id %d reused", id)
		seen[id] = true
	}
}

func TestTracker_LostTrackReidentifiedWithinWindow(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testConfig()
	box := geometry.Box{X: 10, Y: 10, W: 20, H: 20}

	present := true
	det := tracker.VehicleDetectorFunc(func(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
		if !present {
			return nil, nil
		}
		return []tracker.VehicleDetection{{Box: box, Confidence: 0.9}}, nil
	})
	tr := tracker.New("cam-1", 0, cfg, clk, nil, det)

	tr.Update(context.Background(), frameAt(clk, "cam-1"))
	clk.Advance(100 * time.Millisecond)

	present = false
	for i := 0; i < cfg.KMiss; i++ {
		tr.Update(context.Background(), frameAt(clk, "cam-1"))
		clk.Advance(100 * time.Millisecond)
	}
	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	for _, st := range tracks {
		assert.Equal(t, model.TrackStateLost, st)
	}

	present = true
	tr.Update(context.Background(), frameAt(clk, "cam-1"))
	tracks = tr.Tracks()
	require.Len(t, tracks, 1, "reidentified, not duplicated")
	for _, st := range tracks {
		assert.NotEqual(t, model.TrackStateLost, st)
	}
}

func TestTracker_ConsecutiveDetectorFailuresMarkDegraded(t *testing.T) {
	clk := clock.NewFake(time.Now())
	failing := tracker.VehicleDetectorFunc(func(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
		return nil, assertErr{}
	})
	tr := tracker.New("cam-1", 0, testConfig(), clk, nil, failing)

	for i := 0; i < 3; i++ {
		tr.Update(context.Background(), frameAt(clk, "cam-1"))
	}
	assert.True(t, tr.Health().Degraded)
	assert.Equal(t, 3, tr.Health().ConsecutiveFailures)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
