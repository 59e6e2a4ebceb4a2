package tracker

import (
	"context"
	"math"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/geometry"
	"github.com/odsyjr2/detection-supervisor/internal/kalman"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
)

// Config holds the dwell-monitor thresholds, mirrored from
// (and populated by) config.TrackerConfig, kept as its own type so this
// package has no dependency on the config loader.
type Config struct {
	ConfMin           float64
	KMiss             int
	EpsAbs            float64
	EpsRel            float64
	TStationary       time.Duration
	TViolation        time.Duration
	ReidWindow        time.Duration
	ReidIoUThreshold  float64
	MatchIoUThreshold float64
	BBoxHistoryLen    int
	KalmanParams      kalman.Params
}

// Health summarizes a stream's detector reliability, as returned by
// Tracker.Health. The supervisor's health pulse does not read or publish it.
type Health struct {
	ConsecutiveFailures int
	Degraded            bool
}

type trackEntry struct {
	model.VehicleTrack
	filter *kalman.BoxFilter
}

// Tracker owns one stream's track table. It is not safe for concurrent use:
// exactly one producer goroutine drives it.
type Tracker struct {
	streamID     string
	sessionEpoch int
	cfg          Config
	clk          clock.Clock
	log          telemetry.Logger
	detector     VehicleDetector

	tracks map[int]*trackEntry
	nextID int

	consecutiveFailures int
	degraded            bool
}

// New creates a Tracker for one stream. sessionEpoch should be 0 initially
// and incremented by the caller on every source re-open.
func New(streamID string, sessionEpoch int, cfg Config, clk clock.Clock, log telemetry.Logger, detector VehicleDetector) *Tracker {
	if cfg.KalmanParams == (kalman.Params{}) {
		cfg.KalmanParams = kalman.DefaultParams()
	}
	if log == nil {
		log = telemetry.New(nil)
	}
	return &Tracker{
		streamID:     streamID,
		sessionEpoch: sessionEpoch,
		cfg:          cfg,
		clk:          clk,
		log:          log,
		detector:     detector,
		tracks:       make(map[int]*trackEntry),
	}
}

// Health reports the stream's detector reliability.
func (t *Tracker) Health() Health {
	return Health{ConsecutiveFailures: t.consecutiveFailures, Degraded: t.degraded}
}

// Tracks returns a snapshot of live (non-retired) track IDs and states, for
// diagnostics and tests.
func (t *Tracker) Tracks() map[int]model.TrackState {
	out := make(map[int]model.TrackState, len(t.tracks))
	for id, e := range t.tracks {
		out[id] = e.State
	}
	return out
}

// Update runs one frame through the detector, association, re-identification
// and the dwell state machine, returning any ParkingEvents that crossed
// T_violation this frame. It never returns an error: detector
// failures are absorbed (self-heal, record health, keep previous tracks)
// and surfaced only through Health().
func (t *Tracker) Update(ctx context.Context, frame model.Frame) []model.ParkingEvent {
	now := t.clk.Now()

	t.retireExpiredLost(now)

	for _, e := range t.tracks {
		if e.State != model.TrackStateLost {
			e.Predicted = e.filter.Predict()
		}
	}

	detections, err := t.detect(ctx, frame)
	if err != nil {
		t.consecutiveFailures++
		if t.consecutiveFailures >= 3 && !t.degraded {
			t.degraded = true
			t.log.WarnCtx(ctx, "stream degraded after consecutive detector failures",
				"stream_id", t.streamID,
				"session_epoch", t.sessionEpoch,
				"failures", t.consecutiveFailures,
				"error", err)
		}
		detections = nil
	} else {
		if t.degraded {
			t.log.InfoCtx(ctx, "detector recovered, stream no longer degraded",
				"stream_id", t.streamID,
				"session_epoch", t.sessionEpoch)
		}
		t.consecutiveFailures = 0
		t.degraded = false
	}

	activeIDs, predictedBoxes := t.activeTracks()
	detBoxes := filterByConfidence(detections, t.cfg.ConfMin)

	costs := geometry.DistanceMatrix(boxesOf(detBoxes), predictedBoxes)
	matchedDet, matchedTrk := geometry.Match(costs, 1.0-t.cfg.MatchIoUThreshold)

	matchedDetSet := make(map[int]bool, len(matchedDet))
	matchedActiveIdx := make(map[int]bool, len(matchedTrk))
	for k, detIdx := range matchedDet {
		trkIdx := matchedTrk[k]
		matchedDetSet[detIdx] = true
		matchedActiveIdx[trkIdx] = true

		id := activeIDs[trkIdx]
		e := t.tracks[id]
		t.applyMatch(e, detBoxes[detIdx].Box, now)
	}

	for idx, id := range activeIDs {
		if !matchedActiveIdx[idx] {
			t.tracks[id].MissCount++
		}
	}

	var emitted []model.ParkingEvent
	for _, e := range t.tracks {
		if e.State == model.TrackStateLost {
			continue
		}
		if ev, ok := t.applyDwellTransition(e, now, frame); ok {
			emitted = append(emitted, ev)
		}
		if e.MissCount >= t.cfg.KMiss {
			t.enterLost(e, now)
		}
	}

	for i, d := range detBoxes {
		if matchedDetSet[i] {
			continue
		}
		if e := t.findReidCandidate(d.Box, now); e != nil {
			t.resurrect(e, d.Box, now)
		} else {
			t.createTrack(d.Box, now)
		}
	}

	return emitted
}

func (t *Tracker) detect(ctx context.Context, frame model.Frame) ([]VehicleDetection, error) {
	dctx, cancel := context.WithTimeout(ctx, DetectorDeadline)
	defer cancel()
	dets, err := t.detector.Detect(dctx, frame)
	if err != nil {
		return nil, &ErrTransient{Cause: err}
	}
	return dets, nil
}

func (t *Tracker) activeTracks() (ids []int, boxes []geometry.Box) {
	for id, e := range t.tracks {
		if e.State == model.TrackStateLost {
			continue
		}
		ids = append(ids, id)
		boxes = append(boxes, e.Predicted)
	}
	return ids, boxes
}

func filterByConfidence(dets []VehicleDetection, confMin float64) []VehicleDetection {
	out := make([]VehicleDetection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= confMin {
			out = append(out, d)
		}
	}
	return out
}

func boxesOf(dets []VehicleDetection) []geometry.Box {
	out := make([]geometry.Box, len(dets))
	for i, d := range dets {
		out[i] = d.Box
	}
	return out
}

// eps is the scale-aware motion threshold:
// max(eps_abs, eps_rel * bbox_diagonal).
func (t *Tracker) eps(box geometry.Box) float64 {
	return math.Max(t.cfg.EpsAbs, t.cfg.EpsRel*box.Diagonal())
}

// applyMatch folds a newly associated detection into its track: updates the
// filter and history, and records whether this frame's displacement counts
// as motion.
func (t *Tracker) applyMatch(e *trackEntry, box geometry.Box, now time.Time) {
	prevBox, hadPrev := e.History.Latest()

	e.History.Push(box)
	e.filter.Update(box)
	e.LastSeen = now
	e.MissCount = 0

	if !hadPrev {
		return
	}

	displacement := geometry.Displacement(prevBox, box)
	moved := displacement >= t.eps(box) // strict: < eps is NOT motion
	if moved {
		e.LastMotionAt = now
		if e.State == model.TrackStateStationary || e.State == model.TrackStateCandidateEmitted {
			e.State = model.TrackStateTracking
			e.ParkingStart = time.Time{}
		}
	}
}

// applyDwellTransition evaluates the wall-clock dwell threshold
// crossings, independent of whether this track was matched
// this frame (frame drops must not stall or accelerate the dwell clock).
func (t *Tracker) applyDwellTransition(e *trackEntry, now time.Time, frame model.Frame) (model.ParkingEvent, bool) {
	switch e.State {
	case model.TrackStateTracking:
		if now.Sub(e.LastMotionAt) >= t.cfg.TStationary {
			e.State = model.TrackStateStationary
			e.ParkingStart = now
		}
	case model.TrackStateStationary:
		duration := now.Sub(e.ParkingStart)
		if duration >= t.cfg.TViolation {
			e.State = model.TrackStateCandidateEmitted
			return t.buildEvent(e, frame, duration), true
		}
	}
	return model.ParkingEvent{}, false
}

func (t *Tracker) buildEvent(e *trackEntry, frame model.Frame, duration time.Duration) model.ParkingEvent {
	box, _ := e.History.Latest()
	return model.ParkingEvent{
		TrackID:      e.TrackID,
		StreamID:     t.streamID,
		SessionEpoch: t.sessionEpoch,
		Box:          box,
		Frame:        frame.Clone(),
		Lat:          frame.Lat,
		Lon:          frame.Lon,
		LocationName: frame.LocationName,
		ParkingStart: e.ParkingStart,
		Duration:     duration,
	}
}

func (t *Tracker) enterLost(e *trackEntry, now time.Time) {
	e.PriorState = e.State
	e.State = model.TrackStateLost
	e.LostAt = now
	e.ReidUntil = now.Add(t.cfg.ReidWindow)
}

func (t *Tracker) retireExpiredLost(now time.Time) {
	for id, e := range t.tracks {
		if e.State == model.TrackStateLost && now.After(e.ReidUntil) {
			delete(t.tracks, id)
		}
	}
}

// findReidCandidate returns the best-matching LOST track for box (highest
// IoU above ReidIoUThreshold, within its ReID window), or nil. A
// resurrected track leaves the LOST state immediately, so later
// detections in the same Update pass cannot claim it twice.
func (t *Tracker) findReidCandidate(box geometry.Box, now time.Time) *trackEntry {
	var best *trackEntry
	bestIoU := t.cfg.ReidIoUThreshold
	for _, e := range t.tracks {
		if e.State != model.TrackStateLost || now.After(e.ReidUntil) {
			continue
		}
		lastBox, ok := e.History.Latest()
		if !ok {
			continue
		}
		iou := box.IoU(lastBox)
		if iou > bestIoU {
			bestIoU = iou
			best = e
		}
	}
	return best
}

func (t *Tracker) resurrect(e *trackEntry, box geometry.Box, now time.Time) {
	e.State = e.PriorState
	e.MissCount = 0
	e.LastSeen = now
	e.History.Push(box)
	e.filter.Update(box)
}

func (t *Tracker) createTrack(box geometry.Box, now time.Time) {
	id := t.nextID
	t.nextID++

	history := model.NewBBoxHistory(t.cfg.BBoxHistoryLen)
	history.Push(box)

	e := &trackEntry{
		VehicleTrack: model.VehicleTrack{
			TrackID:      id,
			StreamID:     t.streamID,
			SessionEpoch: t.sessionEpoch,
			History:      history,
			FirstSeen:    now,
			LastSeen:     now,
			LastMotionAt: now,
			State:        model.TrackStateTracking,
			Predicted:    box,
		},
		filter: kalman.NewBoxFilter(box, t.cfg.KalmanParams),
	}
	t.tracks[id] = e
}
