package model

import (
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/geometry"
)

// TrackState is the dwell state machine's state.
type TrackState int

const (
	TrackStateTracking TrackState = iota
	TrackStateStationary
	TrackStateCandidateEmitted
	TrackStateLost
)

func (s TrackState) String() string {
	switch s {
	case TrackStateTracking:
		return "TRACKING"
	case TrackStateStationary:
		return "STATIONARY"
	case TrackStateCandidateEmitted:
		return "CANDIDATE_EMITTED"
	case TrackStateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// BBoxHistory is a bounded ring buffer of recent boxes.
type BBoxHistory struct {
	buf   []geometry.Box
	cap   int
	start int
}

// NewBBoxHistory creates a ring buffer holding at most capacity entries.
func NewBBoxHistory(capacity int) *BBoxHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &BBoxHistory{cap: capacity}
}

// Push appends a box, evicting the oldest entry once full.
func (h *BBoxHistory) Push(b geometry.Box) {
	if len(h.buf) < h.cap {
		h.buf = append(h.buf, b)
		return
	}
	h.buf[h.start] = b
	h.start = (h.start + 1) % h.cap
}

// Latest returns the most recently pushed box and whether one exists.
func (h *BBoxHistory) Latest() (geometry.Box, bool) {
	if len(h.buf) == 0 {
		return geometry.Box{}, false
	}
	idx := (h.start - 1 + len(h.buf)) % len(h.buf)
	return h.buf[idx], true
}

// Len returns the number of boxes currently stored.
func (h *BBoxHistory) Len() int { return len(h.buf) }

// VehicleTrack is one tracked vehicle within a stream's session.
type VehicleTrack struct {
	TrackID      int
	StreamID     string
	SessionEpoch int

	History *BBoxHistory

	FirstSeen    time.Time
	LastSeen     time.Time
	LastMotionAt time.Time
	ParkingStart time.Time

	MissCount int
	State     TrackState

	// PriorState is the state the track held immediately before entering
	// LOST, restored verbatim on successful re-identification.
	PriorState TrackState

	// ReID bookkeeping: set when the track enters LOST, cleared on
	// re-identification or retirement.
	LostAt    time.Time
	ReidUntil time.Time

	Predicted geometry.Box
}
