// Package tracker implements per-stream multi-object tracking plus the
// dwell-time state machine that turns a stationary vehicle into a
// ParkingEvent candidate.
//
// One Tracker instance is owned and driven by exactly one producer
// goroutine; nothing in this package takes a lock.
package tracker

import (
	"context"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/geometry"
)

// VehicleDetection is one box the external vehicle detector returned for a
// frame.
type VehicleDetection struct {
	Box        geometry.Box
	Confidence float64
}

// VehicleDetector is the black-box detection operator contract.
// Implementations must respect ctx's deadline and return a transient error
// (wrapped in ErrTransient) if they cannot within it.
type VehicleDetector interface {
	Detect(ctx context.Context, frame any) ([]VehicleDetection, error)
}

// VehicleDetectorFunc adapts a function to a VehicleDetector.
type VehicleDetectorFunc func(ctx context.Context, frame any) ([]VehicleDetection, error)

func (f VehicleDetectorFunc) Detect(ctx context.Context, frame any) ([]VehicleDetection, error) {
	return f(ctx, frame)
}

// ErrTransient marks a detector failure as transient: the monitor should
// keep previous tracks, bump miss_count, and record a health metric.
type ErrTransient struct{ Cause error }

func (e *ErrTransient) Error() string { return "transient detector failure: " + e.Cause.Error() }
func (e *ErrTransient) Unwrap() error { return e.Cause }

// DetectorDeadline is the per-call budget the detector is given each frame.
const DetectorDeadline = 500 * time.Millisecond
