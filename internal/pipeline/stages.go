// Package pipeline implements the analysis stage chain: the worker pool that turns a popped
// AnalysisTask into a ViolationReport or a rejection by running the
// classify -> plate-detect -> OCR stage chain.
//
// Model handles are partitioned per worker: each Worker is constructed
// with its own set of operator handles, touched only by that worker's
// goroutine, so there is no sharing and no locking on the hot path.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/model"
)

// StageOutcome tags a stage result: an explicit result union instead of
// exceptions or ad-hoc sentinels.
type StageOutcome int

const (
	StageOK StageOutcome = iota
	StageUnavailable
	StageTransient
	StagePermanent
)

// ClassifyResult is stage A's typed result.
type ClassifyResult struct {
	Outcome StageOutcome
	Value   model.ClassifyOutcome
}

// PlateDetectResult is stage B's typed result.
type PlateDetectResult struct {
	Outcome StageOutcome
	Plates  []model.PlateBox
}

// OCRResult is stage C's typed result.
type OCRResult struct {
	Outcome StageOutcome
	Value   model.OCROutcome
}

// IllegalClassifier is the stage A operator contract.
type IllegalClassifier interface {
	Classify(ctx context.Context, vehicleCrop any) (model.ClassifyOutcome, error)
}

// PlateDetector is the stage B operator contract.
type PlateDetector interface {
	DetectPlates(ctx context.Context, vehicleCrop any) ([]model.PlateBox, error)
}

// OCREngine is the stage C operator contract.
type OCREngine interface {
	Recognize(ctx context.Context, plateCrop any) (model.OCROutcome, error)
}

// ModelHandles bundles one worker's exclusively-owned operator handles.
type ModelHandles struct {
	Classifier    IllegalClassifier
	PlateDetector PlateDetector
	OCR           OCREngine
}

// TransientError marks a stage failure the pipeline should retry.
type TransientError struct{ Cause error }

func (e *TransientError) Error() string { return "transient stage failure: " + e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

// runClassify executes the classify stage under its deadline. A deadline
// breach yields Unavailable, not Transient: classification is required,
// so the caller must still reject on Unavailable rather than retry
// indefinitely.
func runClassify(ctx context.Context, h *ModelHandles, crop any, deadline time.Duration) ClassifyResult {
	cctx, cancel := stageContext(ctx, deadline)
	defer cancel()

	type result struct {
		out model.ClassifyOutcome
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := h.Classifier.Classify(cctx, crop)
		ch <- result{out, err}
	}()

	select {
	case <-cctx.Done():
		return ClassifyResult{Outcome: StageUnavailable}
	case r := <-ch:
		if r.err != nil {
			if isTransient(r.err) {
				return ClassifyResult{Outcome: StageTransient}
			}
			return ClassifyResult{Outcome: StagePermanent}
		}
		return ClassifyResult{Outcome: StageOK, Value: r.out}
	}
}

func runPlateDetect(ctx context.Context, h *ModelHandles, crop any, deadline time.Duration) PlateDetectResult {
	cctx, cancel := stageContext(ctx, deadline)
	defer cancel()

	type result struct {
		plates []model.PlateBox
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		plates, err := h.PlateDetector.DetectPlates(cctx, crop)
		ch <- result{plates, err}
	}()

	select {
	case <-cctx.Done():
		return PlateDetectResult{Outcome: StageUnavailable}
	case r := <-ch:
		if r.err != nil {
			if isTransient(r.err) {
				return PlateDetectResult{Outcome: StageTransient}
			}
			return PlateDetectResult{Outcome: StagePermanent}
		}
		return PlateDetectResult{Outcome: StageOK, Plates: r.plates}
	}
}

func runOCR(ctx context.Context, h *ModelHandles, crop any, deadline time.Duration) OCRResult {
	cctx, cancel := stageContext(ctx, deadline)
	defer cancel()

	type result struct {
		out model.OCROutcome
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := h.OCR.Recognize(cctx, crop)
		ch <- result{out, err}
	}()

	select {
	case <-cctx.Done():
		return OCRResult{Outcome: StageUnavailable}
	case r := <-ch:
		if r.err != nil {
			if isTransient(r.err) {
				return OCRResult{Outcome: StageTransient}
			}
			return OCRResult{Outcome: StagePermanent}
		}
		return OCRResult{Outcome: StageOK, Value: r.out}
	}
}

// stageContext derives the per-call stage context; a non-positive deadline
// means the stage runs unbounded (callers that configure no deadline).
func stageContext(ctx context.Context, deadline time.Duration) (context.Context, context.CancelFunc) {
	if deadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, deadline)
}

func isTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// bestPlate returns the highest-confidence plate, the one handed to OCR.
func bestPlate(plates []model.PlateBox) (model.PlateBox, bool) {
	if len(plates) == 0 {
		return model.PlateBox{}, false
	}
	best := plates[0]
	for _, p := range plates[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, true
}
