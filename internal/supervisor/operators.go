package supervisor

import (
	"context"

	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/pipeline"
	"github.com/odsyjr2/detection-supervisor/internal/tracker"
)

// noopDetector reports no detections. It stands in for the real vehicle
// detector, an external black-box operator this repo does not train or
// ship.
// A caller wiring a real detector passes its own tracker.VehicleDetector via
// Config.DetectorFactory instead of relying on this default.
type noopDetector struct{}

func (noopDetector) Detect(ctx context.Context, frame any) ([]tracker.VehicleDetection, error) {
	return nil, nil
}

// noopClassifier never flags a crop as illegal, so the pipeline rejects
// every task rather than fabricating violations when no real classifier is
// wired.
type noopClassifier struct{}

func (noopClassifier) Classify(ctx context.Context, crop any) (model.ClassifyOutcome, error) {
	return model.ClassifyOutcome{IsIllegal: false}, nil
}

type noopPlateDetector struct{}

func (noopPlateDetector) DetectPlates(ctx context.Context, crop any) ([]model.PlateBox, error) {
	return nil, nil
}

type noopOCR struct{}

func (noopOCR) Recognize(ctx context.Context, crop any) (model.OCROutcome, error) {
	return model.OCROutcome{}, nil
}

func defaultDetectorFactory(streamID string) tracker.VehicleDetector {
	return noopDetector{}
}

func defaultHandlesFactory(workerID int) *pipeline.ModelHandles {
	return &pipeline.ModelHandles{
		Classifier:    noopClassifier{},
		PlateDetector: noopPlateDetector{},
		OCR:           noopOCR{},
	}
}
