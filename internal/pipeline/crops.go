package pipeline

import (
	"image"

	"github.com/odsyjr2/detection-supervisor/internal/geometry"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"gocv.io/x/gocv"
)

// MatCropExtractor crops vehicle and plate regions straight out of a
// ParkingEvent's retained frame, clamping boxes to image bounds.
type MatCropExtractor struct{}

// VehicleCrop returns the gocv.Mat region covering the track's box.
func (MatCropExtractor) VehicleCrop(event model.ParkingEvent) any {
	return regionOf(event.Frame.Mat, event.Box)
}

// PlateCrop returns the gocv.Mat region covering the detected plate,
// relative to the same frame the vehicle crop came from.
func (MatCropExtractor) PlateCrop(event model.ParkingEvent, plate model.PlateBox) any {
	return regionOf(event.Frame.Mat, plate.Box)
}

func regionOf(img gocv.Mat, box geometry.Box) gocv.Mat {
	x1 := int(box.X)
	y1 := int(box.Y)
	x2 := int(box.X+box.W) + 1
	y2 := int(box.Y+box.H) + 1

	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if w := img.Cols(); x2 > w {
		x2 = w
	}
	if h := img.Rows(); y2 > h {
		y2 = h
	}
	if x1 >= x2 || y1 >= y2 {
		return gocv.NewMat()
	}
	return img.Region(image.Rect(x1, y1, x2, y2))
}
