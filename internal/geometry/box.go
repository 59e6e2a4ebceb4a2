// Package geometry provides the axis-aligned bounding-box math the tracker
// needs: IoU distance and greedy detection-to-track matching.
package geometry

import "math"

// Box is an axis-aligned bounding box in pixel coordinates, x/y at top-left.
type Box struct {
	X, Y, W, H float64
}

// Center returns the box's center point.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Diagonal returns the length of the box's diagonal, used to scale the
// motion epsilon by apparent object size.
func (b Box) Diagonal() float64 {
	return math.Hypot(b.W, b.H)
}

// Area returns the box area.
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Intersection returns the intersection area between two boxes.
func (b Box) Intersection(o Box) float64 {
	x1 := math.Max(b.X, o.X)
	y1 := math.Max(b.Y, o.Y)
	x2 := math.Min(b.X+b.W, o.X+o.W)
	y2 := math.Min(b.Y+b.H, o.Y+o.H)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return (x2 - x1) * (y2 - y1)
}

// IoU returns the intersection-over-union ratio in [0, 1].
func (b Box) IoU(o Box) float64 {
	inter := b.Intersection(o)
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Displacement returns the Euclidean distance between the two boxes' centers.
func Displacement(a, b Box) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by)
}
