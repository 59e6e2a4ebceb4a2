// Package kalman provides a constant-velocity bounding-box filter used by
// the tracker to predict a track's bbox between detections.
//
// The state space is fixed at 4 measured dimensions (x, y, w, h) plus
// their velocities; a vehicle is always exactly one box, so the general
// N-point pose machinery a pose tracker needs does not apply here.
package kalman

import (
	"github.com/odsyjr2/detection-supervisor/internal/geometry"
	"gonum.org/v1/gonum/mat"
)

const dimZ = 4 // x, y, w, h
const dimX = 8 // + vx, vy, vw, vh

// BoxFilter is a constant-velocity Kalman filter over a single bounding box.
type BoxFilter struct {
	x *mat.Dense // state vector, dimX x 1
	P *mat.Dense // covariance, dimX x dimX
	F *mat.Dense // state transition
	H *mat.Dense // measurement matrix
	Q *mat.Dense // process noise
	R *mat.Dense // measurement noise
}

// Params configures the noise magnitudes of a new filter.
type Params struct {
	PosVar   float64
	VelVar   float64
	ProcessQ float64
	MeasureR float64
}

// DefaultParams returns sensible defaults for vehicle-scale bounding boxes.
func DefaultParams() Params {
	return Params{PosVar: 10.0, VelVar: 1.0, ProcessQ: 1.0, MeasureR: 1.0}
}

// NewBoxFilter creates a filter initialized at the given box with zero velocity.
func NewBoxFilter(initial geometry.Box, p Params) *BoxFilter {
	x := mat.NewDense(dimX, 1, nil)
	x.Set(0, 0, initial.X)
	x.Set(1, 0, initial.Y)
	x.Set(2, 0, initial.W)
	x.Set(3, 0, initial.H)

	P := mat.NewDense(dimX, dimX, nil)
	for i := 0; i < dimZ; i++ {
		P.Set(i, i, p.PosVar)
		P.Set(dimZ+i, dimZ+i, p.VelVar)
	}

	F := mat.NewDense(dimX, dimX, nil)
	for i := 0; i < dimX; i++ {
		F.Set(i, i, 1.0)
	}
	for i := 0; i < dimZ; i++ {
		F.Set(i, dimZ+i, 1.0) // dt = 1 frame
	}

	H := mat.NewDense(dimZ, dimX, nil)
	for i := 0; i < dimZ; i++ {
		H.Set(i, i, 1.0)
	}

	Q := mat.NewDense(dimX, dimX, nil)
	for i := 0; i < dimX; i++ {
		Q.Set(i, i, p.ProcessQ)
	}

	R := mat.NewDense(dimZ, dimZ, nil)
	for i := 0; i < dimZ; i++ {
		R.Set(i, i, p.MeasureR)
	}

	return &BoxFilter{x: x, P: P, F: F, H: H, Q: Q, R: R}
}

// Predict advances the state by one frame period and returns the predicted box.
func (f *BoxFilter) Predict() geometry.Box {
	var xNew mat.Dense
	xNew.Mul(f.F, f.x)
	f.x = &xNew

	var FP, FPFt, PNew mat.Dense
	FP.Mul(f.F, f.P)
	FPFt.Mul(&FP, f.F.T())
	PNew.Add(&FPFt, f.Q)
	f.P = &PNew

	return f.boxFromState()
}

// Update incorporates a new measured box.
func (f *BoxFilter) Update(measured geometry.Box) {
	z := mat.NewDense(dimZ, 1, []float64{measured.X, measured.Y, measured.W, measured.H})

	var y mat.Dense
	var Hx mat.Dense
	Hx.Mul(f.H, f.x)
	y.Sub(z, &Hx)

	var HP, HPHt, S mat.Dense
	HP.Mul(f.H, f.P)
	HPHt.Mul(&HP, f.H.T())
	S.Add(&HPHt, f.R)

	var Sinv mat.Dense
	if err := Sinv.Inverse(&S); err != nil {
		// Singular innovation covariance: skip the update rather than
		// propagate NaNs into the state.
		return
	}

	var PHt, K mat.Dense
	PHt.Mul(f.P, f.H.T())
	K.Mul(&PHt, &Sinv)

	var Ky mat.Dense
	Ky.Mul(&K, &y)

	var xNew mat.Dense
	xNew.Add(f.x, &Ky)
	f.x = &xNew

	var KH, IminusKH, PNew mat.Dense
	KH.Mul(&K, f.H)
	identity := mat.NewDense(dimX, dimX, nil)
	for i := 0; i < dimX; i++ {
		identity.Set(i, i, 1.0)
	}
	IminusKH.Sub(identity, &KH)
	PNew.Mul(&IminusKH, f.P)
	f.P = &PNew
}

// Estimate returns the current box estimate without advancing state.
func (f *BoxFilter) Estimate() geometry.Box {
	return f.boxFromState()
}

func (f *BoxFilter) boxFromState() geometry.Box {
	return geometry.Box{
		X: f.x.At(0, 0),
		Y: f.x.At(1, 0),
		W: f.x.At(2, 0),
		H: f.x.At(3, 0),
	}
}
