package geometry_test

import (
	"testing"

	"github.com/odsyjr2/detection-supervisor/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestIoU_IdenticalBoxesIsOne(t *testing.T) {
	b := geometry.Box{X: 0, Y: 0, W: 10, H: 10}
	assert.InDelta(t, 1.0, b.IoU(b), 1e-9)
}

func TestIoU_DisjointBoxesIsZero(t *testing.T) {
	a := geometry.Box{X: 0, Y: 0, W: 10, H: 10}
	b := geometry.Box{X: 100, Y: 100, W: 10, H: 10}
	assert.Equal(t, 0.0, a.IoU(b))
}

func TestMatch_GreedyPrefersGlobalMinimum(t *testing.T) {
	// mins in order 0.3 (1,1), 0.4 (2,2), 0.5 (0,0)
	d := mat.NewDense(3, 3, []float64{
		0.5, 0.9, 0.8,
		0.9, 0.3, 0.7,
		0.8, 0.7, 0.4,
	})
	dets, trks := geometry.Match(d, 1.0)
	require.Len(t, dets, 3)
	assert.Equal(t, []int{1, 2, 0}, dets)
	assert.Equal(t, []int{1, 2, 0}, trks)
}

func TestMatch_ThresholdExcludesWeakMatches(t *testing.T) {
	d := mat.NewDense(2, 2, []float64{
		0.9, 0.95,
		0.95, 0.2,
	})
	dets, trks := geometry.Match(d, 0.5)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0])
	assert.Equal(t, 1, trks[0])
}

func TestMatch_EmptyInputs(t *testing.T) {
	d := geometry.DistanceMatrix(nil, []geometry.Box{{W: 1, H: 1}})
	require.Nil(t, d)
	dets, trks := geometry.Match(d, 0.5)
	assert.Empty(t, dets)
	assert.Empty(t, trks)
}

func TestMatch_TieBreaksByLowerDetectionIndex(t *testing.T) {
	// Two equal minima: (0,0) and (1,1) both at 0.1. Row-major scan picks
	// (0,0) first, invalidating row 0 and col 0, leaving (1,1) for round two.
	d := mat.NewDense(2, 2, []float64{
		0.1, 0.9,
		0.9, 0.1,
	})
	dets, trks := geometry.Match(d, 0.5)
	require.Len(t, dets, 2)
	assert.Equal(t, 0, dets[0])
	assert.Equal(t, 0, trks[0])
	assert.Equal(t, 1, dets[1])
	assert.Equal(t, 1, trks[1])
}
