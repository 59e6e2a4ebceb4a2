package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DistanceMatrix builds an NxM matrix of IoU distances (1 - IoU) between
// N detections and M predicted track boxes:
// cost(det,trk) = 1 - IoU(det, trk.predicted_bbox).
// Returns nil when either side is empty (mat.Dense cannot hold a zero
// dimension); Match treats a nil matrix as "no pairs".
func DistanceMatrix(detections, predicted []Box) *mat.Dense {
	rows := len(detections)
	cols := len(predicted)
	if rows == 0 || cols == 0 {
		return nil
	}
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			iou := detections[i].IoU(predicted[j])
			m.Set(i, j, 1.0-iou)
		}
	}
	return m
}

// Match performs greedy minimum-distance matching: repeatedly take the
// global minimum below threshold, record it, then invalidate its row and
// column so neither participates again. Ties (equal minimum distance) are
// broken by the lower detection index, then lower track index (row-major
// scan order).
//
// Returns parallel slices: matchedDetIdx[i] is matched to matchedTrkIdx[i].
func Match(distances *mat.Dense, threshold float64) (matchedDetIdx, matchedTrkIdx []int) {
	if distances == nil {
		return nil, nil
	}
	rows, cols := distances.Dims()

	work := mat.DenseCopyOf(distances)
	const invalid = math.MaxFloat64

	for {
		minVal := math.Inf(1)
		minRow, minCol := -1, -1
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				v := work.At(i, j)
				if v < minVal {
					minVal = v
					minRow, minCol = i, j
				}
			}
		}
		if minRow < 0 || minVal >= threshold {
			break
		}

		matchedDetIdx = append(matchedDetIdx, minRow)
		matchedTrkIdx = append(matchedTrkIdx, minCol)

		for j := 0; j < cols; j++ {
			work.Set(minRow, j, invalid)
		}
		for i := 0; i < rows; i++ {
			work.Set(i, minCol, invalid)
		}
	}
	return matchedDetIdx, matchedTrkIdx
}
