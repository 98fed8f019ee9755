package transform

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// orientationLetters maps each world axis direction to its anatomical
// letter. Index is axis*2 + (0 for negative, 1 for positive).
var orientationLetters = [6]byte{'L', 'R', 'P', 'A', 'I', 'S'}

// checkOrientation validates a 3-character anatomical orientation string,
// such as "RAS" or "LIA". Each letter names the world direction of one
// voxel axis, and every world axis must appear exactly once.
func checkOrientation(orientation string) (string, error) {
	up := strings.ToUpper(orientation)
	if len(up) != 3 {
		return "", fmt.Errorf("%w: %q must have exactly 3 characters", ErrInvalidOrientation, orientation)
	}
	var seen [3]bool
	for i := 0; i < 3; i++ {
		idx := strings.IndexByte("LRPAIS", up[i])
		if idx < 0 {
			return "", fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidOrientation, orientation, up[i])
		}
		axis := idx / 2
		if seen[axis] {
			return "", fmt.Errorf("%w: %q repeats a world axis", ErrInvalidOrientation, orientation)
		}
		seen[axis] = true
	}
	return up, nil
}

// OrientationToRotationMatrix computes the exact 3x3 rotation (direction
// cosine) matrix corresponding to an anatomical orientation string. Each
// voxel axis maps to a signed world axis unit vector.
func OrientationToRotationMatrix(orientation string) (*mat.Dense, error) {
	up, err := checkOrientation(orientation)
	if err != nil {
		return nil, err
	}
	m := mat.NewDense(3, 3, nil)
	for col := 0; col < 3; col++ {
		idx := strings.IndexByte("LRPAIS", up[col])
		axis := idx / 2
		val := 1.0
		if idx%2 == 0 {
			val = -1
		}
		m.Set(axis, col, val)
	}
	return m, nil
}

// RotationMatrixToOrientation determines the closest anatomical orientation
// string for a rotation (direction cosine) matrix. For each voxel axis, the
// world axis with the largest absolute component wins, signed by that
// component.
func RotationMatrixToOrientation(m mat.Matrix) (string, error) {
	rows, cols := m.Dims()
	if rows != 3 || cols != 3 {
		return "", fmt.Errorf("%w: expected 3x3 rotation matrix, got %dx%d", ErrShape, rows, cols)
	}
	var out [3]byte
	for col := 0; col < 3; col++ {
		axis := 0
		best := math.Abs(m.At(0, col))
		for row := 1; row < 3; row++ {
			if v := math.Abs(m.At(row, col)); v > best {
				best = v
				axis = row
			}
		}
		idx := axis * 2
		if m.At(axis, col) >= 0 {
			idx++
		}
		out[col] = orientationLetters[idx]
	}
	return string(out[:]), nil
}
