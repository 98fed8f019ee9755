// Package interp resamples framed voxel buffers onto new grids. It is the
// interpolation collaborator used by the geometry-aware image operations:
// callers supply a target-to-source voxel mapping and receive a buffer on
// the target grid, and the geometry code never samples data itself.
package interp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when buffer lengths and shapes disagree.
	ErrShape = errors.New("interp: invalid shape")
	// ErrMethod is returned for an unrecognized interpolation method.
	ErrMethod = errors.New("interp: unknown interpolation method")
)

// Method selects the sampling kernel.
type Method int

const (
	// Nearest samples the closest source voxel.
	Nearest Method = iota
	// Linear samples by trilinear interpolation.
	Linear
)

// String returns the name of the method.
func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Linear:
		return "linear"
	default:
		return "unknown"
	}
}

// Anchor selects the point the affine rotates about.
type Anchor int

const (
	// AnchorCorner applies the affine in raw voxel coordinates.
	AnchorCorner Anchor = iota
	// AnchorCenter applies the affine about the grid centers, shifting
	// target coordinates to the target center and back to the source
	// center.
	AnchorCenter
)

// Params describes one resampling request. Source holds column-major data
// with the frame index varying slowest. Affine is a 4x4 target-to-source
// voxel mapping; nil means identity. Disp is an optional per-target-voxel
// displacement field in voxel units, stored like a 3-frame target-shaped
// buffer, added to the mapped coordinate. Fill is used for samples outside
// the source grid.
type Params struct {
	Source      []float64
	SourceShape [3]int
	Frames      int
	TargetShape [3]int
	Method      Method
	Affine      *mat.Dense
	Disp        []float64
	Anchor      Anchor
	Fill        float64
}

// Interpolate resamples the source buffer onto the target grid and returns
// a column-major buffer of the target shape with the same frame count.
func Interpolate(p Params) ([]float64, error) {
	frames := p.Frames
	if frames < 1 {
		frames = 1
	}
	srcN := p.SourceShape[0] * p.SourceShape[1] * p.SourceShape[2]
	tgtN := p.TargetShape[0] * p.TargetShape[1] * p.TargetShape[2]
	if srcN < 1 || tgtN < 1 {
		return nil, fmt.Errorf("%w: shapes must be positive, got source %v target %v",
			ErrShape, p.SourceShape, p.TargetShape)
	}
	if len(p.Source) != srcN*frames {
		return nil, fmt.Errorf("%w: source buffer has %d elements, shape %v with %d frames requires %d",
			ErrShape, len(p.Source), p.SourceShape, frames, srcN*frames)
	}
	if p.Disp != nil && len(p.Disp) != tgtN*3 {
		return nil, fmt.Errorf("%w: displacement buffer has %d elements, target shape %v requires %d",
			ErrShape, len(p.Disp), p.TargetShape, tgtN*3)
	}
	if p.Method != Nearest && p.Method != Linear {
		return nil, fmt.Errorf("%w: %d", ErrMethod, int(p.Method))
	}
	if p.Affine != nil {
		if r, c := p.Affine.Dims(); r != 4 || c != 4 {
			return nil, fmt.Errorf("%w: affine must be 4x4, got %dx%d", ErrShape, r, c)
		}
	}

	var a [3][4]float64
	for i := 0; i < 3; i++ {
		a[i][i] = 1
	}
	if p.Affine != nil {
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				a[i][j] = p.Affine.At(i, j)
			}
		}
	}

	// Anchoring about the center folds a pre- and post-shift into the
	// affine translation.
	if p.Anchor == AnchorCenter {
		var ct, cs [3]float64
		for i := 0; i < 3; i++ {
			ct[i] = float64(p.TargetShape[i]-1) / 2
			cs[i] = float64(p.SourceShape[i]-1) / 2
		}
		for i := 0; i < 3; i++ {
			shift := cs[i]
			for j := 0; j < 3; j++ {
				shift -= a[i][j] * ct[j]
			}
			a[i][3] += shift
		}
	}

	out := make([]float64, tgtN*frames)
	n := 0
	for k := 0; k < p.TargetShape[2]; k++ {
		for j := 0; j < p.TargetShape[1]; j++ {
			for i := 0; i < p.TargetShape[0]; i++ {
				fi, fj, fk := float64(i), float64(j), float64(k)
				x := a[0][0]*fi + a[0][1]*fj + a[0][2]*fk + a[0][3]
				y := a[1][0]*fi + a[1][1]*fj + a[1][2]*fk + a[1][3]
				z := a[2][0]*fi + a[2][1]*fj + a[2][2]*fk + a[2][3]
				if p.Disp != nil {
					x += p.Disp[n]
					y += p.Disp[n+tgtN]
					z += p.Disp[n+2*tgtN]
				}
				for f := 0; f < frames; f++ {
					var v float64
					if p.Method == Nearest {
						v = sampleNearest(p, srcN, f, x, y, z)
					} else {
						v = sampleLinear(p, srcN, f, x, y, z)
					}
					out[n+f*tgtN] = v
				}
				n++
			}
		}
	}
	return out, nil
}

func (p *Params) srcAt(i, j, k, f, srcN int) float64 {
	return p.Source[i+p.SourceShape[0]*(j+p.SourceShape[1]*k)+f*srcN]
}

func sampleNearest(p Params, srcN, f int, x, y, z float64) float64 {
	i := int(math.Round(x))
	j := int(math.Round(y))
	k := int(math.Round(z))
	if i < 0 || i >= p.SourceShape[0] ||
		j < 0 || j >= p.SourceShape[1] ||
		k < 0 || k >= p.SourceShape[2] {
		return p.Fill
	}
	return p.srcAt(i, j, k, f, srcN)
}

func sampleLinear(p Params, srcN, f int, x, y, z float64) float64 {
	i0 := int(math.Floor(x))
	j0 := int(math.Floor(y))
	k0 := int(math.Floor(z))
	dx := x - float64(i0)
	dy := y - float64(j0)
	dz := z - float64(k0)

	var v float64
	for ci := 0; ci < 2; ci++ {
		wi := 1 - dx
		if ci == 1 {
			wi = dx
		}
		for cj := 0; cj < 2; cj++ {
			wj := 1 - dy
			if cj == 1 {
				wj = dy
			}
			for ck := 0; ck < 2; ck++ {
				wk := 1 - dz
				if ck == 1 {
					wk = dz
				}
				w := wi * wj * wk
				if w == 0 {
					continue
				}
				i, j, k := i0+ci, j0+cj, k0+ck
				s := p.Fill
				if i >= 0 && i < p.SourceShape[0] &&
					j >= 0 && j < p.SourceShape[1] &&
					k >= 0 && k < p.SourceShape[2] {
					s = p.srcAt(i, j, k, f, srcN)
				}
				v += w * s
			}
		}
	}
	return v
}
