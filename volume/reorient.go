package volume

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/mrjoshuak/go-mgh/interp"
	"github.com/mrjoshuak/go-mgh/transform"
)

// Reorient realigns the voxel data and world matrix to a given anatomical
// orientation, such as "RAS" or "LIA". Axes are permuted and flipped; no
// interpolation occurs, and the world-space mapping of every voxel is
// preserved. Reorienting to the current orientation returns a plain copy.
func (v *Volume) Reorient(orientation string) (*Volume, error) {
	target := strings.ToUpper(orientation)
	source, err := v.geom.Orientation()
	if err != nil {
		return nil, err
	}
	if target == source {
		return v.Copy(), nil
	}

	trgMatrix, err := transform.OrientationToRotationMatrix(target)
	if err != nil {
		return nil, err
	}
	srcMatrix, err := transform.OrientationToRotationMatrix(source)
	if err != nil {
		return nil, err
	}
	trgAxes := worldAxes(trgMatrix)
	srcAxes := worldAxes(srcMatrix)

	data := append([]float64(nil), v.data...)
	shape := v.shape
	affine := v.geom.VoxToWorld().Matrix()

	// Align axes: move each source column to the voxel axis the target
	// orientation expects.
	permuted := mat.DenseCopyOf(affine)
	for i := 0; i < 3; i++ {
		for r := 0; r < 4; r++ {
			permuted.Set(r, trgAxes[i], affine.At(r, srcAxes[i]))
		}
	}
	affine = permuted
	for i := 0; i < 3; i++ {
		if srcAxes[i] == trgAxes[i] {
			continue
		}
		swapAxes(data, &shape, v.frames, srcAxes[i], trgAxes[i])
		for s := range srcAxes {
			if srcAxes[s] == trgAxes[i] {
				srcAxes[s], srcAxes[i] = srcAxes[i], srcAxes[s]
				break
			}
		}
	}

	// Align directions: flip any axis whose world direction disagrees
	// with the target orientation, anchoring the translation at the far
	// end of the flipped extent.
	for i := 0; i < 3; i++ {
		dot := 0.0
		for r := 0; r < 3; r++ {
			dot += affine.At(r, i) * trgMatrix.At(r, i)
		}
		if dot >= 0 {
			continue
		}
		flipAxis(data, shape, v.frames, i)
		for r := 0; r < 3; r++ {
			col := -affine.At(r, i)
			affine.Set(r, i, col)
			affine.Set(r, 3, affine.At(r, 3)-col*float64(shape[i]-1))
		}
	}

	geom, err := transform.NewImageGeometry(transform.GeometryParams{
		Shape:      shape,
		VoxToWorld: affine,
	})
	if err != nil {
		return nil, err
	}
	return v.derive(data, shape, v.frames, geom)
}

// worldAxes returns, per column of the inverted rotation matrix, the row
// index of the dominant absolute component. For an exact orientation
// matrix this maps each world axis to its voxel axis.
func worldAxes(rotation *mat.Dense) [3]int {
	var inv mat.Dense
	if err := inv.Inverse(rotation); err != nil {
		return [3]int{0, 1, 2}
	}
	var out [3]int
	for j := 0; j < 3; j++ {
		best := 0.0
		for i := 0; i < 3; i++ {
			a := inv.At(i, j)
			if a < 0 {
				a = -a
			}
			if a > best {
				best = a
				out[j] = i
			}
		}
	}
	return out
}

// swapAxes exchanges two spatial axes of a column-major framed buffer in
// place, updating the shape.
func swapAxes(data []float64, shape *[3]int, frames, a, b int) {
	if a == b {
		return
	}
	old := *shape
	next := old
	next[a], next[b] = old[b], old[a]

	n := old[0] * old[1] * old[2]
	tmp := make([]float64, n)
	for f := 0; f < frames; f++ {
		frame := data[f*n : (f+1)*n]
		copy(tmp, frame)
		for k := 0; k < old[2]; k++ {
			for j := 0; j < old[1]; j++ {
				for i := 0; i < old[0]; i++ {
					idx := [3]int{i, j, k}
					idx[a], idx[b] = idx[b], idx[a]
					frame[idx[0]+next[0]*(idx[1]+next[1]*idx[2])] = tmp[i+old[0]*(j+old[1]*k)]
				}
			}
		}
	}
	*shape = next
}

// flipAxis reverses one spatial axis of a column-major framed buffer in
// place.
func flipAxis(data []float64, shape [3]int, frames, axis int) {
	n := shape[0] * shape[1] * shape[2]
	at := func(frame []float64, i, j, k int) *float64 {
		return &frame[i+shape[0]*(j+shape[1]*k)]
	}
	for f := 0; f < frames; f++ {
		frame := data[f*n : (f+1)*n]
		for k := 0; k < shape[2]; k++ {
			for j := 0; j < shape[1]; j++ {
				for i := 0; i < shape[0]; i++ {
					idx := [3]int{i, j, k}
					if idx[axis]*2 >= shape[axis]-1 {
						continue
					}
					mirror := idx
					mirror[axis] = shape[axis] - 1 - idx[axis]
					p := at(frame, idx[0], idx[1], idx[2])
					q := at(frame, mirror[0], mirror[1], mirror[2])
					*p, *q = *q, *p
				}
			}
		}
	}
}

// Reshape fits the volume to a new shape by centering it, padding with
// zeros and cropping symmetrically per axis. The world-space position of
// the retained data is preserved, so the physical center stays fixed.
// Reshaping to the current shape returns a plain copy.
func (v *Volume) Reshape(shape [3]int) (*Volume, error) {
	for _, s := range shape {
		if s < 1 {
			return nil, fmt.Errorf("%w: reshape target must be positive, got %v", ErrShape, shape)
		}
	}
	if shape == v.shape {
		return v.Copy(), nil
	}

	// Per axis: pad by floor(delta) low and ceil(delta) high where the
	// target is larger, crop by the negated amounts where smaller. The
	// new origin sits at offset[axis] in old voxel coordinates.
	var offset [3]int
	for i := 0; i < 3; i++ {
		delta := shape[i] - v.shape[i]
		low := delta / 2
		if delta < 0 && delta%2 != 0 {
			low = (delta - 1) / 2
		}
		high := delta - low
		cropLow := 0
		if high < 0 {
			cropLow = -high
		}
		padLow := 0
		if low > 0 {
			padLow = low
		}
		offset[i] = cropLow - padLow
	}

	data := make([]float64, shape[0]*shape[1]*shape[2]*v.frames)
	n := 0
	for f := 0; f < v.frames; f++ {
		for k := 0; k < shape[2]; k++ {
			sk := k + offset[2]
			for j := 0; j < shape[1]; j++ {
				sj := j + offset[1]
				for i := 0; i < shape[0]; i++ {
					si := i + offset[0]
					if si >= 0 && si < v.shape[0] &&
						sj >= 0 && sj < v.shape[1] &&
						sk >= 0 && sk < v.shape[2] {
						data[n] = v.At(si, sj, sk, f)
					}
					n++
				}
			}
		}
	}

	// Same linear mapping, translation moved to the new origin.
	origin, err := v.geom.VoxToWorld().TransformPoint([]float64{
		float64(offset[0]), float64(offset[1]), float64(offset[2]),
	})
	if err != nil {
		return nil, err
	}
	matrix := v.geom.VoxToWorld().Matrix()
	for i := 0; i < 3; i++ {
		matrix.Set(i, 3, origin[i])
	}
	geom, err := transform.NewImageGeometry(transform.GeometryParams{
		Shape:      shape,
		VoxToWorld: matrix,
	})
	if err != nil {
		return nil, err
	}
	return v.derive(data, shape, v.frames, geom)
}

// ConformOptions configures Volume.Conform. A zero VoxSize defaults to
// 1mm isotropic and an empty Orientation to "LIA". Shape and DType are
// optional stages.
type ConformOptions struct {
	Shape       *[3]int
	VoxSize     [3]float64
	Orientation string
	Method      interp.Method
	DType       *DType
}

// Conform runs the standard preprocessing pipeline: reorient, resize, then
// optionally reshape and cast.
func (v *Volume) Conform(opts ConformOptions) (*Volume, error) {
	orientation := opts.Orientation
	if orientation == "" {
		orientation = "LIA"
	}
	voxsize := opts.VoxSize
	if voxsize == ([3]float64{}) {
		voxsize = [3]float64{1, 1, 1}
	}

	out, err := v.Reorient(orientation)
	if err != nil {
		return nil, err
	}
	out, err = out.Resize(voxsize, opts.Method)
	if err != nil {
		return nil, err
	}
	if opts.Shape != nil {
		out, err = out.Reshape(*opts.Shape)
		if err != nil {
			return nil, err
		}
	}
	if opts.DType != nil {
		out = out.AsType(*opts.DType)
	}
	return out, nil
}
