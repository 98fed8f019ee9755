package volume

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mrjoshuak/go-mgh/transform"
)

// Range is a half-open [Start, Stop) index interval along one axis. A
// zero Step means 1; cropping only supports unit steps, so any other
// value is rejected. Reversing an axis is done with Reorient instead.
type Range struct {
	Start int
	Stop  int
	Step  int
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	return r.Stop - r.Start
}

func checkRange(r Range, extent int, axis int) error {
	if r.Step != 0 && r.Step != 1 {
		return fmt.Errorf("%w: cropping does not support stepped or reversed ranges, use Reorient to flip axes", ErrNotSupported)
	}
	if r.Start < 0 || r.Stop > extent || r.Start >= r.Stop {
		return fmt.Errorf("%w: range [%d, %d) is invalid for axis %d of extent %d",
			ErrShape, r.Start, r.Stop, axis, extent)
	}
	return nil
}

// croppedGeometry builds the geometry of a region starting at voxel start
// with the given spatial shape, preserving the world-space mapping of the
// source geometry. shape3 is padded to three entries for 2D regions.
func croppedGeometry(geom *transform.ImageGeometry, start [3]float64, shape3 [3]int,
	rotation [3][3]float64, voxsize [3]float64, outShape [3]int) (*transform.ImageGeometry, error) {

	v2w := geom.VoxToWorld().Matrix()
	origin, err := geom.VoxToWorld().TransformPoint(start[:])
	if err != nil {
		return nil, err
	}
	// World coordinate of the cropped region's center, using the source
	// linear mapping with the translation moved to the region origin.
	var center [3]float64
	for i := 0; i < 3; i++ {
		c := origin[i]
		for j := 0; j < 3; j++ {
			c += v2w.At(i, j) * float64(shape3[j]) / 2
		}
		center[i] = c
	}
	rot := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		rot = append(rot, rotation[i][0], rotation[i][1], rotation[i][2])
	}
	return transform.NewImageGeometry(transform.GeometryParams{
		Shape:    outShape,
		VoxSize:  voxsize[:],
		Rotation: mat.NewDense(3, 3, rot),
		Center:   center[:],
	})
}

// Crop extracts a box region of the volume, preserving its world-space
// mapping in the result's geometry.
func (v *Volume) Crop(ranges [3]Range) (*Volume, error) {
	for axis, r := range ranges {
		if err := checkRange(r, v.shape[axis], axis); err != nil {
			return nil, err
		}
	}
	shape := [3]int{ranges[0].Len(), ranges[1].Len(), ranges[2].Len()}
	data := make([]float64, shape[0]*shape[1]*shape[2]*v.frames)
	n := 0
	for f := 0; f < v.frames; f++ {
		for k := ranges[2].Start; k < ranges[2].Stop; k++ {
			for j := ranges[1].Start; j < ranges[1].Stop; j++ {
				for i := ranges[0].Start; i < ranges[0].Stop; i++ {
					data[n] = v.At(i, j, k, f)
					n++
				}
			}
		}
	}

	rot := v.geom.Rotation()
	var rotation [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rotation[i][j] = rot.At(i, j)
		}
	}
	start := [3]float64{float64(ranges[0].Start), float64(ranges[1].Start), float64(ranges[2].Start)}
	geom, err := croppedGeometry(v.geom, start, shape, rotation, v.geom.VoxSize(), shape)
	if err != nil {
		return nil, err
	}
	return v.derive(data, shape, v.frames, geom)
}

// ExtractSlice collapses one axis of the volume at a fixed index, returning
// a 2D image. The geometry's rotation columns and voxel sizes are permuted
// so the remaining axes keep their world directions.
func (v *Volume) ExtractSlice(axis, index int) (*Slice, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("%w: slice axis must be 0, 1, or 2, got %d", ErrShape, axis)
	}
	if index < 0 || index >= v.shape[axis] {
		return nil, fmt.Errorf("%w: index %d out of range for axis %d of extent %d",
			ErrShape, index, axis, v.shape[axis])
	}

	var shape [2]int
	switch axis {
	case 0:
		shape = [2]int{v.shape[1], v.shape[2]}
	case 1:
		shape = [2]int{v.shape[0], v.shape[2]}
	default:
		shape = [2]int{v.shape[0], v.shape[1]}
	}
	data := make([]float64, shape[0]*shape[1]*v.frames)
	n := 0
	for f := 0; f < v.frames; f++ {
		for b := 0; b < shape[1]; b++ {
			for a := 0; a < shape[0]; a++ {
				var val float64
				switch axis {
				case 0:
					val = v.At(index, a, b, f)
				case 1:
					val = v.At(a, index, b, f)
				default:
					val = v.At(a, b, index, f)
				}
				data[n] = val
				n++
			}
		}
	}

	// The collapsed axis keeps an extent of one for the center
	// computation, in its original position.
	shape3 := [3]int{v.shape[0], v.shape[1], v.shape[2]}
	shape3[axis] = 1
	var start [3]float64
	start[axis] = float64(index)

	// The dropped axis column rotates to the back so the geometry's first
	// two axes match the slice axes.
	perm := [3]int{0, 1, 2}
	switch axis {
	case 0:
		perm = [3]int{1, 2, 0}
	case 1:
		perm = [3]int{0, 2, 1}
	}
	rot := v.geom.Rotation()
	vs := v.geom.VoxSize()
	var rotation [3][3]float64
	var voxsize [3]float64
	for j := 0; j < 3; j++ {
		voxsize[j] = vs[perm[j]]
		for i := 0; i < 3; i++ {
			rotation[i][j] = rot.At(i, perm[j])
		}
	}

	geom, err := croppedGeometry(v.geom, start, shape3, rotation, voxsize, [3]int{shape[0], shape[1], 1})
	if err != nil {
		return nil, err
	}
	out, err := NewSliceData(data, shape, v.frames, v.dtype, geom)
	if err != nil {
		return nil, err
	}
	out.metadata = v.metadata.Copy()
	out.labels = v.labels.Copy()
	return out, nil
}

// Crop extracts a rectangular region of the slice, preserving its
// world-space mapping.
func (s *Slice) Crop(ranges [2]Range) (*Slice, error) {
	for axis, r := range ranges {
		if err := checkRange(r, s.shape[axis], axis); err != nil {
			return nil, err
		}
	}
	shape := [2]int{ranges[0].Len(), ranges[1].Len()}
	data := make([]float64, shape[0]*shape[1]*s.frames)
	n := 0
	for f := 0; f < s.frames; f++ {
		for j := ranges[1].Start; j < ranges[1].Stop; j++ {
			for i := ranges[0].Start; i < ranges[0].Stop; i++ {
				data[n] = s.At(i, j, f)
				n++
			}
		}
	}

	rot := s.geom.Rotation()
	var rotation [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rotation[i][j] = rot.At(i, j)
		}
	}
	start := [3]float64{float64(ranges[0].Start), float64(ranges[1].Start), 0}
	shape3 := [3]int{shape[0], shape[1], 1}
	geom, err := croppedGeometry(s.geom, start, shape3, rotation, s.geom.VoxSize(), shape3)
	if err != nil {
		return nil, err
	}
	out, err := NewSliceData(data, shape, s.frames, s.dtype, geom)
	if err != nil {
		return nil, err
	}
	out.metadata = s.metadata.Copy()
	out.labels = s.labels.Copy()
	return out, nil
}

// ExtractRow collapses one axis of the slice at a fixed index, returning
// the raw values in column-major order with frames varying slowest. Below
// two spatial axes the result is no longer an image, so no geometry is
// produced.
func (s *Slice) ExtractRow(axis, index int) ([]float64, error) {
	if axis < 0 || axis > 1 {
		return nil, fmt.Errorf("%w: row axis must be 0 or 1, got %d", ErrShape, axis)
	}
	if index < 0 || index >= s.shape[axis] {
		return nil, fmt.Errorf("%w: index %d out of range for axis %d of extent %d",
			ErrShape, index, axis, s.shape[axis])
	}
	extent := s.shape[1-axis]
	out := make([]float64, extent*s.frames)
	n := 0
	for f := 0; f < s.frames; f++ {
		for a := 0; a < extent; a++ {
			if axis == 0 {
				out[n] = s.At(index, a, f)
			} else {
				out[n] = s.At(a, index, f)
			}
			n++
		}
	}
	return out, nil
}

// BBox computes the smallest axis-aligned box covering all voxels greater
// than zero, across every frame. An optional per-axis margin widens the
// box without extending past the volume bounds. A volume with no positive
// voxels yields the full extent.
func (v *Volume) BBox(margin []int) ([3]Range, error) {
	if margin != nil && len(margin) != 3 {
		return [3]Range{}, fmt.Errorf("%w: expected 3 margin values, got %d", ErrShape, len(margin))
	}

	low := [3]int{v.shape[0], v.shape[1], v.shape[2]}
	high := [3]int{-1, -1, -1}
	mask := v.MaxAcrossFrames()
	for k := 0; k < v.shape[2]; k++ {
		for j := 0; j < v.shape[1]; j++ {
			for i := 0; i < v.shape[0]; i++ {
				if mask.At(i, j, k, 0) <= 0 {
					continue
				}
				idx := [3]int{i, j, k}
				for axis := 0; axis < 3; axis++ {
					if idx[axis] < low[axis] {
						low[axis] = idx[axis]
					}
					if idx[axis] > high[axis] {
						high[axis] = idx[axis]
					}
				}
			}
		}
	}

	var box [3]Range
	if high[0] < 0 {
		for axis := 0; axis < 3; axis++ {
			box[axis] = Range{Start: 0, Stop: v.shape[axis]}
		}
		return box, nil
	}
	for axis := 0; axis < 3; axis++ {
		start := low[axis]
		stop := high[axis] + 1
		if margin != nil {
			start -= margin[axis]
			stop += margin[axis]
			if start < 0 {
				start = 0
			}
			if stop > v.shape[axis] {
				stop = v.shape[axis]
			}
		}
		box[axis] = Range{Start: start, Stop: stop}
	}
	return box, nil
}

// CropToBBox crops the volume to the bounding box of its positive voxels.
func (v *Volume) CropToBBox(margin []int) (*Volume, error) {
	box, err := v.BBox(margin)
	if err != nil {
		return nil, err
	}
	return v.Crop(box)
}
