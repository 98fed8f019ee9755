package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/mrjoshuak/go-mgh/interp"
	"github.com/mrjoshuak/go-mgh/transform"
)

// geomTolerance is the absolute tolerance used when comparing voxel sizes,
// rotations, and voxel coordinates between geometries.
const geomTolerance = 1e-5

// Resize reslices the volume to a new voxel size, keeping the rotation and
// world center. If the current voxel size already matches within tolerance,
// a plain copy is returned. The target shape covers the same physical
// extent, rounded up per axis.
func (v *Volume) Resize(voxsize [3]float64, method interp.Method) (*Volume, error) {
	cur := v.geom.VoxSize()
	if scalar.EqualWithinAbs(cur[0], voxsize[0], geomTolerance) &&
		scalar.EqualWithinAbs(cur[1], voxsize[1], geomTolerance) &&
		scalar.EqualWithinAbs(cur[2], voxsize[2], geomTolerance) {
		return v.Copy(), nil
	}
	for _, s := range voxsize {
		if s <= 0 {
			return nil, fmt.Errorf("%w: voxel sizes must be positive, got %v", ErrInvalidArgument, voxsize)
		}
	}

	var shape [3]int
	for i := 0; i < 3; i++ {
		shape[i] = int(math.Ceil(cur[i] * float64(v.shape[i]) / voxsize[i]))
	}
	center := v.geom.Center()
	target, err := transform.NewImageGeometry(transform.GeometryParams{
		Shape:    shape,
		VoxSize:  voxsize[:],
		Rotation: v.geom.Rotation(),
		Center:   center[:],
	})
	if err != nil {
		return nil, err
	}
	return v.resampleTo(target, method, 0)
}

// ResampleLike resamples the volume onto a target geometry. Equal
// geometries return a plain copy. When the voxel sizes, rotations, and
// shears match within tolerance and the grids differ only by an integer
// voxel offset, data is placed by direct copy with no interpolation;
// otherwise the general kernel runs with the given fill value for
// out-of-range voxels.
func (v *Volume) ResampleLike(target Geometried, method interp.Method, fill float64) (*Volume, error) {
	tgt := target.Geometry()
	if transform.ImageGeometryEqual(v.geom, tgt, 0) {
		return v.Copy(), nil
	}

	if offset, ok := v.integerOffsetTo(tgt); ok {
		return v.offsetCopy(tgt, offset, fill)
	}
	return v.resampleTo(tgt, method, fill)
}

// integerOffsetTo reports whether the target grid is the source grid
// shifted by a whole number of voxels, returning that offset. It requires
// matching voxel sizes, rotations, and shears within tolerance.
func (v *Volume) integerOffsetTo(tgt *transform.ImageGeometry) ([3]int, bool) {
	svs, tvs := v.geom.VoxSize(), tgt.VoxSize()
	for i := 0; i < 3; i++ {
		if !scalar.EqualWithinAbs(svs[i], tvs[i], geomTolerance) {
			return [3]int{}, false
		}
	}
	srot, trot := v.geom.Rotation(), tgt.Rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !scalar.EqualWithinAbs(srot.At(i, j), trot.At(i, j), geomTolerance) {
				return [3]int{}, false
			}
		}
	}
	sshear, err := v.geom.Shear()
	if err != nil {
		return [3]int{}, false
	}
	tshear, err := tgt.Shear()
	if err != nil {
		return [3]int{}, false
	}
	for i := 0; i < 3; i++ {
		if !scalar.EqualWithinAbs(sshear[i], tshear[i], geomTolerance) {
			return [3]int{}, false
		}
	}

	// Source voxel (0, 0, 0) expressed in target voxel coordinates.
	toTarget, err := tgt.WorldToVox().Mul(v.geom.VoxToWorld())
	if err != nil {
		return [3]int{}, false
	}
	coord, err := toTarget.TransformPoint([]float64{0, 0, 0})
	if err != nil {
		return [3]int{}, false
	}
	var offset [3]int
	for i := 0; i < 3; i++ {
		rounded := math.Round(coord[i])
		if !scalar.EqualWithinAbs(coord[i], rounded, geomTolerance) {
			return [3]int{}, false
		}
		offset[i] = int(rounded)
	}
	return offset, true
}

// offsetCopy places the volume's data into the target grid at an integer
// voxel offset, clamping both sides so neither grid is indexed out of
// range, and filling the remainder.
func (v *Volume) offsetCopy(tgt *transform.ImageGeometry, offset [3]int, fill float64) (*Volume, error) {
	tshape := tgt.Shape()
	var srcStart, tgtStart, tgtStop [3]int
	for i := 0; i < 3; i++ {
		tgtStart[i] = offset[i]
		tgtStop[i] = offset[i] + v.shape[i]
		if tgtStart[i] < 0 {
			srcStart[i] = -tgtStart[i]
			tgtStart[i] = 0
		}
		if tgtStop[i] > tshape[i] {
			tgtStop[i] = tshape[i]
		}
	}

	data := make([]float64, tshape[0]*tshape[1]*tshape[2]*v.frames)
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	tgtN := tshape[0] * tshape[1] * tshape[2]
	for f := 0; f < v.frames; f++ {
		for k := tgtStart[2]; k < tgtStop[2]; k++ {
			sk := srcStart[2] + k - tgtStart[2]
			for j := tgtStart[1]; j < tgtStop[1]; j++ {
				sj := srcStart[1] + j - tgtStart[1]
				for i := tgtStart[0]; i < tgtStop[0]; i++ {
					si := srcStart[0] + i - tgtStart[0]
					data[i+tshape[0]*(j+tshape[1]*k)+f*tgtN] = v.At(si, sj, sk, f)
				}
			}
		}
	}
	return v.derive(data, tshape, v.frames, tgt)
}

// resampleTo runs the interpolation kernel with the target-to-source voxel
// mapping implied by the two geometries.
func (v *Volume) resampleTo(tgt *transform.ImageGeometry, method interp.Method, fill float64) (*Volume, error) {
	toSource, err := v.geom.WorldToVox().Mul(tgt.VoxToWorld())
	if err != nil {
		return nil, err
	}
	data, err := interp.Interpolate(interp.Params{
		Source:      v.data,
		SourceShape: v.shape,
		Frames:      v.frames,
		TargetShape: tgt.Shape(),
		Method:      method,
		Affine:      toSource.Matrix(),
		Fill:        fill,
	})
	if err != nil {
		return nil, err
	}
	return v.derive(data, tgt.Shape(), v.frames, tgt)
}

// TransformOptions configures Volume.Transform. Exactly the affine, the
// displacement field, or both may be given. When Resample is false only
// the geometry is updated and the voxel data is left untouched, which is
// incompatible with a displacement field.
type TransformOptions struct {
	Affine *transform.Affine
	// Disp is a displacement field in voxel units, shaped like the image
	// with three frames.
	Disp     *Volume
	Method   interp.Method
	Anchor   interp.Anchor
	Resample bool
	Fill     float64
}

// Transform applies an affine and/or displacement-field transform to the
// volume. A header-only transform (Resample false) composes the affine, in
// world space, onto the voxel-to-world matrix. A resampling transform
// converts the affine to voxel space, inverts it to obtain the
// target-to-source mapping, and interpolates.
func (v *Volume) Transform(opts TransformOptions) (*Volume, error) {
	if !opts.Resample && opts.Disp != nil {
		return nil, fmt.Errorf("%w: resampling must be enabled when transforming with a displacement field", ErrInvalidArgument)
	}
	if opts.Affine == nil && opts.Disp == nil {
		return nil, fmt.Errorf("%w: transform requires an affine or a displacement field", ErrInvalidArgument)
	}

	if !opts.Resample {
		world, err := opts.Affine.Convert(v.geom, nil, transform.SpaceWorld)
		if err != nil {
			return nil, err
		}
		composed, err := world.Mul(v.geom.VoxToWorld())
		if err != nil {
			return nil, err
		}
		out := v.Copy()
		if err := out.geom.SetVoxToWorld(composed.Matrix()); err != nil {
			return nil, err
		}
		return out, nil
	}

	targetGeom := v.geom
	var matrix *transform.Affine
	if opts.Affine != nil {
		matrix = opts.Affine
		if matrix.Space() != transform.SpaceUnknown {
			if matrix.Source() != nil && matrix.Target() != nil {
				vox, err := matrix.Convert(v.geom, nil, transform.SpaceVoxel)
				if err != nil {
					return nil, err
				}
				matrix = vox
				targetGeom = vox.Target()
			} else if matrix.Space() != transform.SpaceVoxel {
				return nil, fmt.Errorf("%w: affine must carry source and target geometries when its space is not voxel", ErrInvalidArgument)
			}
		}
	}

	// Resampling needs the target-to-source voxel mapping.
	var toSource *transform.Affine
	if matrix != nil {
		inv, err := matrix.Inv()
		if err != nil {
			return nil, err
		}
		toSource = inv
	}

	var disp []float64
	if opts.Disp != nil {
		if opts.Disp.Shape() != targetGeom.Shape() || opts.Disp.Frames() != 3 {
			return nil, fmt.Errorf("%w: displacement field must match the target shape with 3 frames", ErrShape)
		}
		disp = opts.Disp.Data()
	}

	params := interp.Params{
		Source:      v.data,
		SourceShape: v.shape,
		Frames:      v.frames,
		TargetShape: targetGeom.Shape(),
		Method:      opts.Method,
		Disp:        disp,
		Anchor:      opts.Anchor,
		Fill:        opts.Fill,
	}
	if toSource != nil {
		params.Affine = toSource.Matrix()
	}
	data, err := interp.Interpolate(params)
	if err != nil {
		return nil, err
	}
	return v.derive(data, targetGeom.Shape(), v.frames, targetGeom)
}
