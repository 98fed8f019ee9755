// Package transform provides affine transforms and image geometries that map
// between voxel, world, and surface coordinate spaces.
//
// An Affine is an N-D linear transform stored as a square homogeneous matrix
// with optional source and target geometries and a declared coordinate
// space. An ImageGeometry positions a voxel grid in 3D world space and
// derives the voxel-to-world mapping from shape, voxel size, rotation, and
// center parameters.
package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when an array or matrix has the wrong shape
	// for an operation.
	ErrShape = errors.New("transform: invalid shape")
	// ErrDimensionMismatch is returned when transforms of different
	// dimensionality are combined.
	ErrDimensionMismatch = errors.New("transform: dimension mismatch")
	// ErrMissingContext is returned when a space conversion is requested
	// on a transform whose space, source, or target is undefined.
	ErrMissingContext = errors.New("transform: space, source, and target must be defined for affine conversion")
	// ErrReadOnly is returned when mutating a borrowed, read-only
	// transform or geometry. Use Copy to obtain a writable instance.
	ErrReadOnly = errors.New("transform: read-only, use Copy to duplicate before editing")
	// ErrSingular is returned when a matrix cannot be inverted.
	ErrSingular = errors.New("transform: singular matrix")
	// ErrUnknownSpace is returned for unrecognized coordinate space names.
	ErrUnknownSpace = errors.New("transform: unknown coordinate space")
	// ErrInvalidOrientation is returned for malformed orientation strings.
	ErrInvalidOrientation = errors.New("transform: invalid orientation")
)

// Affine is an N-D linear transform represented by a square homogeneous
// (N+1)x(N+1) matrix, where N is 2 or 3. It optionally tracks the source
// (moving) and target (fixed) image geometries and the coordinate space the
// transform operates in; these are required only for space conversion.
//
// An Affine obtained from an ImageGeometry accessor is a borrowed, read-only
// view: mutators return ErrReadOnly until the caller duplicates it with Copy.
type Affine struct {
	matrix   *mat.Dense
	ndim     int
	space    Space
	source   *ImageGeometry
	target   *ImageGeometry
	readOnly bool
}

// NewAffine creates an affine transform from a matrix of shape (N, N+1) or
// (N+1, N+1), where N is 2 or 3. The matrix is stored as a full square
// homogeneous matrix; the last row is forced to [0, ..., 0, 1].
func NewAffine(m mat.Matrix) (*Affine, error) {
	rows, cols := m.Dims()
	ndim := cols - 1
	if (ndim != 2 && ndim != 3) || (rows != ndim && rows != ndim+1) {
		return nil, fmt.Errorf("%w: an N-D affine requires an (N, N+1) or (N+1, N+1) matrix with N of 2 or 3, got %dx%d",
			ErrShape, rows, cols)
	}
	square := mat.NewDense(ndim+1, ndim+1, nil)
	for i := 0; i < ndim; i++ {
		for j := 0; j <= ndim; j++ {
			square.Set(i, j, m.At(i, j))
		}
	}
	square.Set(ndim, ndim, 1)
	return &Affine{matrix: square, ndim: ndim}, nil
}

// Identity returns an identity affine transform of the given dimensionality.
func Identity(ndim int) (*Affine, error) {
	if ndim != 2 && ndim != 3 {
		return nil, fmt.Errorf("%w: affine transform must be 2D or 3D, got %d", ErrShape, ndim)
	}
	m := mat.NewDense(ndim+1, ndim+1, nil)
	for i := 0; i <= ndim; i++ {
		m.Set(i, i, 1)
	}
	return &Affine{matrix: m, ndim: ndim}, nil
}

// NDim returns the dimensionality of the transform.
func (a *Affine) NDim() int {
	return a.ndim
}

// Matrix returns a copy of the homogeneous matrix.
func (a *Affine) Matrix() *mat.Dense {
	return mat.DenseCopyOf(a.matrix)
}

// Space returns the coordinate space of the transform.
func (a *Affine) Space() Space {
	return a.space
}

// Source returns the source (moving) image geometry, or nil.
func (a *Affine) Source() *ImageGeometry {
	return a.source
}

// Target returns the target (fixed) image geometry, or nil.
func (a *Affine) Target() *ImageGeometry {
	return a.target
}

// ReadOnly reports whether the transform is a borrowed, immutable view.
func (a *Affine) ReadOnly() bool {
	return a.readOnly
}

// Copy returns a writable deep copy of the transform.
func (a *Affine) Copy() *Affine {
	return &Affine{
		matrix: mat.DenseCopyOf(a.matrix),
		ndim:   a.ndim,
		space:  a.space,
		source: a.source.Copy(),
		target: a.target.Copy(),
	}
}

// SetMatrix replaces the matrix, applying the same shape rules as NewAffine.
func (a *Affine) SetMatrix(m mat.Matrix) error {
	if a.readOnly {
		return ErrReadOnly
	}
	next, err := NewAffine(m)
	if err != nil {
		return err
	}
	if next.ndim != a.ndim {
		return fmt.Errorf("%w: cannot replace %dD matrix with %dD matrix", ErrDimensionMismatch, a.ndim, next.ndim)
	}
	a.matrix = next.matrix
	return nil
}

// SetSpace sets the coordinate space of the transform.
func (a *Affine) SetSpace(s Space) error {
	if a.readOnly {
		return ErrReadOnly
	}
	a.space = s
	return nil
}

// SetSource sets the source (moving) image geometry.
func (a *Affine) SetSource(g *ImageGeometry) error {
	if a.readOnly {
		return ErrReadOnly
	}
	a.source = g.Copy()
	return nil
}

// SetTarget sets the target (fixed) image geometry.
func (a *Affine) SetTarget(g *ImageGeometry) error {
	if a.readOnly {
		return ErrReadOnly
	}
	a.target = g.Copy()
	return nil
}

// Mul composes two affine transforms by matrix multiplication. The result
// carries no space, source, or target information, since those are only
// meaningful for a single transform in a known context.
func (a *Affine) Mul(b *Affine) (*Affine, error) {
	if a.ndim != b.ndim {
		return nil, fmt.Errorf("%w: cannot multiply %dD and %dD affines together", ErrDimensionMismatch, a.ndim, b.ndim)
	}
	var m mat.Dense
	m.Mul(a.matrix, b.matrix)
	return NewAffine(&m)
}

// TransformPoint applies the transform to a single N-D point.
func (a *Affine) TransformPoint(point []float64) ([]float64, error) {
	if len(point) != a.ndim {
		return nil, fmt.Errorf("%w: expected %d-element point, got %d", ErrShape, a.ndim, len(point))
	}
	out := make([]float64, a.ndim)
	for i := 0; i < a.ndim; i++ {
		v := a.matrix.At(i, a.ndim)
		for j := 0; j < a.ndim; j++ {
			v += a.matrix.At(i, j) * point[j]
		}
		out[i] = v
	}
	return out, nil
}

// TransformPoints applies the transform to a stack of N-D points.
func (a *Affine) TransformPoints(points [][]float64) ([][]float64, error) {
	out := make([][]float64, len(points))
	for i, p := range points {
		tp, err := a.TransformPoint(p)
		if err != nil {
			return nil, err
		}
		out[i] = tp
	}
	return out, nil
}

// Inv computes the inverse transform. Source and target geometries are
// swapped, since an inverse transform reverses direction; the coordinate
// space is preserved.
func (a *Affine) Inv() (*Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.matrix); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	out, err := NewAffine(&inv)
	if err != nil {
		return nil, err
	}
	out.space = a.space
	out.source = a.target
	out.target = a.source
	return out, nil
}

// Det computes the determinant of the top-left NxN block.
func (a *Affine) Det() float64 {
	return mat.Det(a.matrix.Slice(0, a.ndim, 0, a.ndim))
}

// Components holds the result of decomposing an affine matrix.
type Components struct {
	// Translation holds N translation parameters.
	Translation []float64
	// Rotation holds 1 (2D) or 3 (3D) Euler-style rotation angles.
	Rotation []float64
	// Scale holds N positive scale parameters.
	Scale []float64
	// Shear holds 1 (2D) or 3 (3D: xy, xz, yz) shear parameters.
	Shear []float64
}

// Decompose extracts translation, rotation, scale, and shear components
// from the affine matrix. The linear block is QR-factorized; the
// orthonormal factor is sign-corrected so scales are positive before
// rotation angles are read off. Angles are returned in degrees when
// degrees is true, radians otherwise.
func (a *Affine) Decompose(degrees bool) (Components, error) {
	n := a.ndim
	translation := make([]float64, n)
	for i := 0; i < n; i++ {
		translation[i] = a.matrix.At(i, n)
	}

	block := mat.DenseCopyOf(a.matrix.Slice(0, n, 0, n))
	var qr mat.QR
	qr.Factorize(block)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	scale := make([]float64, n)
	sign := make([]float64, n)
	for i := 0; i < n; i++ {
		scale[i] = math.Abs(r.At(i, i))
		sign[i] = 1
		if r.At(i, i) < 0 {
			sign[i] = -1
		}
	}

	// Correct the orthonormal factor so the triangular diagonal is positive.
	rot := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			rot.Set(i, j, q.At(i, j)*sign[j])
		}
	}
	rotation, err := RotationMatrixToAngles(rot, degrees)
	if err != nil {
		return Components{}, err
	}

	// Normalized upper-triangular factor: shear entries are read off the
	// off-diagonal of sign(R) * R with rows divided by scale.
	var shear []float64
	shearAt := func(i, j int) float64 {
		return sign[i] * r.At(i, j) / scale[i]
	}
	if n == 2 {
		shear = []float64{shearAt(0, 1)}
	} else {
		shear = []float64{shearAt(0, 1), shearAt(0, 2), shearAt(1, 2)}
	}

	return Components{
		Translation: translation,
		Rotation:    rotation,
		Scale:       scale,
		Shear:       shear,
	}, nil
}

// ComposeParams configures ComposeAffine. Nil component slices default to
// the identity component (zero translation, rotation, and shear, unit
// scale). NDim defaults to 3.
type ComposeParams struct {
	Translation []float64
	Rotation    []float64
	Scale       []float64
	Shear       []float64
	NDim        int
	// Degrees interprets rotation angles as degrees instead of radians.
	Degrees bool
}

// ComposeAffine builds an affine matrix from translation, rotation, scale,
// and shear components, applied in that order (T * R * Z * S).
func ComposeAffine(p ComposeParams) (*Affine, error) {
	ndim := p.NDim
	if ndim == 0 {
		ndim = 3
	}
	if ndim != 2 && ndim != 3 {
		return nil, fmt.Errorf("%w: affine transform must be 2D or 3D, got ndim %d", ErrShape, ndim)
	}
	nangles := 1
	if ndim == 3 {
		nangles = 3
	}

	translation := p.Translation
	if translation == nil {
		translation = make([]float64, ndim)
	}
	if len(translation) != ndim {
		return nil, fmt.Errorf("%w: expected %d translation parameters, got %d", ErrShape, ndim, len(translation))
	}

	rotation := p.Rotation
	if rotation == nil {
		rotation = make([]float64, nangles)
	}
	if len(rotation) != nangles {
		return nil, fmt.Errorf("%w: expected %d rotation angles, got %d", ErrShape, nangles, len(rotation))
	}

	scale := p.Scale
	if scale == nil {
		scale = make([]float64, ndim)
		for i := range scale {
			scale[i] = 1
		}
	}
	if len(scale) != ndim {
		return nil, fmt.Errorf("%w: expected %d scale parameters, got %d", ErrShape, ndim, len(scale))
	}

	shear := p.Shear
	if shear == nil {
		shear = make([]float64, nangles)
	}
	if len(shear) != nangles {
		return nil, fmt.Errorf("%w: expected %d shear parameters, got %d", ErrShape, nangles, len(shear))
	}

	t := mat.NewDense(ndim+1, ndim+1, nil)
	for i := 0; i <= ndim; i++ {
		t.Set(i, i, 1)
	}
	for i := 0; i < ndim; i++ {
		t.Set(i, ndim, translation[i])
	}

	rm, err := AnglesToRotationMatrix(rotation, p.Degrees)
	if err != nil {
		return nil, err
	}
	r := mat.NewDense(ndim+1, ndim+1, nil)
	r.Set(ndim, ndim, 1)
	for i := 0; i < ndim; i++ {
		for j := 0; j < ndim; j++ {
			r.Set(i, j, rm.At(i, j))
		}
	}

	z := mat.NewDense(ndim+1, ndim+1, nil)
	z.Set(ndim, ndim, 1)
	for i := 0; i < ndim; i++ {
		z.Set(i, i, scale[i])
	}

	s := mat.NewDense(ndim+1, ndim+1, nil)
	for i := 0; i <= ndim; i++ {
		s.Set(i, i, 1)
	}
	s.Set(0, 1, shear[0])
	if ndim == 3 {
		s.Set(0, 2, shear[1])
		s.Set(1, 2, shear[2])
	}

	var m mat.Dense
	m.Mul(t, r)
	m.Mul(&m, z)
	m.Mul(&m, s)
	return NewAffine(&m)
}

// Convert re-expresses the transform in a new coordinate space and/or with
// new source and target geometries. Nil source/target and SpaceUnknown
// leave the respective property unchanged. The original transform's space,
// source, and target must all be defined if any change is requested,
// otherwise ErrMissingContext is returned.
func (a *Affine) Convert(source, target *ImageGeometry, space Space) (*Affine, error) {
	if source == nil {
		source = a.source
	}
	if target == nil {
		target = a.target
	}
	if space == SpaceUnknown {
		space = a.space
	}

	sameSpace := space == a.space
	sameSource := ImageGeometryEqual(source, a.source, 0)
	sameTarget := ImageGeometryEqual(target, a.target, 0)

	if sameSpace && sameSource && sameTarget {
		return a.Copy(), nil
	}

	if a.source == nil || a.target == nil || a.space == SpaceUnknown {
		return nil, ErrMissingContext
	}

	var conv *Affine
	var err error
	if sameSource && sameTarget {
		// Simple conversion of the transform's coordinate space without
		// changing source and target information.
		conv, err = a.sandwich(a.target, a.space, space, a.source, space, a.space)
		if err != nil {
			return nil, err
		}
	} else {
		// When source or target change, normalize into world space first.
		if a.space == SpaceWorld {
			conv = a.Copy()
		} else {
			conv, err = a.sandwich(a.target, a.space, SpaceWorld, a.source, SpaceWorld, a.space)
			if err != nil {
				return nil, err
			}
		}
		if space != SpaceWorld {
			left, err := target.Affine(SpaceWorld, space)
			if err != nil {
				return nil, err
			}
			right, err := source.Affine(space, SpaceWorld)
			if err != nil {
				return nil, err
			}
			conv, err = left.Mul(conv)
			if err != nil {
				return nil, err
			}
			conv, err = conv.Mul(right)
			if err != nil {
				return nil, err
			}
		}
	}

	out, err := NewAffine(conv.matrix)
	if err != nil {
		return nil, err
	}
	out.space = space
	out.source = source.Copy()
	out.target = target.Copy()
	return out, nil
}

// sandwich computes left.Affine(lFrom, lTo) * a * right.Affine(rFrom, rTo).
func (a *Affine) sandwich(left *ImageGeometry, lFrom, lTo Space, right *ImageGeometry, rFrom, rTo Space) (*Affine, error) {
	l, err := left.Affine(lFrom, lTo)
	if err != nil {
		return nil, err
	}
	r, err := right.Affine(rFrom, rTo)
	if err != nil {
		return nil, err
	}
	out, err := l.Mul(a)
	if err != nil {
		return nil, err
	}
	return out.Mul(r)
}

// AffineEqual tests whether two affine transforms are equivalent within an
// absolute elementwise tolerance. When matrixOnly is true, space, source,
// and target information are ignored.
func AffineEqual(a, b *Affine, matrixOnly bool, tol float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ndim != b.ndim {
		return false
	}
	for i := 0; i <= a.ndim; i++ {
		for j := 0; j <= a.ndim; j++ {
			if math.Abs(a.matrix.At(i, j)-b.matrix.At(i, j)) > tol {
				return false
			}
		}
	}
	if matrixOnly {
		return true
	}
	if a.space != b.space {
		return false
	}
	return ImageGeometryEqual(a.source, b.source, tol) && ImageGeometryEqual(a.target, b.target, tol)
}

// RotationMatrixToAngles computes Euler-style rotation angles from an (N, N)
// rotation matrix: a single angle in 2D, three angles in 3D following the
// rx*ry*rz convention. Angles are returned in degrees when degrees is true.
func RotationMatrixToAngles(m mat.Matrix, degrees bool) ([]float64, error) {
	rows, cols := m.Dims()
	if rows != cols {
		return nil, fmt.Errorf("%w: N-D rotation matrix must be square, got %dx%d", ErrShape, rows, cols)
	}

	var rotation []float64
	switch rows {
	case 2:
		rotation = []float64{math.Atan2(m.At(1, 0), m.At(1, 1))}
	case 3:
		rotation = []float64{
			math.Atan2(m.At(1, 2), m.At(2, 2)),
			math.Atan2(m.At(0, 2), math.Hypot(m.At(1, 2), m.At(2, 2))),
			math.Atan2(m.At(0, 1), m.At(0, 0)),
		}
	default:
		return nil, fmt.Errorf("%w: expected (N, N) rotation matrix with N of 2 or 3, got N of %d", ErrShape, rows)
	}

	if degrees {
		for i := range rotation {
			rotation[i] *= 180 / math.Pi
		}
	}
	return rotation, nil
}

// AnglesToRotationMatrix computes an (N, N) rotation matrix from 1 (2D) or
// 3 (3D) rotation angles, combining the axis rotations as rx*ry*rz. Angles
// are interpreted as degrees when degrees is true.
func AnglesToRotationMatrix(rotation []float64, degrees bool) (*mat.Dense, error) {
	angles := make([]float64, len(rotation))
	copy(angles, rotation)
	if degrees {
		for i := range angles {
			angles[i] *= math.Pi / 180
		}
	}

	switch len(angles) {
	case 1:
		c, s := math.Cos(angles[0]), math.Sin(angles[0])
		return mat.NewDense(2, 2, []float64{c, -s, s, c}), nil
	case 3:
		c, s := math.Cos(angles[0]), math.Sin(angles[0])
		rx := mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, s, 0, -s, c})
		c, s = math.Cos(angles[1]), math.Sin(angles[1])
		ry := mat.NewDense(3, 3, []float64{c, 0, s, 0, 1, 0, -s, 0, c})
		c, s = math.Cos(angles[2]), math.Sin(angles[2])
		rz := mat.NewDense(3, 3, []float64{c, s, 0, -s, c, 0, 0, 0, 1})
		var m mat.Dense
		m.Mul(rx, ry)
		m.Mul(&m, rz)
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: expected 1 (2D) or 3 (3D) rotation angles, got %d", ErrShape, len(angles))
	}
}
