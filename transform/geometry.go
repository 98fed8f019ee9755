package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ImageGeometry positions a 3D voxel grid in world space. It is defined by
// the grid shape, voxel size in millimeters, a direction cosine rotation
// matrix whose columns are the world directions of the voxel axes, and the
// world coordinate of the grid center. The voxel-to-world affine is derived
// from these parameters and kept consistent through explicit setters.
//
// Geometry is inherently 3D. Two-dimensional images carry a third extent
// of one.
type ImageGeometry struct {
	shape     [3]int
	voxsize   [3]float64
	rotation  *mat.Dense
	center    [3]float64
	vox2world *mat.Dense
	world2vox *mat.Dense
	readOnly  bool
}

// GeometryParams configures NewImageGeometry. Shape is required. When
// VoxToWorld is set, voxel size, rotation, and center are derived from the
// matrix and must not be given. Otherwise VoxSize defaults to 1mm isotropic,
// Rotation to the identity, and a nil Center leaves the world origin at
// voxel (0, 0, 0).
type GeometryParams struct {
	Shape      [3]int
	VoxSize    []float64
	Rotation   mat.Matrix
	Center     []float64
	VoxToWorld mat.Matrix
}

// NewImageGeometry creates an image geometry from explicit parameters or
// from a voxel-to-world matrix.
func NewImageGeometry(p GeometryParams) (*ImageGeometry, error) {
	for _, s := range p.Shape {
		if s < 1 {
			return nil, fmt.Errorf("%w: geometry shape must be positive, got %v", ErrShape, p.Shape)
		}
	}
	g := &ImageGeometry{shape: p.Shape}

	if p.VoxToWorld != nil {
		if p.VoxSize != nil || p.Rotation != nil || p.Center != nil {
			return nil, fmt.Errorf("%w: cannot set both a voxel-to-world matrix and explicit geometry parameters", ErrShape)
		}
		m, err := squareHomogeneous3D(p.VoxToWorld)
		if err != nil {
			return nil, err
		}
		if err := g.updateFromMatrix(m); err != nil {
			return nil, err
		}
		return g, nil
	}

	voxsize := [3]float64{1, 1, 1}
	if p.VoxSize != nil {
		if len(p.VoxSize) != 3 {
			return nil, fmt.Errorf("%w: expected 3 voxel size parameters, got %d", ErrShape, len(p.VoxSize))
		}
		copy(voxsize[:], p.VoxSize)
	}
	for _, v := range voxsize {
		if v <= 0 {
			return nil, fmt.Errorf("%w: voxel sizes must be positive, got %v", ErrShape, voxsize)
		}
	}

	rotation := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if p.Rotation != nil {
		rows, cols := p.Rotation.Dims()
		if rows != 3 || cols != 3 {
			return nil, fmt.Errorf("%w: expected 3x3 rotation matrix, got %dx%d", ErrShape, rows, cols)
		}
		rotation = mat.DenseCopyOf(p.Rotation)
	}

	m := mat.NewDense(4, 4, nil)
	m.Set(3, 3, 1)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rotation.At(i, j)*voxsize[j])
		}
	}
	if p.Center != nil {
		if len(p.Center) != 3 {
			return nil, fmt.Errorf("%w: expected 3 center coordinates, got %d", ErrShape, len(p.Center))
		}
		// Solve the translation so the grid center maps to the given
		// world coordinate.
		for i := 0; i < 3; i++ {
			t := p.Center[i]
			for j := 0; j < 3; j++ {
				t -= m.At(i, j) * float64(p.Shape[j]) / 2
			}
			m.Set(i, 3, t)
		}
	}
	if err := g.updateFromMatrix(m); err != nil {
		return nil, err
	}
	return g, nil
}

// updateFromMatrix derives voxel size, rotation, and center from a 4x4
// voxel-to-world matrix and caches the matrix and its inverse.
func (g *ImageGeometry) updateFromMatrix(m *mat.Dense) error {
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return fmt.Errorf("%w: voxel-to-world matrix is not invertible", ErrSingular)
	}

	rotation := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		norm := math.Hypot(m.At(0, j), math.Hypot(m.At(1, j), m.At(2, j)))
		if norm == 0 {
			return fmt.Errorf("%w: voxel-to-world matrix has a degenerate column", ErrSingular)
		}
		g.voxsize[j] = norm
		for i := 0; i < 3; i++ {
			rotation.Set(i, j, m.At(i, j)/norm)
		}
	}
	for i := 0; i < 3; i++ {
		c := m.At(i, 3)
		for j := 0; j < 3; j++ {
			c += m.At(i, j) * float64(g.shape[j]) / 2
		}
		g.center[i] = c
	}
	g.rotation = rotation
	g.vox2world = m
	g.world2vox = &inv
	return nil
}

// Geometry returns the geometry itself. It lets *ImageGeometry satisfy
// interfaces that accept any geometry-carrying value.
func (g *ImageGeometry) Geometry() *ImageGeometry {
	return g
}

// Shape returns the voxel grid shape.
func (g *ImageGeometry) Shape() [3]int {
	return g.shape
}

// VoxSize returns the voxel size in millimeters along each axis.
func (g *ImageGeometry) VoxSize() [3]float64 {
	return g.voxsize
}

// Rotation returns a copy of the 3x3 direction cosine matrix.
func (g *ImageGeometry) Rotation() *mat.Dense {
	return mat.DenseCopyOf(g.rotation)
}

// Center returns the world coordinate of the grid center.
func (g *ImageGeometry) Center() [3]float64 {
	return g.center
}

// ReadOnly reports whether the geometry is a borrowed, immutable view.
func (g *ImageGeometry) ReadOnly() bool {
	return g.readOnly
}

// Copy returns a writable deep copy of the geometry. Copying a nil geometry
// returns nil.
func (g *ImageGeometry) Copy() *ImageGeometry {
	if g == nil {
		return nil
	}
	out := *g
	out.rotation = mat.DenseCopyOf(g.rotation)
	out.vox2world = mat.DenseCopyOf(g.vox2world)
	out.world2vox = mat.DenseCopyOf(g.world2vox)
	out.readOnly = false
	return &out
}

// VoxToWorld returns the voxel-to-world transform as a borrowed, read-only
// affine tagged with voxel space and this geometry as source and target.
func (g *ImageGeometry) VoxToWorld() *Affine {
	return g.borrowedAffine(g.vox2world, SpaceVoxel)
}

// WorldToVox returns the world-to-voxel transform as a borrowed, read-only
// affine tagged with world space and this geometry as source and target.
func (g *ImageGeometry) WorldToVox() *Affine {
	return g.borrowedAffine(g.world2vox, SpaceWorld)
}

func (g *ImageGeometry) borrowedAffine(m *mat.Dense, space Space) *Affine {
	return &Affine{
		matrix:   m,
		ndim:     3,
		space:    space,
		source:   g,
		target:   g,
		readOnly: true,
	}
}

// Shear returns the xy, xz, and yz shear components of the voxel-to-world
// transform.
func (g *ImageGeometry) Shear() ([3]float64, error) {
	a := g.borrowedAffine(g.vox2world, SpaceVoxel)
	c, err := a.Decompose(false)
	if err != nil {
		return [3]float64{}, err
	}
	return [3]float64{c.Shear[0], c.Shear[1], c.Shear[2]}, nil
}

// Orientation returns the closest anatomical orientation string for the
// geometry's rotation matrix, such as "RAS" or "LIA".
func (g *ImageGeometry) Orientation() (string, error) {
	return RotationMatrixToOrientation(g.rotation)
}

// Affine returns the transform that maps coordinates between two of the
// geometry's coordinate spaces. The result is a new, writable affine whose
// source and target are this geometry.
//
// Surface space is world space translated so the grid center sits at the
// surface origin.
func (g *ImageGeometry) Affine(from, to Space) (*Affine, error) {
	fw, err := g.toWorld(from)
	if err != nil {
		return nil, err
	}
	tw, err := g.toWorld(to)
	if err != nil {
		return nil, err
	}
	var inv mat.Dense
	if err := inv.Inverse(tw); err != nil {
		return nil, fmt.Errorf("%w: cannot invert world transform for space %s", ErrSingular, to)
	}
	var m mat.Dense
	m.Mul(&inv, fw)
	out, err := NewAffine(&m)
	if err != nil {
		return nil, err
	}
	out.space = from
	out.source = g.Copy()
	out.target = g.Copy()
	return out, nil
}

// toWorld returns the 4x4 matrix mapping the given space into world space.
func (g *ImageGeometry) toWorld(s Space) (*mat.Dense, error) {
	switch s {
	case SpaceVoxel:
		return g.vox2world, nil
	case SpaceWorld:
		return mat.NewDense(4, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		}), nil
	case SpaceSurface:
		return mat.NewDense(4, 4, []float64{
			1, 0, 0, g.center[0],
			0, 1, 0, g.center[1],
			0, 0, 1, g.center[2],
			0, 0, 0, 1,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpace, s)
	}
}

// Reshape returns a geometry for a new grid shape that preserves the
// voxel-to-world mapping. The center is re-derived for the new shape, so
// voxel coordinates continue to map to the same world positions.
func (g *ImageGeometry) Reshape(shape [3]int) (*ImageGeometry, error) {
	return NewImageGeometry(GeometryParams{Shape: shape, VoxToWorld: g.vox2world})
}

// SetVoxSize replaces the voxel size and re-derives the affine.
func (g *ImageGeometry) SetVoxSize(voxsize [3]float64) error {
	if g.readOnly {
		return ErrReadOnly
	}
	next, err := NewImageGeometry(GeometryParams{
		Shape:    g.shape,
		VoxSize:  voxsize[:],
		Rotation: g.rotation,
		Center:   g.center[:],
	})
	if err != nil {
		return err
	}
	*g = *next
	return nil
}

// SetRotation replaces the direction cosine matrix and re-derives the
// affine.
func (g *ImageGeometry) SetRotation(rotation mat.Matrix) error {
	if g.readOnly {
		return ErrReadOnly
	}
	next, err := NewImageGeometry(GeometryParams{
		Shape:    g.shape,
		VoxSize:  g.voxsize[:],
		Rotation: rotation,
		Center:   g.center[:],
	})
	if err != nil {
		return err
	}
	*g = *next
	return nil
}

// SetCenter replaces the world center and re-derives the affine.
func (g *ImageGeometry) SetCenter(center [3]float64) error {
	if g.readOnly {
		return ErrReadOnly
	}
	next, err := NewImageGeometry(GeometryParams{
		Shape:    g.shape,
		VoxSize:  g.voxsize[:],
		Rotation: g.rotation,
		Center:   center[:],
	})
	if err != nil {
		return err
	}
	*g = *next
	return nil
}

// SetVoxToWorld replaces the voxel-to-world matrix, re-deriving voxel size,
// rotation, and center.
func (g *ImageGeometry) SetVoxToWorld(m mat.Matrix) error {
	if g.readOnly {
		return ErrReadOnly
	}
	square, err := squareHomogeneous3D(m)
	if err != nil {
		return err
	}
	return g.updateFromMatrix(square)
}

// ImageGeometryEqual tests whether two geometries have the same shape and
// equivalent voxel-to-world mappings within an absolute tolerance. Two nil
// geometries are equal.
func ImageGeometryEqual(a, b *ImageGeometry, tol float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.shape != b.shape {
		return false
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(a.vox2world.At(i, j)-b.vox2world.At(i, j)) > tol {
				return false
			}
		}
	}
	return true
}

// squareHomogeneous3D validates a (3, 4) or (4, 4) matrix and returns it as
// a full square homogeneous copy.
func squareHomogeneous3D(m mat.Matrix) (*mat.Dense, error) {
	rows, cols := m.Dims()
	if cols != 4 || (rows != 3 && rows != 4) {
		return nil, fmt.Errorf("%w: expected (3, 4) or (4, 4) voxel-to-world matrix, got %dx%d", ErrShape, rows, cols)
	}
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	out.Set(3, 3, 1)
	return out, nil
}
