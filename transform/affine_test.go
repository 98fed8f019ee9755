package transform

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

func matrixNear(t *testing.T, got, want mat.Matrix, tol float64) {
	t.Helper()
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	if gr != wr || gc != wc {
		t.Fatalf("matrix dims = %dx%d, want %dx%d", gr, gc, wr, wc)
	}
	for i := 0; i < gr; i++ {
		for j := 0; j < gc; j++ {
			if !scalar.EqualWithinAbs(got.At(i, j), want.At(i, j), tol) {
				t.Fatalf("matrix[%d,%d] = %v, want %v", i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}

func sliceNear(t *testing.T, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if !scalar.EqualWithinAbs(got[i], want[i], tol) {
			t.Fatalf("element %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNewAffineShapes(t *testing.T) {
	// A (3, 4) matrix is padded to a full square homogeneous matrix.
	a, err := NewAffine(mat.NewDense(3, 4, []float64{
		1, 0, 0, 5,
		0, 1, 0, 6,
		0, 0, 1, 7,
	}))
	if err != nil {
		t.Fatalf("NewAffine: %v", err)
	}
	if a.NDim() != 3 {
		t.Fatalf("NDim = %d, want 3", a.NDim())
	}
	m := a.Matrix()
	if r, c := m.Dims(); r != 4 || c != 4 {
		t.Fatalf("matrix dims = %dx%d, want 4x4", r, c)
	}
	if m.At(3, 0) != 0 || m.At(3, 3) != 1 {
		t.Fatalf("last row not homogeneous: %v %v", m.At(3, 0), m.At(3, 3))
	}

	for _, bad := range []*mat.Dense{
		mat.NewDense(2, 2, nil),
		mat.NewDense(4, 3, nil),
		mat.NewDense(5, 5, nil),
	} {
		r, c := bad.Dims()
		if _, err := NewAffine(bad); !errors.Is(err, ErrShape) {
			t.Fatalf("NewAffine(%dx%d): err = %v, want ErrShape", r, c, err)
		}
	}
}

func TestTransformPoint(t *testing.T) {
	a, err := NewAffine(mat.NewDense(4, 4, []float64{
		2, 0, 0, 1,
		0, 3, 0, -2,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.TransformPoint([]float64{1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	sliceNear(t, p, []float64{3, 1, 1}, 1e-12)

	if _, err := a.TransformPoint([]float64{1, 2}); !errors.Is(err, ErrShape) {
		t.Fatalf("short point: err = %v, want ErrShape", err)
	}

	ps, err := a.TransformPoints([][]float64{{0, 0, 0}, {1, 1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	sliceNear(t, ps[0], []float64{1, -2, 0}, 1e-12)
	sliceNear(t, ps[1], []float64{3, 1, 1}, 1e-12)
}

func TestMulAndInv(t *testing.T) {
	a, err := ComposeAffine(ComposeParams{
		Translation: []float64{4, -2, 1},
		Rotation:    []float64{12, -25, 40},
		Scale:       []float64{1.2, 0.9, 1.1},
		Shear:       []float64{0.05, -0.02, 0.1},
		Degrees:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	inv, err := a.Inv()
	if err != nil {
		t.Fatal(err)
	}
	prod, err := a.Mul(inv)
	if err != nil {
		t.Fatal(err)
	}
	ident, _ := Identity(3)
	matrixNear(t, prod.Matrix(), ident.Matrix(), 1e-10)

	b, _ := Identity(2)
	if _, err := a.Mul(b); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("2D x 3D: err = %v, want ErrDimensionMismatch", err)
	}
}

func TestInvSwapsGeometries(t *testing.T) {
	src, err := NewImageGeometry(GeometryParams{Shape: [3]int{4, 4, 4}})
	if err != nil {
		t.Fatal(err)
	}
	tgt, err := NewImageGeometry(GeometryParams{Shape: [3]int{8, 8, 8}, VoxSize: []float64{2, 2, 2}})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := Identity(3)
	if err := a.SetSource(src); err != nil {
		t.Fatal(err)
	}
	if err := a.SetTarget(tgt); err != nil {
		t.Fatal(err)
	}
	if err := a.SetSpace(SpaceWorld); err != nil {
		t.Fatal(err)
	}

	inv, err := a.Inv()
	if err != nil {
		t.Fatal(err)
	}
	if !ImageGeometryEqual(inv.Source(), tgt, 0) || !ImageGeometryEqual(inv.Target(), src, 0) {
		t.Fatal("Inv did not swap source and target geometries")
	}
	if inv.Space() != SpaceWorld {
		t.Fatalf("Inv space = %s, want world", inv.Space())
	}
}

func TestDet(t *testing.T) {
	a, err := NewAffine(mat.NewDense(4, 4, []float64{
		2, 0, 0, 9,
		0, 3, 0, 9,
		0, 0, 4, 9,
		0, 0, 0, 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Det(); !scalar.EqualWithinAbs(got, 24, 1e-12) {
		t.Fatalf("Det = %v, want 24", got)
	}
}

func TestComposeDecomposeRoundTrip(t *testing.T) {
	params := ComposeParams{
		Translation: []float64{10, -5, 2.5},
		Rotation:    []float64{15, -30, 45},
		Scale:       []float64{1.5, 2.0, 0.5},
		Shear:       []float64{0.1, -0.2, 0.3},
		Degrees:     true,
	}
	a, err := ComposeAffine(params)
	if err != nil {
		t.Fatal(err)
	}
	c, err := a.Decompose(true)
	if err != nil {
		t.Fatal(err)
	}
	sliceNear(t, c.Translation, params.Translation, 1e-9)
	sliceNear(t, c.Rotation, params.Rotation, 1e-9)
	sliceNear(t, c.Scale, params.Scale, 1e-9)
	sliceNear(t, c.Shear, params.Shear, 1e-9)

	// Recomposing the components reproduces the matrix.
	b, err := ComposeAffine(ComposeParams{
		Translation: c.Translation,
		Rotation:    c.Rotation,
		Scale:       c.Scale,
		Shear:       c.Shear,
		Degrees:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	matrixNear(t, b.Matrix(), a.Matrix(), 1e-9)
}

func TestComposeDecompose2D(t *testing.T) {
	a, err := ComposeAffine(ComposeParams{
		NDim:        2,
		Translation: []float64{3, -1},
		Rotation:    []float64{0.4},
		Scale:       []float64{2, 0.5},
		Shear:       []float64{0.25},
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := a.Decompose(false)
	if err != nil {
		t.Fatal(err)
	}
	sliceNear(t, c.Translation, []float64{3, -1}, 1e-9)
	sliceNear(t, c.Rotation, []float64{0.4}, 1e-9)
	sliceNear(t, c.Scale, []float64{2, 0.5}, 1e-9)
	sliceNear(t, c.Shear, []float64{0.25}, 1e-9)
}

func TestConvertRequiresContext(t *testing.T) {
	a, _ := Identity(3)
	geom, err := NewImageGeometry(GeometryParams{Shape: [3]int{4, 4, 4}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Convert(nil, nil, SpaceVoxel); !errors.Is(err, ErrMissingContext) {
		t.Fatalf("Convert without context: err = %v, want ErrMissingContext", err)
	}
	if err := a.SetSource(geom); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Convert(nil, nil, SpaceVoxel); !errors.Is(err, ErrMissingContext) {
		t.Fatalf("Convert with partial context: err = %v, want ErrMissingContext", err)
	}
}

func TestConvertSpaceRoundTrip(t *testing.T) {
	geom, err := NewImageGeometry(GeometryParams{
		Shape:   [3]int{16, 16, 16},
		VoxSize: []float64{1, 2, 3},
		Center:  []float64{5, -5, 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	a, err := ComposeAffine(ComposeParams{
		Translation: []float64{1, 2, 3},
		Rotation:    []float64{5, 10, 15},
		Degrees:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetSource(geom); err != nil {
		t.Fatal(err)
	}
	if err := a.SetTarget(geom); err != nil {
		t.Fatal(err)
	}
	if err := a.SetSpace(SpaceWorld); err != nil {
		t.Fatal(err)
	}

	vox, err := a.Convert(nil, nil, SpaceVoxel)
	if err != nil {
		t.Fatal(err)
	}
	if vox.Space() != SpaceVoxel {
		t.Fatalf("converted space = %s, want voxel", vox.Space())
	}
	back, err := vox.Convert(nil, nil, SpaceWorld)
	if err != nil {
		t.Fatal(err)
	}
	matrixNear(t, back.Matrix(), a.Matrix(), 1e-9)
}

func TestConvertSameContextCopies(t *testing.T) {
	geom, err := NewImageGeometry(GeometryParams{Shape: [3]int{4, 4, 4}})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := Identity(3)
	a.SetSource(geom)
	a.SetTarget(geom)
	a.SetSpace(SpaceWorld)

	out, err := a.Convert(nil, nil, SpaceWorld)
	if err != nil {
		t.Fatal(err)
	}
	if out == a {
		t.Fatal("Convert with unchanged context should return a copy")
	}
	if !AffineEqual(out, a, false, 0) {
		t.Fatal("copied transform differs from original")
	}
}

func TestRotationAnglesRoundTrip(t *testing.T) {
	for _, angles := range [][]float64{
		{0, 0, 0},
		{0.3, -0.7, 1.1},
		{-1.2, 0.4, 0.9},
	} {
		m, err := AnglesToRotationMatrix(angles, false)
		if err != nil {
			t.Fatal(err)
		}
		got, err := RotationMatrixToAngles(m, false)
		if err != nil {
			t.Fatal(err)
		}
		sliceNear(t, got, angles, 1e-12)
	}

	if _, err := AnglesToRotationMatrix([]float64{1, 2}, false); !errors.Is(err, ErrShape) {
		t.Fatalf("2 angles: err = %v, want ErrShape", err)
	}
	if _, err := RotationMatrixToAngles(mat.NewDense(2, 3, nil), false); !errors.Is(err, ErrShape) {
		t.Fatalf("non-square: err = %v, want ErrShape", err)
	}
}

func TestReadOnlyAffine(t *testing.T) {
	geom, err := NewImageGeometry(GeometryParams{Shape: [3]int{4, 4, 4}})
	if err != nil {
		t.Fatal(err)
	}
	view := geom.VoxToWorld()
	if !view.ReadOnly() {
		t.Fatal("VoxToWorld view should be read-only")
	}
	if err := view.SetSpace(SpaceWorld); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("SetSpace on view: err = %v, want ErrReadOnly", err)
	}
	if err := view.SetMatrix(mat.NewDense(4, 4, nil)); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("SetMatrix on view: err = %v, want ErrReadOnly", err)
	}

	dup := view.Copy()
	if dup.ReadOnly() {
		t.Fatal("Copy should be writable")
	}
	if err := dup.SetSpace(SpaceWorld); err != nil {
		t.Fatalf("SetSpace on copy: %v", err)
	}
}
