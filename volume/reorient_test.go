package volume

import (
	"errors"
	"testing"

	"github.com/mrjoshuak/go-mgh/interp"
	"github.com/mrjoshuak/go-mgh/transform"
)

func fillSequential(v *Volume) {
	for i := range v.Data() {
		v.Data()[i] = float64(i + 1)
	}
}

func TestReorientNoOp(t *testing.T) {
	v := mustVolume(t, [3]int{2, 3, 4}, 1, Float32)
	fillSequential(v)
	// The default geometry is RAS-oriented.
	out, err := v.Reorient("ras")
	if err != nil {
		t.Fatal(err)
	}
	if out == v {
		t.Fatal("no-op reorient should still return a copy")
	}
	for i := range v.Data() {
		if out.Data()[i] != v.Data()[i] {
			t.Fatal("no-op reorient changed data")
		}
	}
	if !transform.ImageGeometryEqual(out.Geometry(), v.Geometry(), 0) {
		t.Fatal("no-op reorient changed geometry")
	}
}

func TestReorientPreservesWorldMapping(t *testing.T) {
	geom, err := transform.NewImageGeometry(transform.GeometryParams{
		Shape:   [3]int{2, 3, 4},
		VoxSize: []float64{1, 2, 3},
		Center:  []float64{5, 6, 7},
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewVolume([3]int{2, 3, 4}, 1, Float32, geom)
	if err != nil {
		t.Fatal(err)
	}
	v.SetAt(1, 2, 3, 0, 9)

	out, err := v.Reorient("LIA")
	if err != nil {
		t.Fatal(err)
	}
	orient, err := out.Geometry().Orientation()
	if err != nil {
		t.Fatal(err)
	}
	if orient != "LIA" {
		t.Fatalf("orientation = %q, want LIA", orient)
	}

	// The marker voxel keeps its world coordinate: find it in the
	// reoriented array and map both positions to world space.
	shape := out.Shape()
	found := false
	for k := 0; k < shape[2] && !found; k++ {
		for j := 0; j < shape[1] && !found; j++ {
			for i := 0; i < shape[0] && !found; i++ {
				if out.At(i, j, k, 0) == 9 {
					got := worldOf(t, out.Geometry(), []float64{float64(i), float64(j), float64(k)})
					want := worldOf(t, v.Geometry(), []float64{1, 2, 3})
					pointNear(t, got, want, 1e-9)
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatal("marker voxel lost during reorientation")
	}
}

func TestReorientRoundTrip(t *testing.T) {
	v := mustVolume(t, [3]int{2, 3, 4}, 2, Float32)
	fillSequential(v)

	lia, err := v.Reorient("LIA")
	if err != nil {
		t.Fatal(err)
	}
	back, err := lia.Reorient("RAS")
	if err != nil {
		t.Fatal(err)
	}
	if back.Shape() != v.Shape() {
		t.Fatalf("shape = %v, want %v", back.Shape(), v.Shape())
	}
	for i := range v.Data() {
		if back.Data()[i] != v.Data()[i] {
			t.Fatalf("data[%d] = %v, want %v", i, back.Data()[i], v.Data()[i])
		}
	}
	if !transform.ImageGeometryEqual(back.Geometry(), v.Geometry(), 1e-9) {
		t.Fatal("round-trip reorientation changed the geometry")
	}
}

func TestReorientInvalidCode(t *testing.T) {
	v := mustVolume(t, [3]int{2, 2, 2}, 1, Float32)
	if _, err := v.Reorient("XYZ"); !errors.Is(err, transform.ErrInvalidOrientation) {
		t.Fatalf("err = %v, want ErrInvalidOrientation", err)
	}
}

func TestReshapePad(t *testing.T) {
	geom, err := transform.NewImageGeometry(transform.GeometryParams{
		Shape:  [3]int{4, 4, 4},
		Center: []float64{0, 0, 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewVolume([3]int{4, 4, 4}, 1, Float32, geom)
	if err != nil {
		t.Fatal(err)
	}
	v.SetAt(1, 1, 1, 0, 5)

	out, err := v.Reshape([3]int{6, 6, 6})
	if err != nil {
		t.Fatal(err)
	}
	if out.Shape() != [3]int{6, 6, 6} {
		t.Fatalf("shape = %v, want 6x6x6", out.Shape())
	}
	// Symmetric padding moves the marker one voxel up each axis and the
	// physical position is preserved.
	if out.At(2, 2, 2, 0) != 5 {
		t.Fatalf("marker = %v at (2,2,2), want 5", out.At(2, 2, 2, 0))
	}
	pointNear(t, worldOf(t, out.Geometry(), []float64{2, 2, 2}), worldOf(t, v.Geometry(), []float64{1, 1, 1}), 1e-9)
}

func TestReshapeRoundTrip(t *testing.T) {
	v := mustVolume(t, [3]int{4, 5, 6}, 1, Float32)
	fillSequential(v)

	grown, err := v.Reshape([3]int{7, 7, 7})
	if err != nil {
		t.Fatal(err)
	}
	back, err := grown.Reshape([3]int{4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	for i := range v.Data() {
		if back.Data()[i] != v.Data()[i] {
			t.Fatalf("data[%d] = %v, want %v", i, back.Data()[i], v.Data()[i])
		}
	}
	if !transform.ImageGeometryEqual(back.Geometry(), v.Geometry(), 1e-9) {
		t.Fatal("round-trip reshape changed the geometry")
	}
}

func TestReshapeNoOp(t *testing.T) {
	v := mustVolume(t, [3]int{3, 3, 3}, 1, Float32)
	out, err := v.Reshape([3]int{3, 3, 3})
	if err != nil {
		t.Fatal(err)
	}
	if out == v {
		t.Fatal("no-op reshape should still return a copy")
	}
	if _, err := v.Reshape([3]int{0, 3, 3}); !errors.Is(err, ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}
}

func TestConformPipeline(t *testing.T) {
	geom, err := transform.NewImageGeometry(transform.GeometryParams{
		Shape:   [3]int{10, 10, 10},
		VoxSize: []float64{2, 2, 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewVolume([3]int{10, 10, 10}, 1, Float64, geom)
	if err != nil {
		t.Fatal(err)
	}
	for i := range v.Data() {
		v.Data()[i] = 100
	}

	shape := [3]int{24, 24, 24}
	dtype := Uint8
	out, err := v.Conform(ConformOptions{
		Shape:       &shape,
		VoxSize:     [3]float64{1, 1, 1},
		Orientation: "LIA",
		Method:      interp.Linear,
		DType:       &dtype,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Shape() != shape {
		t.Fatalf("shape = %v, want %v", out.Shape(), shape)
	}
	if out.Geometry().VoxSize() != [3]float64{1, 1, 1} {
		t.Fatalf("voxsize = %v, want 1mm", out.Geometry().VoxSize())
	}
	orient, err := out.Geometry().Orientation()
	if err != nil {
		t.Fatal(err)
	}
	if orient != "LIA" {
		t.Fatalf("orientation = %q, want LIA", orient)
	}
	if out.DType() != Uint8 {
		t.Fatalf("dtype = %v, want uint8", out.DType())
	}
	// An interior voxel of a constant image keeps its value.
	if out.At(12, 12, 12, 0) != 100 {
		t.Fatalf("interior value = %v, want 100", out.At(12, 12, 12, 0))
	}
}
