package interp

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func rampVolume(shape [3]int) []float64 {
	data := make([]float64, shape[0]*shape[1]*shape[2])
	n := 0
	for k := 0; k < shape[2]; k++ {
		for j := 0; j < shape[1]; j++ {
			for i := 0; i < shape[0]; i++ {
				data[n] = float64(i)
				n++
			}
		}
	}
	return data
}

func TestIdentityResampling(t *testing.T) {
	shape := [3]int{3, 4, 5}
	src := rampVolume(shape)
	for _, method := range []Method{Nearest, Linear} {
		out, err := Interpolate(Params{
			Source:      src,
			SourceShape: shape,
			TargetShape: shape,
			Method:      method,
		})
		if err != nil {
			t.Fatalf("%v: %v", method, err)
		}
		for i := range src {
			if out[i] != src[i] {
				t.Fatalf("%v: out[%d] = %v, want %v", method, i, out[i], src[i])
			}
		}
	}
}

func TestNearestRounds(t *testing.T) {
	shape := [3]int{4, 1, 1}
	src := rampVolume(shape)
	affine := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0.4,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	out, err := Interpolate(Params{
		Source:      src,
		SourceShape: shape,
		TargetShape: shape,
		Method:      Nearest,
		Affine:      affine,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Coordinates 0.4, 1.4, 2.4, 3.4 round down.
	for i := 0; i < 4; i++ {
		if out[i] != float64(i) {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], float64(i))
		}
	}
}

func TestLinearMidpoint(t *testing.T) {
	shape := [3]int{4, 1, 1}
	src := rampVolume(shape)
	affine := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0.5,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	out, err := Interpolate(Params{
		Source:      src,
		SourceShape: shape,
		TargetShape: [3]int{3, 1, 1},
		Method:      Linear,
		Affine:      affine,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		want := float64(i) + 0.5
		if math.Abs(out[i]-want) > 1e-12 {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestFillOutOfRange(t *testing.T) {
	shape := [3]int{2, 2, 2}
	src := make([]float64, 8)
	for i := range src {
		src[i] = 1
	}
	affine := mat.NewDense(4, 4, []float64{
		1, 0, 0, 50,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	out, err := Interpolate(Params{
		Source:      src,
		SourceShape: shape,
		TargetShape: shape,
		Method:      Linear,
		Affine:      affine,
		Fill:        -3,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, x := range out {
		if x != -3 {
			t.Fatalf("out[%d] = %v, want fill", i, x)
		}
	}
}

func TestDisplacementField(t *testing.T) {
	shape := [3]int{4, 1, 1}
	src := rampVolume(shape)
	// Shift sampling one voxel forward along the first axis.
	disp := make([]float64, 4*3)
	for i := 0; i < 4; i++ {
		disp[i] = 1
	}
	out, err := Interpolate(Params{
		Source:      src,
		SourceShape: shape,
		TargetShape: shape,
		Method:      Nearest,
		Disp:        disp,
		Fill:        9,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 3, 9}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestAnchorCenterReversal(t *testing.T) {
	shape := [3]int{3, 1, 1}
	src := rampVolume(shape)
	// A point reflection about the grid center reverses the axis.
	affine := mat.NewDense(4, 4, []float64{
		-1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	out, err := Interpolate(Params{
		Source:      src,
		SourceShape: shape,
		TargetShape: shape,
		Method:      Nearest,
		Affine:      affine,
		Anchor:      AnchorCenter,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 1, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestMultiFrame(t *testing.T) {
	shape := [3]int{2, 2, 1}
	src := make([]float64, 8)
	for i := range src {
		src[i] = float64(i)
	}
	out, err := Interpolate(Params{
		Source:      src,
		SourceShape: shape,
		Frames:      2,
		TargetShape: shape,
		Method:      Nearest,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := range src {
		if out[i] != src[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], src[i])
		}
	}
}

func TestParamValidation(t *testing.T) {
	shape := [3]int{2, 2, 2}
	src := make([]float64, 8)
	if _, err := Interpolate(Params{Source: src[:5], SourceShape: shape, TargetShape: shape}); !errors.Is(err, ErrShape) {
		t.Fatalf("short source: err = %v, want ErrShape", err)
	}
	if _, err := Interpolate(Params{Source: src, SourceShape: shape, TargetShape: shape, Disp: make([]float64, 5)}); !errors.Is(err, ErrShape) {
		t.Fatalf("short disp: err = %v, want ErrShape", err)
	}
	if _, err := Interpolate(Params{Source: src, SourceShape: shape, TargetShape: shape, Method: Method(9)}); !errors.Is(err, ErrMethod) {
		t.Fatalf("bad method: err = %v, want ErrMethod", err)
	}
	if _, err := Interpolate(Params{Source: src, SourceShape: shape, TargetShape: shape, Affine: mat.NewDense(3, 3, nil)}); !errors.Is(err, ErrShape) {
		t.Fatalf("bad affine: err = %v, want ErrShape", err)
	}
}
