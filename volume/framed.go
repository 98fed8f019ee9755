// Package volume implements framed image arrays: voxel grids with
// per-frame data, an image geometry positioning them in world space, scan
// metadata, and an optional label lookup. Volume is the 3D type, Slice the
// 2D type produced by collapsing one volume axis.
//
// Data is held as float64 in column-major (Fortran) order with the frame
// index varying slowest, matching the MGH file layout. The declared DType
// records the element type the codec should honor on save.
package volume

import (
	"errors"
	"fmt"
	"math"

	"github.com/mrjoshuak/go-mgh/transform"
)

var (
	// ErrShape is returned when data, shape, and frame counts disagree or
	// an index expression does not fit the array.
	ErrShape = errors.New("volume: invalid shape")
	// ErrNotSupported is returned for operations an image type cannot
	// perform, such as axis-reversal cropping.
	ErrNotSupported = errors.New("volume: operation not supported")
	// ErrInvalidArgument is returned for incompatible option combinations.
	ErrInvalidArgument = errors.New("volume: invalid argument")
)

// DType identifies the element type of an image buffer. Values are stored
// as float64 internally; the declared type controls quantization and how
// the codec serializes the data.
type DType int

const (
	Uint8 DType = iota
	Int16
	Uint16
	Int32
	Int64
	Float32
	Float64
)

// String returns the name of the data type.
func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Integer reports whether the type holds integer values.
func (d DType) Integer() bool {
	switch d {
	case Uint8, Int16, Uint16, Int32, Int64:
		return true
	}
	return false
}

// quantize coerces a value to the representable range and precision of the
// type. Integer types truncate toward zero.
func (d DType) quantize(v float64) float64 {
	switch d {
	case Uint8, Int16, Uint16, Int32, Int64:
		return math.Trunc(v)
	case Float32:
		return float64(float32(v))
	default:
		return v
	}
}

// Metadata holds scan parameters and history carried alongside image data.
type Metadata struct {
	// TR, TE, and TI are scan timings in milliseconds.
	TR float64
	TE float64
	TI float64
	// FlipAngle is in radians.
	FlipAngle float64
	// FieldStrength is the scanner field strength in tesla.
	FieldStrength float64
	// PhaseEncodeDir is the phase-encode direction string, empty if unknown.
	PhaseEncodeDir string
	// History is the accumulated command history.
	History []string
}

// Copy returns a deep copy of the metadata.
func (m Metadata) Copy() Metadata {
	out := m
	out.History = append([]string(nil), m.History...)
	return out
}

// Geometried is implemented by values positioned in world space by an
// image geometry.
type Geometried interface {
	Geometry() *transform.ImageGeometry
}

// Volume is a 3D framed image.
type Volume struct {
	data     []float64
	shape    [3]int
	frames   int
	dtype    DType
	geom     *transform.ImageGeometry
	metadata Metadata
	labels   LabelLookup
}

// NewVolume allocates a zero-filled volume. A frame count below 1 is
// treated as 1, and a nil geometry defaults to a unit geometry for the
// shape.
func NewVolume(shape [3]int, frames int, dtype DType, geom *transform.ImageGeometry) (*Volume, error) {
	if frames < 1 {
		frames = 1
	}
	for _, s := range shape {
		if s < 1 {
			return nil, fmt.Errorf("%w: volume shape must be positive, got %v", ErrShape, shape)
		}
	}
	data := make([]float64, shape[0]*shape[1]*shape[2]*frames)
	return NewVolumeData(data, shape, frames, dtype, geom)
}

// NewVolumeData wraps an existing column-major buffer as a volume. The
// buffer length must equal the product of the shape and frame count.
func NewVolumeData(data []float64, shape [3]int, frames int, dtype DType, geom *transform.ImageGeometry) (*Volume, error) {
	if frames < 1 {
		frames = 1
	}
	for _, s := range shape {
		if s < 1 {
			return nil, fmt.Errorf("%w: volume shape must be positive, got %v", ErrShape, shape)
		}
	}
	if want := shape[0] * shape[1] * shape[2] * frames; len(data) != want {
		return nil, fmt.Errorf("%w: buffer has %d elements, shape %v with %d frames requires %d",
			ErrShape, len(data), shape, frames, want)
	}
	v := &Volume{data: data, shape: shape, frames: frames, dtype: dtype}
	if err := v.SetGeometry(geom); err != nil {
		return nil, err
	}
	return v, nil
}

// Shape returns the spatial shape of the volume.
func (v *Volume) Shape() [3]int {
	return v.shape
}

// Frames returns the number of data frames.
func (v *Volume) Frames() int {
	return v.frames
}

// DType returns the declared element type.
func (v *Volume) DType() DType {
	return v.dtype
}

// Data returns the underlying column-major buffer. The buffer is shared,
// not copied.
func (v *Volume) Data() []float64 {
	return v.data
}

// Geometry returns the image geometry positioning the volume in world
// space.
func (v *Volume) Geometry() *transform.ImageGeometry {
	return v.geom
}

// SetGeometry replaces the geometry, reshaping it to the volume's spatial
// shape. A nil geometry installs a unit geometry.
func (v *Volume) SetGeometry(geom *transform.ImageGeometry) error {
	if geom == nil {
		g, err := transform.NewImageGeometry(transform.GeometryParams{Shape: v.shape})
		if err != nil {
			return err
		}
		v.geom = g
		return nil
	}
	g, err := geom.Reshape(v.shape)
	if err != nil {
		return err
	}
	v.geom = g
	return nil
}

// Metadata returns the volume's metadata.
func (v *Volume) Metadata() Metadata {
	return v.metadata
}

// SetMetadata replaces the volume's metadata.
func (v *Volume) SetMetadata(m Metadata) {
	v.metadata = m.Copy()
}

// Labels returns the attached label lookup, or nil.
func (v *Volume) Labels() LabelLookup {
	return v.labels
}

// SetLabels attaches a label lookup describing integer voxel values.
func (v *Volume) SetLabels(l LabelLookup) {
	v.labels = l
}

// index computes the column-major offset of voxel (i, j, k) in frame f.
func (v *Volume) index(i, j, k, f int) int {
	return i + v.shape[0]*(j+v.shape[1]*(k+v.shape[2]*f))
}

// At returns the value of voxel (i, j, k) in frame f.
func (v *Volume) At(i, j, k, f int) float64 {
	return v.data[v.index(i, j, k, f)]
}

// SetAt sets the value of voxel (i, j, k) in frame f, quantized to the
// declared data type.
func (v *Volume) SetAt(i, j, k, f int, value float64) {
	v.data[v.index(i, j, k, f)] = v.dtype.quantize(value)
}

// Copy returns a deep copy of the volume.
func (v *Volume) Copy() *Volume {
	out := &Volume{
		data:     append([]float64(nil), v.data...),
		shape:    v.shape,
		frames:   v.frames,
		dtype:    v.dtype,
		geom:     v.geom.Copy(),
		metadata: v.metadata.Copy(),
		labels:   v.labels.Copy(),
	}
	return out
}

// derive creates a volume from v with fresh data and an optional new
// geometry, propagating metadata, labels, and data type. A nil geometry
// keeps the current one, reshaped to the new extent.
func (v *Volume) derive(data []float64, shape [3]int, frames int, geom *transform.ImageGeometry) (*Volume, error) {
	if geom == nil {
		geom = v.geom
	}
	out, err := NewVolumeData(data, shape, frames, v.dtype, geom)
	if err != nil {
		return nil, err
	}
	out.metadata = v.metadata.Copy()
	out.labels = v.labels.Copy()
	return out, nil
}

// AsType returns a copy of the volume converted to a new data type.
// Integer targets truncate values toward zero.
func (v *Volume) AsType(dtype DType) *Volume {
	out := v.Copy()
	out.dtype = dtype
	for i, val := range out.data {
		out.data[i] = dtype.quantize(val)
	}
	return out
}

// MaxAcrossFrames returns a single-frame volume holding the per-voxel
// maximum value across all frames.
func (v *Volume) MaxAcrossFrames() *Volume {
	n := v.shape[0] * v.shape[1] * v.shape[2]
	data := make([]float64, n)
	copy(data, v.data[:n])
	for f := 1; f < v.frames; f++ {
		frame := v.data[f*n : (f+1)*n]
		for i, val := range frame {
			if val > data[i] {
				data[i] = val
			}
		}
	}
	out, _ := v.derive(data, v.shape, 1, v.geom)
	return out
}

// Slice is a 2D framed image, typically produced by collapsing one axis of
// a volume. Geometry is inherently 3D, so a slice's geometry carries a
// third extent of one. Slices support cropping but not the resampling
// operations of Volume.
type Slice struct {
	data     []float64
	shape    [2]int
	frames   int
	dtype    DType
	geom     *transform.ImageGeometry
	metadata Metadata
	labels   LabelLookup
}

// NewSliceData wraps an existing column-major buffer as a 2D image.
func NewSliceData(data []float64, shape [2]int, frames int, dtype DType, geom *transform.ImageGeometry) (*Slice, error) {
	if frames < 1 {
		frames = 1
	}
	for _, s := range shape {
		if s < 1 {
			return nil, fmt.Errorf("%w: slice shape must be positive, got %v", ErrShape, shape)
		}
	}
	if want := shape[0] * shape[1] * frames; len(data) != want {
		return nil, fmt.Errorf("%w: buffer has %d elements, shape %v with %d frames requires %d",
			ErrShape, len(data), shape, frames, want)
	}
	s := &Slice{data: data, shape: shape, frames: frames, dtype: dtype}
	if err := s.SetGeometry(geom); err != nil {
		return nil, err
	}
	return s, nil
}

// Shape returns the spatial shape of the slice.
func (s *Slice) Shape() [2]int {
	return s.shape
}

// Frames returns the number of data frames.
func (s *Slice) Frames() int {
	return s.frames
}

// DType returns the declared element type.
func (s *Slice) DType() DType {
	return s.dtype
}

// Data returns the underlying column-major buffer. The buffer is shared,
// not copied.
func (s *Slice) Data() []float64 {
	return s.data
}

// Geometry returns the image geometry positioning the slice in world
// space.
func (s *Slice) Geometry() *transform.ImageGeometry {
	return s.geom
}

// SetGeometry replaces the geometry, reshaping it to the slice's spatial
// shape with a third extent of one. A nil geometry installs a unit
// geometry.
func (s *Slice) SetGeometry(geom *transform.ImageGeometry) error {
	shape3 := [3]int{s.shape[0], s.shape[1], 1}
	if geom == nil {
		g, err := transform.NewImageGeometry(transform.GeometryParams{Shape: shape3})
		if err != nil {
			return err
		}
		s.geom = g
		return nil
	}
	g, err := geom.Reshape(shape3)
	if err != nil {
		return err
	}
	s.geom = g
	return nil
}

// Metadata returns the slice's metadata.
func (s *Slice) Metadata() Metadata {
	return s.metadata
}

// SetMetadata replaces the slice's metadata.
func (s *Slice) SetMetadata(m Metadata) {
	s.metadata = m.Copy()
}

// Labels returns the attached label lookup, or nil.
func (s *Slice) Labels() LabelLookup {
	return s.labels
}

// SetLabels attaches a label lookup describing integer voxel values.
func (s *Slice) SetLabels(l LabelLookup) {
	s.labels = l
}

// At returns the value of pixel (i, j) in frame f.
func (s *Slice) At(i, j, f int) float64 {
	return s.data[i+s.shape[0]*(j+s.shape[1]*f)]
}

// SetAt sets the value of pixel (i, j) in frame f, quantized to the
// declared data type.
func (s *Slice) SetAt(i, j, f int, value float64) {
	s.data[i+s.shape[0]*(j+s.shape[1]*f)] = s.dtype.quantize(value)
}

// Copy returns a deep copy of the slice.
func (s *Slice) Copy() *Slice {
	return &Slice{
		data:     append([]float64(nil), s.data...),
		shape:    s.shape,
		frames:   s.frames,
		dtype:    s.dtype,
		geom:     s.geom.Copy(),
		metadata: s.metadata.Copy(),
		labels:   s.labels.Copy(),
	}
}
