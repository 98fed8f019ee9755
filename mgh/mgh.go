// Package mgh reads and writes FreeSurfer MGH volume files and their
// gzip-compressed MGZ variant. The format is big-endian throughout: a
// fixed header with shape, element type, and grid geometry, a column-major
// data buffer, scan parameters, and a trailing stream of tagged metadata
// records.
package mgh

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/mrjoshuak/go-mgh/internal/xdr"
	"github.com/mrjoshuak/go-mgh/transform"
	"github.com/mrjoshuak/go-mgh/volume"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrFormat is returned for malformed or truncated files.
	ErrFormat = errors.New("mgh: invalid file format")
	// ErrUnsupportedDType is returned when an element type cannot be
	// represented in the format.
	ErrUnsupportedDType = errors.New("mgh: unsupported data type")
	// ErrRange is returned when int64 data cannot be narrowed to the
	// int32 range the format supports.
	ErrRange = errors.New("mgh: values exceed the int32 range")
	// ErrLookupConsistency is returned when a volume carries values its
	// attached label lookup does not define.
	ErrLookupConsistency = errors.New("mgh: voxel value missing from the attached label lookup")
)

// Element type identifiers used by the format.
const (
	dtypeUChar  = 0
	dtypeInt32  = 1
	dtypeInt64  = 2 // legacy, read-only
	dtypeFloat  = 3
	dtypeShort  = 4
	dtypeTensor = 6
	dtypeUShort = 10
)

// headerSpace is the size in bytes of the header region following the
// geometry flag, shared between the geometry block and padding.
const headerSpace = 254

func dtypeFromID(id uint32) (volume.DType, error) {
	switch id {
	case dtypeUChar:
		return volume.Uint8, nil
	case dtypeInt32:
		return volume.Int32, nil
	case dtypeInt64:
		return volume.Int64, nil
	case dtypeFloat, dtypeTensor:
		return volume.Float32, nil
	case dtypeShort:
		return volume.Int16, nil
	case dtypeUShort:
		return volume.Uint16, nil
	default:
		return 0, fmt.Errorf("%w: id %d", ErrUnsupportedDType, id)
	}
}

// idFromDType maps a volume element type to the identifier written to
// file. Any float kind is stored as float32, and int64 is narrowed to
// int32 by the caller beforehand.
func idFromDType(d volume.DType) (uint32, error) {
	switch d {
	case volume.Uint8:
		return dtypeUChar, nil
	case volume.Int32:
		return dtypeInt32, nil
	case volume.Float32, volume.Float64:
		return dtypeFloat, nil
	case volume.Int16:
		return dtypeShort, nil
	case volume.Uint16:
		return dtypeUShort, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, d)
	}
}

// isGzipPath reports whether a path names a compressed file. Matches the
// .mgz and .mgh.gz conventions.
func isGzipPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), "gz")
}

// Load reads a volume from an MGH or MGZ file. The file's readability is
// checked before any parsing begins, so I/O failures carry the offending
// path.
func Load(path string) (*volume.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if isGzipPath(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
		}
		defer gz.Close()
		r = gz
	}
	v, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// LoadSlice reads a 2D image from an MGH or MGZ file. The stored volume
// must have a third extent of one.
func LoadSlice(path string) (*volume.Slice, error) {
	v, err := Load(path)
	if err != nil {
		return nil, err
	}
	if v.Shape()[2] != 1 {
		return nil, fmt.Errorf("%w: %s stores a 3D volume, not a slice", ErrFormat, path)
	}
	return v.ExtractSlice(2, 0)
}

// Save writes a volume to an MGH or MGZ file, compressing when the path
// has a gzip-style extension.
func Save(path string, v *volume.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if isGzipPath(path) {
		gz, err = gzip.NewWriterLevel(f, 6)
		if err != nil {
			return err
		}
		w = gz
	}
	if err := Write(w, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return f.Close()
}

// Read parses an uncompressed MGH stream.
func Read(reader io.Reader) (*volume.Volume, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	r := xdr.NewReader(raw)

	version, err := r.ReadUint32()
	if err != nil {
		return nil, truncated(err)
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, version)
	}

	var dims [4]int
	for i := range dims {
		d, err := r.ReadUint32()
		if err != nil {
			return nil, truncated(err)
		}
		if d < 1 {
			return nil, fmt.Errorf("%w: non-positive dimension %d", ErrFormat, d)
		}
		dims[i] = int(d)
	}
	dtypeID, err := r.ReadUint32()
	if err != nil {
		return nil, truncated(err)
	}
	dtype, err := dtypeFromID(dtypeID)
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadUint32(); err != nil { // DOF, unused
		return nil, truncated(err)
	}

	shape := [3]int{dims[0], dims[1], dims[2]}
	frames := dims[3]

	geomValid, err := r.ReadUint16()
	if err != nil {
		return nil, truncated(err)
	}
	var geom *transform.ImageGeometry
	unused := headerSpace
	if geomValid != 0 {
		vals, err := r.ReadFloat32s(15)
		if err != nil {
			return nil, truncated(err)
		}
		unused -= 60
		voxsize := []float64{float64(vals[0]), float64(vals[1]), float64(vals[2])}
		rotation := mat.NewDense(3, 3, nil)
		for j := 0; j < 3; j++ {
			for i := 0; i < 3; i++ {
				rotation.Set(i, j, float64(vals[3+j*3+i]))
			}
		}
		center := []float64{float64(vals[12]), float64(vals[13]), float64(vals[14])}
		geom, err = transform.NewImageGeometry(transform.GeometryParams{
			Shape:    shape,
			VoxSize:  voxsize,
			Rotation: rotation,
			Center:   center,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	if err := r.Skip(unused); err != nil {
		return nil, truncated(err)
	}

	data, err := readData(r, dtypeID, shape[0]*shape[1]*shape[2]*frames)
	if err != nil {
		return nil, err
	}
	v, err := volume.NewVolumeData(data, shape, frames, dtype, geom)
	if err != nil {
		return nil, err
	}

	// Scan parameters and FOV trail the data buffer. Some writers stop
	// after the data, so a clean EOF here is fine.
	if r.Len() >= 20 {
		params, err := r.ReadFloat32s(5)
		if err != nil {
			return nil, truncated(err)
		}
		meta := v.Metadata()
		meta.TR = float64(params[0])
		meta.FlipAngle = float64(params[1])
		meta.TE = float64(params[2])
		meta.TI = float64(params[3])
		// params[4] is the FOV, recomputed on write.
		if err := readTags(r, v, &meta); err != nil {
			return nil, err
		}
		v.SetMetadata(meta)
	}
	return v, nil
}

func truncated(err error) error {
	if errors.Is(err, xdr.ErrShortBuffer) {
		return fmt.Errorf("%w: unexpected end of file", ErrFormat)
	}
	return err
}

func readData(r *xdr.Reader, dtypeID uint32, count int) ([]float64, error) {
	data := make([]float64, count)
	switch dtypeID {
	case dtypeUChar:
		raw, err := r.ReadBytes(count)
		if err != nil {
			return nil, truncated(err)
		}
		for i, b := range raw {
			data[i] = float64(b)
		}
	case dtypeInt32:
		for i := range data {
			v, err := r.ReadInt32()
			if err != nil {
				return nil, truncated(err)
			}
			data[i] = float64(v)
		}
	case dtypeInt64:
		for i := range data {
			v, err := r.ReadInt64()
			if err != nil {
				return nil, truncated(err)
			}
			data[i] = float64(v)
		}
	case dtypeFloat, dtypeTensor:
		vals, err := r.ReadFloat32s(count)
		if err != nil {
			return nil, truncated(err)
		}
		for i, v := range vals {
			data[i] = float64(v)
		}
	case dtypeShort:
		for i := range data {
			v, err := r.ReadInt16()
			if err != nil {
				return nil, truncated(err)
			}
			data[i] = float64(v)
		}
	case dtypeUShort:
		for i := range data {
			v, err := r.ReadUint16()
			if err != nil {
				return nil, truncated(err)
			}
			data[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedDType, dtypeID)
	}
	return data, nil
}

// readTags consumes metadata records until the end of the stream.
func readTags(r *xdr.Reader, v *volume.Volume, meta *volume.Metadata) error {
	for r.Len() > 0 {
		tag, length, err := readTag(r)
		if err != nil {
			return truncated(err)
		}
		switch tag {
		case tagHistory:
			s, err := r.ReadStringN(int(length))
			if err != nil {
				return truncated(err)
			}
			meta.History = append(meta.History, s)
		case tagOldColortable:
			lookup, err := readLabelLookup(r)
			if err != nil {
				return truncated(err)
			}
			v.SetLabels(lookup)
		case tagPEDir:
			s, err := r.ReadStringN(int(length))
			if err != nil {
				return truncated(err)
			}
			if s != "UNKNOWN" {
				meta.PhaseEncodeDir = s
			}
		case tagFieldStrength:
			f, err := r.ReadFloat32()
			if err != nil {
				return truncated(err)
			}
			meta.FieldStrength = float64(f)
		default:
			if length < 0 || length > int64(r.Len()) {
				return fmt.Errorf("%w: tag %d with bad length %d", ErrFormat, tag, length)
			}
			if err := r.Skip(int(length)); err != nil {
				return truncated(err)
			}
		}
	}
	return nil
}

// Write serializes a volume as an uncompressed MGH stream.
func Write(writer io.Writer, v *volume.Volume) error {
	dtype := v.DType()
	if dtype == volume.Int64 {
		// Narrow to int32 when every value fits.
		for _, x := range v.Data() {
			if x > math.MaxInt32 || x < math.MinInt32 {
				return ErrRange
			}
		}
		dtype = volume.Int32
	}
	dtypeID, err := idFromDType(dtype)
	if err != nil {
		return err
	}
	if err := checkLookupConsistency(v); err != nil {
		return err
	}

	shape := v.Shape()
	geom := v.Geometry()
	voxsize := geom.VoxSize()
	rotation := geom.Rotation()
	center := geom.Center()

	w := xdr.NewWriter(1024 + len(v.Data())*4)
	w.WriteUint32(1) // version
	for _, d := range shape {
		w.WriteUint32(uint32(d))
	}
	w.WriteUint32(uint32(v.Frames()))
	w.WriteUint32(dtypeID)
	w.WriteUint32(1) // DOF
	w.WriteUint16(1) // geometry is always valid for volumes
	for i := 0; i < 3; i++ {
		w.WriteFloat32(float32(voxsize[i]))
	}
	for j := 0; j < 3; j++ { // column-major rotation
		for i := 0; i < 3; i++ {
			w.WriteFloat32(float32(rotation.At(i, j)))
		}
	}
	for i := 0; i < 3; i++ {
		w.WriteFloat32(float32(center[i]))
	}
	w.WriteZeros(headerSpace - 60)

	writeData(w, dtypeID, v.Data())

	meta := v.Metadata()
	w.WriteFloat32(float32(meta.TR))
	w.WriteFloat32(float32(meta.FlipAngle))
	w.WriteFloat32(float32(meta.TE))
	w.WriteFloat32(float32(meta.TI))
	fov := 0.0
	for i := 0; i < 3; i++ {
		if e := voxsize[i] * float64(shape[i]); e > fov {
			fov = e
		}
	}
	w.WriteFloat32(float32(fov))

	if v.Labels() != nil {
		writeTag(w, tagOldColortable, 0)
		writeLabelLookup(w, v.Labels())
	}
	pedir := meta.PhaseEncodeDir
	if pedir == "" {
		pedir = "UNKNOWN"
	}
	writeTag(w, tagPEDir, int64(len(pedir)))
	w.WriteString(pedir)
	writeTag(w, tagFieldStrength, 4)
	w.WriteFloat32(float32(meta.FieldStrength))
	for _, hist := range meta.History {
		writeTag(w, tagHistory, int64(len(hist)))
		w.WriteString(hist)
	}

	_, err = writer.Write(w.Bytes())
	return err
}

func writeData(w *xdr.Writer, dtypeID uint32, data []float64) {
	switch dtypeID {
	case dtypeUChar:
		for _, x := range data {
			w.WriteByte(byte(int64(x)))
		}
	case dtypeInt32:
		for _, x := range data {
			w.WriteInt32(int32(x))
		}
	case dtypeShort:
		for _, x := range data {
			w.WriteInt16(int16(x))
		}
	case dtypeUShort:
		for _, x := range data {
			w.WriteUint16(uint16(x))
		}
	default:
		for _, x := range data {
			w.WriteFloat32(float32(x))
		}
	}
}

// checkLookupConsistency verifies that every voxel value of an
// integer-typed volume with an attached lookup has a label entry.
func checkLookupConsistency(v *volume.Volume) error {
	lookup := v.Labels()
	if lookup == nil || !v.DType().Integer() {
		return nil
	}
	seen := make(map[int32]bool)
	for _, x := range v.Data() {
		value := int32(x)
		if seen[value] {
			continue
		}
		seen[value] = true
		if _, ok := lookup[value]; !ok {
			return fmt.Errorf("%w: value %d", ErrLookupConsistency, value)
		}
	}
	return nil
}
