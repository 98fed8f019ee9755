package mgh

import (
	"fmt"
	"math"

	"github.com/mrjoshuak/go-mgh/internal/xdr"
	"github.com/mrjoshuak/go-mgh/volume"
)

// FreeSurfer metadata tag identifiers appearing after the data buffer.
const (
	tagOldColortable = 1
	tagOldUseRealRAS = 2
	tagHistory       = 3
	tagOldSurfGeom   = 20
	tagOldXform      = 30
	tagPEDir         = 41
	tagFieldStrength = 43
)

// readTag reads a tag id and its payload length. Most tags carry an int64
// length; the legacy transform tag carries an int32 length, and a few old
// tags carry none at all.
func readTag(r *xdr.Reader) (tag int32, length int64, err error) {
	tag, err = r.ReadInt32()
	if err != nil {
		return 0, 0, err
	}
	switch tag {
	case tagOldColortable, tagOldUseRealRAS, tagOldSurfGeom:
		return tag, 0, nil
	case tagOldXform:
		n, err := r.ReadInt32()
		if err != nil {
			return 0, 0, err
		}
		return tag, int64(n), nil
	default:
		n, err := r.ReadInt64()
		if err != nil {
			return 0, 0, err
		}
		return tag, n, nil
	}
}

// writeTag writes a tag id and its payload length using the same length
// scheme as readTag.
func writeTag(w *xdr.Writer, tag int32, length int64) {
	w.WriteInt32(tag)
	switch tag {
	case tagOldColortable, tagOldUseRealRAS, tagOldSurfGeom:
	case tagOldXform:
		w.WriteInt32(int32(length))
	default:
		w.WriteInt64(length)
	}
}

// readLabelLookup parses an embedded FreeSurfer color table. Version 1
// tables store entries sequentially; version 2 tables (written as a
// negative version marker) store explicit entry indices. The transparency
// byte is converted to an alpha fraction.
func readLabelLookup(r *xdr.Reader) (volume.LabelLookup, error) {
	version, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}

	lookup := make(volume.LabelLookup)
	readEntry := func() (string, [4]float64, error) {
		n, err := r.ReadInt32()
		if err != nil {
			return "", [4]float64{}, err
		}
		if n < 0 {
			return "", [4]float64{}, fmt.Errorf("%w: negative label name length %d", ErrFormat, n)
		}
		name, err := r.ReadStringN(int(n))
		if err != nil {
			return "", [4]float64{}, err
		}
		var rgbt [4]int32
		for i := range rgbt {
			if rgbt[i], err = r.ReadInt32(); err != nil {
				return "", [4]float64{}, err
			}
		}
		color := [4]float64{
			float64(rgbt[0]),
			float64(rgbt[1]),
			float64(rgbt[2]),
			float64(255-rgbt[3]) / 255,
		}
		return name, color, nil
	}

	skipFilename := func() error {
		n, err := r.ReadInt32()
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: negative filename length %d", ErrFormat, n)
		}
		return r.Skip(int(n))
	}

	if version > 0 {
		// Version 1: the leading value is the entry count.
		if err := skipFilename(); err != nil {
			return nil, err
		}
		for i := int32(0); i < version; i++ {
			name, color, err := readEntry()
			if err != nil {
				return nil, err
			}
			lookup[i] = volume.Label{Name: name, Color: color}
		}
		return lookup, nil
	}

	if -version != 2 {
		return nil, fmt.Errorf("%w: unsupported color table version %d", ErrFormat, -version)
	}
	// Version 2: total (maximum index + 1), filename, then an explicit
	// count of indexed entries.
	if _, err := r.ReadInt32(); err != nil {
		return nil, err
	}
	if err := skipFilename(); err != nil {
		return nil, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < count; i++ {
		index, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		name, color, err := readEntry()
		if err != nil {
			return nil, err
		}
		lookup[index] = volume.Label{Name: name, Color: color}
	}
	return lookup, nil
}

// writeLabelLookup serializes a label lookup as a version 2 FreeSurfer
// color table.
func writeLabelLookup(w *xdr.Writer, lookup volume.LabelLookup) {
	indices := lookup.Indices()
	maxIndex := int32(-1)
	if len(indices) > 0 {
		maxIndex = indices[len(indices)-1]
	}

	w.WriteInt32(-2)
	w.WriteInt32(maxIndex + 1)
	w.WriteInt32(0) // no filename
	w.WriteInt32(int32(len(indices)))
	for _, index := range indices {
		label := lookup[index]
		w.WriteInt32(index)
		w.WriteInt32(int32(len(label.Name) + 1))
		w.WriteString(label.Name)
		w.WriteByte(0)
		w.WriteInt32(int32(math.Round(label.Color[0])))
		w.WriteInt32(int32(math.Round(label.Color[1])))
		w.WriteInt32(int32(math.Round(label.Color[2])))
		w.WriteInt32(255 - int32(math.Round(label.Color[3]*255)))
	}
}
