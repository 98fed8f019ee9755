package volume

import (
	"sort"
	"strings"
)

// Label describes one entry in a label lookup: a name and an RGBA color.
// The RGB channels range over 0 to 255 and alpha over 0 to 1.
type Label struct {
	Name  string
	Color [4]float64
}

// LabelLookup maps integer voxel values to label names and colors, as used
// by segmentation volumes. A nil lookup is valid and empty.
type LabelLookup map[int32]Label

// Copy returns a deep copy of the lookup. Copying a nil lookup returns nil.
func (l LabelLookup) Copy() LabelLookup {
	if l == nil {
		return nil
	}
	out := make(LabelLookup, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Indices returns the label indices in ascending order.
func (l LabelLookup) Indices() []int32 {
	out := make([]int32, 0, len(l))
	for k := range l {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Search returns the indices of all labels whose name contains the given
// substring, case-sensitively, in ascending index order.
func (l LabelLookup) Search(name string) []int32 {
	var out []int32
	for _, idx := range l.Indices() {
		if strings.Contains(l[idx].Name, name) {
			out = append(out, idx)
		}
	}
	return out
}

// Extract returns a lookup restricted to the given indices. Indices absent
// from the lookup are skipped.
func (l LabelLookup) Extract(indices []int32) LabelLookup {
	out := make(LabelLookup)
	for _, idx := range indices {
		if label, ok := l[idx]; ok {
			out[idx] = label
		}
	}
	return out
}
