package transform

import (
	"fmt"
	"strings"
)

// Space identifies the coordinate system a transform operates in.
type Space int

const (
	// SpaceUnknown marks a transform with no declared coordinate space.
	SpaceUnknown Space = iota
	// SpaceVoxel is the discrete array-index coordinate system of an image.
	SpaceVoxel
	// SpaceWorld is the continuous physical (scanner) coordinate system.
	SpaceWorld
	// SpaceSurface is the coordinate frame used for mesh vertex coordinates,
	// offset from world space by the geometry's center.
	SpaceSurface
)

// String returns a string representation of the coordinate space.
func (s Space) String() string {
	switch s {
	case SpaceVoxel:
		return "voxel"
	case SpaceWorld:
		return "world"
	case SpaceSurface:
		return "surface"
	default:
		return "unknown"
	}
}

// ParseSpace converts a case-insensitive space name to a Space.
// Common FreeSurfer aliases are accepted: "vox" and "image" for voxel
// space, "ras" and "scanner" for world space, "surf", "tkr", "tkreg",
// and "tkras" for surface space.
func ParseSpace(name string) (Space, error) {
	switch strings.ToLower(name) {
	case "voxel", "vox", "image":
		return SpaceVoxel, nil
	case "world", "ras", "scanner":
		return SpaceWorld, nil
	case "surface", "surf", "tkr", "tkreg", "tkras":
		return SpaceSurface, nil
	default:
		return SpaceUnknown, fmt.Errorf("%w: %q", ErrUnknownSpace, name)
	}
}
