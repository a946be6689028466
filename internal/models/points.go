package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Space tags the coordinate system a point lives in
type Space int

const (
	// SpaceVoxel points hold continuous index coordinates (axis0, axis1, axis2)
	SpaceVoxel Space = iota
	// SpacePhysical points hold millimetres along (x, y, z)
	SpacePhysical
)

func (s Space) String() string {
	switch s {
	case SpaceVoxel:
		return "voxel"
	case SpacePhysical:
		return "physical"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// ParseSpace accepts the names produced by String
func ParseSpace(name string) (Space, error) {
	switch name {
	case "voxel", "":
		return SpaceVoxel, nil
	case "physical":
		return SpacePhysical, nil
	}
	return 0, fmt.Errorf("unknown coordinate space %q", name)
}

// MarshalText writes the space by name
func (s Space) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by String
func (s *Space) UnmarshalText(b []byte) error {
	v, err := ParseSpace(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Point3D is a point tagged with its space
type Point3D struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Space Space   `json:"space"`
}

// Voxel creates a voxel-space point from index coordinates (axis0, axis1, axis2)
func Voxel(a0, a1, a2 float64) Point3D {
	return Point3D{X: a0, Y: a1, Z: a2, Space: SpaceVoxel}
}

// Physical creates a physical-space point
func Physical(x, y, z float64) Point3D {
	return Point3D{X: x, Y: y, Z: z, Space: SpacePhysical}
}

// Vec returns the coordinates as a gonum vector
func (p Point3D) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Array returns the coordinates in field order
func (p Point3D) Array() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

// PointFromVec tags a gonum vector with a space
func PointFromVec(v r3.Vec, space Space) Point3D {
	return Point3D{X: v.X, Y: v.Y, Z: v.Z, Space: space}
}

// PointFromSlice builds a point from exactly three coordinates
func PointFromSlice(c []float64, space Space) (Point3D, error) {
	if len(c) != 3 {
		return Point3D{}, fmt.Errorf("expected 3 coordinates, got %d", len(c))
	}
	return Point3D{X: c[0], Y: c[1], Z: c[2], Space: space}, nil
}

// Distance is the Euclidean distance to q; both points must share a space
func (p Point3D) Distance(q Point3D) float64 {
	return r3.Norm(r3.Sub(p.Vec(), q.Vec()))
}

func (p Point3D) String() string {
	return fmt.Sprintf("%s(%.3f, %.3f, %.3f)", p.Space, p.X, p.Y, p.Z)
}

// MidlinePoint is a point marked on one slice of one view
type MidlinePoint struct {
	View  string
	Slice int
	Point Point3D
}

// MidlinePointSet is an ordered, already finalized collection of midline points
type MidlinePointSet []MidlinePoint

// DistinctSlices counts the (view, slice) pairs that carry at least one point
func (s MidlinePointSet) DistinctSlices() int {
	seen := make(map[string]struct{})
	for _, p := range s {
		seen[fmt.Sprintf("%s_%d", p.View, p.Slice)] = struct{}{}
	}
	return len(seen)
}

// LandmarkPair links a scan-space point to its atlas-space counterpart
type LandmarkPair struct {
	Index int
	Name  string

	// Slice is the slice the pair was marked on, nil when unknown
	Slice *int

	Moving Point3D
	Fixed  Point3D
}

// Label names the pair in messages, with its slice when known
func (p LandmarkPair) Label() string {
	if p.Slice != nil {
		return fmt.Sprintf("landmark %d (slice %d)", p.Index, *p.Slice)
	}
	return fmt.Sprintf("landmark %d", p.Index)
}

// FiberTrack is an implanted fiber marked by its surface entry and deep tip
type FiberTrack struct {
	ID    int
	Entry Point3D
	Tip   Point3D
}
