package models

import "fmt"

// Convention maps each voxel index axis to the physical axis it runs along.
// Index axes are ordered (depth, anterior-posterior, medial-lateral); physical
// axes are ordered (left-right, anterior-posterior, dorsal-ventral).
type Convention [3]int

// ConventionZYX is the layout of TIFF stacks and CCF annotation arrays:
// index axis 0 runs along physical z, axis 1 along y, axis 2 along x.
var ConventionZYX = Convention{2, 1, 0}

// Valid reports whether the convention is a permutation of the three axes.
func (c Convention) Valid() bool {
	var seen [3]bool
	for _, a := range c {
		if a < 0 || a > 2 || seen[a] {
			return false
		}
		seen[a] = true
	}
	return true
}

// Grid ties a voxel array to physical space
type Grid struct {
	// Spacing is the voxel size in mm along the physical x, y and z axes
	Spacing [3]float64 `yaml:"spacing" json:"spacing"`

	// Axes maps index axes to physical axes
	Axes Convention `yaml:"axes" json:"axes"`

	// Origin is the physical position of voxel (0,0,0)
	Origin [3]float64 `yaml:"origin" json:"origin"`
}

// IsotropicGrid returns a ZYX grid with the same spacing on every axis
func IsotropicGrid(spacing float64) Grid {
	return Grid{
		Spacing: [3]float64{spacing, spacing, spacing},
		Axes:    ConventionZYX,
	}
}

// Volume represents a 3D intensity volume
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	Data []float64

	// Depth, Height, Width are the sizes of index axes 0, 1 and 2
	Depth, Height, Width int

	// Grid places the voxels in physical space
	Grid Grid
}

// NewVolume allocates a zero-filled volume
func NewVolume(depth, height, width int, grid Grid) *Volume {
	return &Volume{
		Data:   make([]float64, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
		Grid:   grid,
	}
}

// Index returns the flat offset of voxel (z, y, x)
func (v *Volume) Index(z, y, x int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Contains reports whether (z, y, x) lies inside the volume
func (v *Volume) Contains(z, y, x int) bool {
	return z >= 0 && z < v.Depth && y >= 0 && y < v.Height && x >= 0 && x < v.Width
}

// At returns the voxel value at (z, y, x). Direct access outside the volume is fatal.
func (v *Volume) At(z, y, x int) (float64, error) {
	if !v.Contains(z, y, x) {
		return 0, &OutOfBoundsError{Index: [3]int{z, y, x}, Shape: v.Shape()}
	}
	return v.Data[v.Index(z, y, x)], nil
}

// Shape returns the index-order dimensions
func (v *Volume) Shape() [3]int {
	return [3]int{v.Depth, v.Height, v.Width}
}

// Validate checks that the data length matches the dimensions
func (v *Volume) Validate() error {
	if v.Depth <= 0 || v.Height <= 0 || v.Width <= 0 {
		return fmt.Errorf("volume has empty dimensions %dx%dx%d", v.Depth, v.Height, v.Width)
	}
	if len(v.Data) != v.Depth*v.Height*v.Width {
		return fmt.Errorf("volume data length %d does not match %dx%dx%d",
			len(v.Data), v.Depth, v.Height, v.Width)
	}
	return nil
}

// LabelVolume is an annotation volume of structure ids; 0 is background
type LabelVolume struct {
	Labels []uint32

	Depth, Height, Width int

	Grid Grid
}

// NewLabelVolume allocates a background-filled label volume
func NewLabelVolume(depth, height, width int, grid Grid) *LabelVolume {
	return &LabelVolume{
		Labels: make([]uint32, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
		Grid:   grid,
	}
}

func (l *LabelVolume) Index(z, y, x int) int {
	return z*l.Width*l.Height + y*l.Width + x
}

func (l *LabelVolume) Contains(z, y, x int) bool {
	return z >= 0 && z < l.Depth && y >= 0 && y < l.Height && x >= 0 && x < l.Width
}

func (l *LabelVolume) Shape() [3]int {
	return [3]int{l.Depth, l.Height, l.Width}
}

// At returns the label at (z, y, x), or an OutOfBoundsError
func (l *LabelVolume) At(z, y, x int) (uint32, error) {
	if !l.Contains(z, y, x) {
		return 0, &OutOfBoundsError{Index: [3]int{z, y, x}, Shape: l.Shape()}
	}
	return l.Labels[l.Index(z, y, x)], nil
}

// Set writes a label; out-of-range writes are ignored
func (l *LabelVolume) Set(z, y, x int, label uint32) {
	if l.Contains(z, y, x) {
		l.Labels[l.Index(z, y, x)] = label
	}
}

func (l *LabelVolume) Validate() error {
	if l.Depth <= 0 || l.Height <= 0 || l.Width <= 0 {
		return fmt.Errorf("label volume has empty dimensions %dx%dx%d", l.Depth, l.Height, l.Width)
	}
	if len(l.Labels) != l.Depth*l.Height*l.Width {
		return fmt.Errorf("label volume length %d does not match %dx%dx%d",
			len(l.Labels), l.Depth, l.Height, l.Width)
	}
	return nil
}
