package models

import "fmt"

// InsufficientInputError reports too few points, slices or pairs
type InsufficientInputError struct {
	Op   string
	What string
	Need int
	Got  int
}

func (e *InsufficientInputError) Error() string {
	return fmt.Sprintf("%s: need at least %d %s, got %d", e.Op, e.Need, e.What, e.Got)
}

// DegenerateInputError reports colinear, coplanar or ill-conditioned input.
// Index is the offending point or pair index, or -1 when the whole set is at fault.
type DegenerateInputError struct {
	Op     string
	Reason string
	Index  int
}

func (e *DegenerateInputError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s: degenerate input at index %d: %s", e.Op, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: degenerate input: %s", e.Op, e.Reason)
}

// OutOfBoundsError reports a voxel lookup outside the volume
type OutOfBoundsError struct {
	Index [3]int
	Shape [3]int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("voxel (%d, %d, %d) outside volume of shape %dx%dx%d",
		e.Index[0], e.Index[1], e.Index[2], e.Shape[0], e.Shape[1], e.Shape[2])
}

// UnresolvedLabelError reports an annotation label with no ontology entry
type UnresolvedLabelError struct {
	Label uint32
	Voxel [3]int
}

func (e *UnresolvedLabelError) Error() string {
	return fmt.Sprintf("label %d at voxel (%d, %d, %d) has no ontology entry",
		e.Label, e.Voxel[0], e.Voxel[1], e.Voxel[2])
}

// SingularTransformError reports a non-invertible affine matrix
type SingularTransformError struct {
	Op  string
	Det float64
}

func (e *SingularTransformError) Error() string {
	return fmt.Sprintf("%s: singular transform (det=%g)", e.Op, e.Det)
}
