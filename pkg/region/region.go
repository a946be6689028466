// Package region maps scan coordinates onto atlas structures.
package region

import (
	"fmt"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/ontology"
	"uct2ccf/pkg/transform"
)

// Status classifies a lookup
type Status int

const (
	StatusAssigned Status = iota
	StatusBackground
	StatusOutOfBounds
)

func (s Status) String() string {
	switch s {
	case StatusAssigned:
		return "assigned"
	case StatusBackground:
		return "background"
	case StatusOutOfBounds:
		return "out of bounds"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText lets Status appear by name in JSON reports
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Names used for unassigned records
const (
	OutsideBrainName    = "Outside Brain"
	OutsideBrainAcronym = "OUT"
	OutOfBoundsName     = "Out of Bounds"
	OutOfBoundsAcronym  = "OOB"
)

// PathEntry is one level of the ancestor path
type PathEntry struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Acronym string `json:"acronym"`
	Color   string `json:"color"`
}

// Record is the region assigned to a point
type Record struct {
	Status  Status      `json:"status"`
	ID      uint32      `json:"structure_id"`
	Name    string      `json:"structure_name"`
	Acronym string      `json:"acronym"`
	Color   string      `json:"color,omitempty"`
	Path    []PathEntry `json:"path,omitempty"`

	// AtlasPhysical is the point after the scan-to-atlas transform
	AtlasPhysical models.Point3D `json:"atlas_physical"`

	// AtlasVoxel is the rounded annotation index
	AtlasVoxel [3]int `json:"atlas_voxel"`
}

// Assigned reports whether the record names a structure
func (r Record) Assigned() bool {
	return r.Status == StatusAssigned
}

// PathString joins the path acronyms, root first
func (r Record) PathString(sep string) string {
	s := ""
	for i, e := range r.Path {
		if i > 0 {
			s += sep
		}
		s += e.Acronym
	}
	return s
}

// Resolver looks up physical scan points in an annotation volume
type Resolver struct {
	affine     transform.Affine
	annotation *models.LabelVolume
	tree       *ontology.Tree
}

// NewResolver validates the transform and annotation once so repeated lookups are cheap
func NewResolver(affine transform.Affine, annotation *models.LabelVolume, tree *ontology.Tree) (*Resolver, error) {
	if err := affine.Validate("resolve region"); err != nil {
		return nil, err
	}
	if annotation == nil {
		return nil, fmt.Errorf("resolve region: annotation volume is nil")
	}
	if err := annotation.Validate(); err != nil {
		return nil, fmt.Errorf("resolve region: %w", err)
	}
	if err := transform.ValidateGrid(annotation.Grid); err != nil {
		return nil, fmt.Errorf("resolve region: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("resolve region: ontology is nil")
	}
	return &Resolver{affine: affine, annotation: annotation, tree: tree}, nil
}

// ResolveRegion is a one-shot NewResolver followed by Resolve
func ResolveRegion(p models.Point3D, affine transform.Affine, annotation *models.LabelVolume, tree *ontology.Tree) (Record, error) {
	r, err := NewResolver(affine, annotation, tree)
	if err != nil {
		return Record{}, err
	}
	return r.Resolve(p)
}

// Resolve maps a physical scan point to its structure. Background and
// out-of-bounds points produce unassigned records; a label missing from the
// ontology is an UnresolvedLabelError.
func (r *Resolver) Resolve(p models.Point3D) (Record, error) {
	atlas, err := r.affine.Apply(p)
	if err != nil {
		return Record{}, err
	}
	vox, err := transform.ToVoxel(r.annotation.Grid, atlas)
	if err != nil {
		return Record{}, err
	}
	idx, err := transform.RoundIndex(vox)
	if err != nil {
		return Record{}, err
	}

	rec := Record{AtlasPhysical: atlas, AtlasVoxel: idx}
	label, err := r.annotation.At(idx[0], idx[1], idx[2])
	if err != nil {
		rec.Status = StatusOutOfBounds
		rec.Name = OutOfBoundsName
		rec.Acronym = OutOfBoundsAcronym
		return rec, nil
	}
	if label == 0 {
		rec.Status = StatusBackground
		rec.Name = OutsideBrainName
		rec.Acronym = OutsideBrainAcronym
		return rec, nil
	}

	path, ok := r.tree.Path(label)
	if !ok {
		return Record{}, &models.UnresolvedLabelError{Label: label, Voxel: idx}
	}
	leaf := path[len(path)-1]
	rec.Status = StatusAssigned
	rec.ID = leaf.ID
	rec.Name = leaf.Name
	rec.Acronym = leaf.Acronym
	rec.Color = leaf.Color
	rec.Path = make([]PathEntry, len(path))
	for i, n := range path {
		rec.Path[i] = PathEntry{ID: n.ID, Name: n.Name, Acronym: n.Acronym, Color: n.Color}
	}
	return rec, nil
}
