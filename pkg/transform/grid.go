// Package transform converts points between voxel-index and physical space and
// provides the affine transforms that chain scan space to atlas space.
package transform

import (
	"fmt"
	"math"

	"uct2ccf/internal/models"
)

// ValidateGrid checks spacing and axis convention
func ValidateGrid(g models.Grid) error {
	for i, s := range g.Spacing {
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			return fmt.Errorf("invalid spacing %v on physical axis %d", s, i)
		}
	}
	for i, o := range g.Origin {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return fmt.Errorf("invalid origin %v on physical axis %d", o, i)
		}
	}
	if !g.Axes.Valid() {
		return fmt.Errorf("axis convention %v is not a permutation of (0, 1, 2)", g.Axes)
	}
	return nil
}

// ToPhysical maps a voxel point through the grid. Physical points pass through.
func ToPhysical(g models.Grid, p models.Point3D) (models.Point3D, error) {
	if p.Space == models.SpacePhysical {
		return p, nil
	}
	if err := ValidateGrid(g); err != nil {
		return models.Point3D{}, err
	}
	idx := p.Array()
	var phys [3]float64
	for i, a := range g.Axes {
		phys[a] = idx[i]*g.Spacing[a] + g.Origin[a]
	}
	return models.Physical(phys[0], phys[1], phys[2]), nil
}

// ToVoxel maps a physical point to continuous index coordinates. Voxel points pass through.
func ToVoxel(g models.Grid, p models.Point3D) (models.Point3D, error) {
	if p.Space == models.SpaceVoxel {
		return p, nil
	}
	if err := ValidateGrid(g); err != nil {
		return models.Point3D{}, err
	}
	phys := p.Array()
	var idx [3]float64
	for i, a := range g.Axes {
		idx[i] = (phys[a] - g.Origin[a]) / g.Spacing[a]
	}
	return models.Voxel(idx[0], idx[1], idx[2]), nil
}

// ConvertSpace returns p expressed in the target space
func ConvertSpace(p models.Point3D, g models.Grid, target models.Space) (models.Point3D, error) {
	switch target {
	case models.SpacePhysical:
		return ToPhysical(g, p)
	case models.SpaceVoxel:
		return ToVoxel(g, p)
	}
	return models.Point3D{}, fmt.Errorf("unknown target space %v", target)
}

// RoundIndex rounds a continuous voxel point to the nearest integer indices.
// Halves round to even.
func RoundIndex(p models.Point3D) ([3]int, error) {
	if p.Space != models.SpaceVoxel {
		return [3]int{}, fmt.Errorf("cannot round %s point to voxel indices", p.Space)
	}
	var idx [3]int
	for i, c := range p.Array() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return [3]int{}, fmt.Errorf("non-finite voxel coordinate %v", c)
		}
		idx[i] = int(math.RoundToEven(c))
	}
	return idx, nil
}

// GridToAffine expresses the voxel->physical mapping of a grid as an Affine
func GridToAffine(g models.Grid) (Affine, error) {
	if err := ValidateGrid(g); err != nil {
		return Affine{}, err
	}
	var a Affine
	for i, ax := range g.Axes {
		a.Matrix[ax][i] = g.Spacing[ax]
	}
	a.Translation = g.Origin
	return a, nil
}
