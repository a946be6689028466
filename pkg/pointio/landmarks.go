package pointio

import (
	"fmt"

	"github.com/pkg/errors"

	"uct2ccf/internal/models"
)

// LandmarkFile is the landmark layout written by this tool. The older
// layout with parallel moving/fixed lists is read as well.
type LandmarkFile struct {
	Space      string           `json:"space"`
	Convention string           `json:"coordinate_convention,omitempty"`
	MovingName string           `json:"moving_name,omitempty"`
	FixedName  string           `json:"fixed_name,omitempty"`
	Pairs      []LandmarkRecord `json:"pairs"`

	// Legacy parallel lists, voxel (z, y, x)
	MovingLandmarks [][]float64 `json:"moving_landmarks,omitempty"`
	FixedLandmarks  [][]float64 `json:"fixed_landmarks,omitempty"`
	LandmarkNames   []string    `json:"landmark_names,omitempty"`
}

// LandmarkRecord is one pair in the file
type LandmarkRecord struct {
	Index  int       `json:"index"`
	Name   string    `json:"name,omitempty"`
	Slice  *int      `json:"slice,omitempty"`
	Moving []float64 `json:"moving"`
	Fixed  []float64 `json:"fixed"`
}

// ReadLandmarks loads landmark pairs. Points carry the space named in the file.
func ReadLandmarks(path string) ([]models.LandmarkPair, error) {
	var f LandmarkFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}
	pairs, err := f.Decode()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid landmarks in %v", path)
	}
	return pairs, nil
}

// Decode converts the file contents to landmark pairs
func (f LandmarkFile) Decode() ([]models.LandmarkPair, error) {
	space, err := models.ParseSpace(f.Space)
	if err != nil {
		return nil, err
	}

	if len(f.Pairs) == 0 && (len(f.MovingLandmarks) > 0 || len(f.FixedLandmarks) > 0) {
		return decodeLegacy(f)
	}

	pairs := make([]models.LandmarkPair, 0, len(f.Pairs))
	seen := make(map[int]struct{}, len(f.Pairs))
	for _, r := range f.Pairs {
		if _, dup := seen[r.Index]; dup {
			return nil, fmt.Errorf("duplicate landmark index %d", r.Index)
		}
		seen[r.Index] = struct{}{}
		pair := models.LandmarkPair{Index: r.Index, Name: r.Name, Slice: r.Slice}
		if pair.Moving, err = models.PointFromSlice(r.Moving, space); err != nil {
			return nil, fmt.Errorf("%s moving point: %w", pair.Label(), err)
		}
		if pair.Fixed, err = models.PointFromSlice(r.Fixed, space); err != nil {
			return nil, fmt.Errorf("%s fixed point: %w", pair.Label(), err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func decodeLegacy(f LandmarkFile) ([]models.LandmarkPair, error) {
	if len(f.MovingLandmarks) != len(f.FixedLandmarks) {
		return nil, fmt.Errorf("%d moving landmarks but %d fixed landmarks",
			len(f.MovingLandmarks), len(f.FixedLandmarks))
	}
	pairs := make([]models.LandmarkPair, len(f.MovingLandmarks))
	for i := range f.MovingLandmarks {
		m, err := models.PointFromSlice(f.MovingLandmarks[i], models.SpaceVoxel)
		if err != nil {
			return nil, fmt.Errorf("landmark %d moving point: %w", i+1, err)
		}
		fx, err := models.PointFromSlice(f.FixedLandmarks[i], models.SpaceVoxel)
		if err != nil {
			return nil, fmt.Errorf("landmark %d fixed point: %w", i+1, err)
		}
		name := ""
		if i < len(f.LandmarkNames) {
			name = f.LandmarkNames[i]
		}
		pairs[i] = models.LandmarkPair{Index: i + 1, Name: name, Moving: m, Fixed: fx}
	}
	return pairs, nil
}

// WriteLandmarks saves pairs in the current layout. All points must share one space.
func WriteLandmarks(path string, pairs []models.LandmarkPair) error {
	f := LandmarkFile{Space: models.SpaceVoxel.String(), Convention: "axis0, axis1, axis2"}
	for i, p := range pairs {
		if i == 0 {
			f.Space = p.Moving.Space.String()
		}
		if p.Moving.Space.String() != f.Space || p.Fixed.Space.String() != f.Space {
			return errors.Errorf("landmark %d mixes coordinate spaces", p.Index)
		}
		m, fx := p.Moving.Array(), p.Fixed.Array()
		f.Pairs = append(f.Pairs, LandmarkRecord{Index: p.Index, Name: p.Name, Slice: p.Slice, Moving: m[:], Fixed: fx[:]})
	}
	if f.Space == models.SpacePhysical.String() {
		f.Convention = "x, y, z"
	}
	return writeJSON(path, f)
}
