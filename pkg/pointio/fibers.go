package pointio

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"uct2ccf/internal/models"
)

// fiberRecord accepts both the array layout and the flattened top_z/top_y/top_x layout
type fiberRecord struct {
	ID     int       `json:"fiber_id"`
	Top    []float64 `json:"top,omitempty"`
	Bottom []float64 `json:"bottom,omitempty"`

	TopZ    *float64 `json:"top_z,omitempty"`
	TopY    *float64 `json:"top_y,omitempty"`
	TopX    *float64 `json:"top_x,omitempty"`
	BottomZ *float64 `json:"bottom_z,omitempty"`
	BottomY *float64 `json:"bottom_y,omitempty"`
	BottomX *float64 `json:"bottom_x,omitempty"`
}

func (r fiberRecord) points() ([]float64, []float64) {
	top, bottom := r.Top, r.Bottom
	if top == nil && r.TopZ != nil && r.TopY != nil && r.TopX != nil {
		top = []float64{*r.TopZ, *r.TopY, *r.TopX}
	}
	if bottom == nil && r.BottomZ != nil && r.BottomY != nil && r.BottomX != nil {
		bottom = []float64{*r.BottomZ, *r.BottomY, *r.BottomX}
	}
	return top, bottom
}

// ReadFibers loads fiber entry (top) and tip (bottom) points as voxel points.
// Which volume they index is up to the caller.
func ReadFibers(path string) ([]models.FiberTrack, error) {
	var records []fiberRecord
	if err := readJSON(path, &records); err != nil {
		return nil, err
	}
	fibers, err := decodeFibers(records)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid fibers in %v", path)
	}
	return fibers, nil
}

// DecodeFibers reads fibers in either file layout from r
func DecodeFibers(r io.Reader) ([]models.FiberTrack, error) {
	var records []fiberRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "failed to parse fibers")
	}
	return decodeFibers(records)
}

func decodeFibers(records []fiberRecord) ([]models.FiberTrack, error) {
	fibers := make([]models.FiberTrack, 0, len(records))
	seen := make(map[int]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			return nil, errors.Errorf("duplicate fiber id %d", r.ID)
		}
		seen[r.ID] = struct{}{}

		top, bottom := r.points()
		entry, err := models.PointFromSlice(top, models.SpaceVoxel)
		if err != nil {
			return nil, errors.Wrapf(err, "fiber %d top", r.ID)
		}
		tip, err := models.PointFromSlice(bottom, models.SpaceVoxel)
		if err != nil {
			return nil, errors.Wrapf(err, "fiber %d bottom", r.ID)
		}
		fibers = append(fibers, models.FiberTrack{ID: r.ID, Entry: entry, Tip: tip})
	}
	return fibers, nil
}

// WriteFibers saves fibers in the array layout; points must be voxel points
func WriteFibers(path string, fibers []models.FiberTrack) error {
	records := make([]fiberRecord, len(fibers))
	for i, f := range fibers {
		if f.Entry.Space != models.SpaceVoxel || f.Tip.Space != models.SpaceVoxel {
			return errors.Errorf("fiber %d is not in voxel space", f.ID)
		}
		top, bottom := f.Entry.Array(), f.Tip.Array()
		records[i] = fiberRecord{ID: f.ID, Top: top[:], Bottom: bottom[:]}
	}
	return writeJSON(path, records)
}
