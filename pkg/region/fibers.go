package region

import (
	"fmt"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/transform"
)

// FiberRecord is a tracked fiber with the region of its tip
type FiberRecord struct {
	ID int `json:"fiber_id"`

	EntryVoxel    models.Point3D `json:"entry_voxel"`
	EntryPhysical models.Point3D `json:"entry_physical"`
	TipVoxel      models.Point3D `json:"tip_voxel"`
	TipPhysical   models.Point3D `json:"tip_physical"`

	// Length is the entry to tip distance in physical units
	Length float64 `json:"length"`

	Region Record `json:"region"`
}

// TrackFibers resolves the tip of every fiber. Fiber points may be voxel
// points on scanGrid or physical points; only the tip is looked up.
func (r *Resolver) TrackFibers(fibers []models.FiberTrack, scanGrid models.Grid) ([]FiberRecord, error) {
	out := make([]FiberRecord, 0, len(fibers))
	for _, f := range fibers {
		rec, err := r.trackFiber(f, scanGrid)
		if err != nil {
			return nil, fmt.Errorf("fiber %d: %w", f.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Resolver) trackFiber(f models.FiberTrack, grid models.Grid) (FiberRecord, error) {
	rec := FiberRecord{ID: f.ID}
	var err error
	if rec.EntryPhysical, err = transform.ConvertSpace(f.Entry, grid, models.SpacePhysical); err != nil {
		return rec, err
	}
	if rec.EntryVoxel, err = transform.ConvertSpace(f.Entry, grid, models.SpaceVoxel); err != nil {
		return rec, err
	}
	if rec.TipPhysical, err = transform.ConvertSpace(f.Tip, grid, models.SpacePhysical); err != nil {
		return rec, err
	}
	if rec.TipVoxel, err = transform.ConvertSpace(f.Tip, grid, models.SpaceVoxel); err != nil {
		return rec, err
	}
	rec.Length = rec.EntryPhysical.Distance(rec.TipPhysical)

	if rec.Region, err = r.Resolve(rec.TipPhysical); err != nil {
		return rec, err
	}
	return rec, nil
}
