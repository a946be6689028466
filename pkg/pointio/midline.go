package pointio

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"uct2ccf/internal/models"
)

// Views on which midline points are marked
const (
	ViewAxial    = "axial"
	ViewCoronal  = "coronal"
	ViewSagittal = "sagittal"
)

type midlineFile struct {
	MidlinePoints map[string][][]float64 `json:"midline_points"`
}

// ViewToVoxel places a (row, col) click on a view slice into voxel index
// order. Axial slices cut axis 1 and show (axis0, axis2); coronal slices cut
// axis 0 and show (axis1, axis2); sagittal slices cut axis 2 and show (axis0, axis1).
func ViewToVoxel(view string, slice int, row, col float64) (models.Point3D, error) {
	s := float64(slice)
	switch view {
	case ViewAxial:
		return models.Voxel(row, s, col), nil
	case ViewCoronal:
		return models.Voxel(s, row, col), nil
	case ViewSagittal:
		return models.Voxel(row, col, s), nil
	}
	return models.Point3D{}, fmt.Errorf("unknown view %q", view)
}

// VoxelToView is the inverse of ViewToVoxel
func VoxelToView(view string, p models.Point3D) (row, col float64, err error) {
	switch view {
	case ViewAxial:
		return p.X, p.Z, nil
	case ViewCoronal:
		return p.Y, p.Z, nil
	case ViewSagittal:
		return p.X, p.Y, nil
	}
	return 0, 0, fmt.Errorf("unknown view %q", view)
}

// ReadMidline loads midline clicks keyed by "<view>_<slice>"
func ReadMidline(path string) (models.MidlinePointSet, error) {
	var f midlineFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(f.MidlinePoints))
	for k := range f.MidlinePoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var set models.MidlinePointSet
	for _, k := range keys {
		view, slice, err := parseSliceKey(k)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid midline file %v", path)
		}
		for i, rc := range f.MidlinePoints[k] {
			if len(rc) != 2 {
				return nil, errors.Errorf("midline point %d on %v has %d coordinates, expected 2", i, k, len(rc))
			}
			p, err := ViewToVoxel(view, slice, rc[0], rc[1])
			if err != nil {
				return nil, err
			}
			set = append(set, models.MidlinePoint{View: view, Slice: slice, Point: p})
		}
	}
	return set, nil
}

// WriteMidline saves a point set in the same keyed layout
func WriteMidline(path string, set models.MidlinePointSet) error {
	f := midlineFile{MidlinePoints: make(map[string][][]float64)}
	for _, mp := range set {
		row, col, err := VoxelToView(mp.View, mp.Point)
		if err != nil {
			return err
		}
		k := fmt.Sprintf("%s_%d", mp.View, mp.Slice)
		f.MidlinePoints[k] = append(f.MidlinePoints[k], []float64{row, col})
	}
	return writeJSON(path, f)
}

func parseSliceKey(k string) (string, int, error) {
	i := strings.LastIndex(k, "_")
	if i <= 0 {
		return "", 0, fmt.Errorf("slice key %q is not <view>_<slice>", k)
	}
	slice, err := strconv.Atoi(k[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("slice key %q: %w", k, err)
	}
	return k[:i], slice, nil
}
