package region

import (
	"errors"
	"reflect"
	"testing"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/ontology"
	"uct2ccf/pkg/transform"
)

func testTree(t *testing.T) *ontology.Tree {
	t.Helper()
	tree, err := ontology.Build([]ontology.Record{
		{ID: 1, Name: "root", Acronym: "root", Color: "FFFFFF"},
		{ID: 2, Name: "Cerebrum", Acronym: "CH", ParentID: 1, Color: "B0F0FF"},
		{ID: 5, Name: "Isocortex", Acronym: "Isocortex", ParentID: 2, Color: "70FF71"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return tree
}

func testAnnotation() *models.LabelVolume {
	lv := models.NewLabelVolume(16, 32, 40, models.IsotropicGrid(1))
	lv.Set(10, 20, 30, 5)
	lv.Set(3, 3, 3, 77)
	return lv
}

// TestResolveKnownLabel covers voxel (10,20,30) labelled 5 under 5 -> 2 -> 1
func TestResolveKnownLabel(t *testing.T) {
	rec, err := ResolveRegion(models.Physical(30, 20, 10), transform.Identity(), testAnnotation(), testTree(t))
	if err != nil {
		t.Fatalf("ResolveRegion failed: %v", err)
	}
	if rec.Status != StatusAssigned || rec.ID != 5 {
		t.Fatalf("Expected assigned id 5, got %v id %d", rec.Status, rec.ID)
	}
	var ids []uint32
	for _, e := range rec.Path {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []uint32{1, 2, 5}) {
		t.Errorf("Expected path [1 2 5], got %v", ids)
	}
	if rec.AtlasVoxel != [3]int{10, 20, 30} {
		t.Errorf("Expected voxel (10,20,30), got %v", rec.AtlasVoxel)
	}
	if rec.Acronym != "Isocortex" || rec.Color != "#70ff71" {
		t.Errorf("Unexpected leaf details %+v", rec)
	}
	if got := rec.PathString(" > "); got != "root > CH > Isocortex" {
		t.Errorf("Unexpected path string %q", got)
	}
}

// TestResolveRounding checks sub-voxel offsets round to the nearest index
func TestResolveRounding(t *testing.T) {
	rec, err := ResolveRegion(models.Physical(30.4, 19.6, 10.2), transform.Identity(), testAnnotation(), testTree(t))
	if err != nil {
		t.Fatalf("ResolveRegion failed: %v", err)
	}
	if rec.ID != 5 {
		t.Errorf("Expected id 5 after rounding, got %d", rec.ID)
	}
}

func TestResolveThroughTransform(t *testing.T) {
	// The scan point sits one unit off in x; the transform moves it onto the labelled voxel
	rec, err := ResolveRegion(models.Physical(29, 20, 10), transform.Translation(1, 0, 0), testAnnotation(), testTree(t))
	if err != nil {
		t.Fatalf("ResolveRegion failed: %v", err)
	}
	if rec.ID != 5 {
		t.Errorf("Expected id 5, got %d", rec.ID)
	}
}

func TestResolveBackground(t *testing.T) {
	rec, err := ResolveRegion(models.Physical(1, 1, 1), transform.Identity(), testAnnotation(), testTree(t))
	if err != nil {
		t.Fatalf("Expected no error for background, got %v", err)
	}
	if rec.Status != StatusBackground || rec.Assigned() {
		t.Errorf("Expected background, got %v", rec.Status)
	}
	if rec.Acronym != OutsideBrainAcronym || len(rec.Path) != 0 {
		t.Errorf("Unexpected background record %+v", rec)
	}
}

func TestResolveOutOfBounds(t *testing.T) {
	points := []models.Point3D{
		models.Physical(-1, 0, 0),
		models.Physical(40, 0, 0),
		models.Physical(0, 0, 15.6),
	}
	for _, p := range points {
		rec, err := ResolveRegion(p, transform.Identity(), testAnnotation(), testTree(t))
		if err != nil {
			t.Errorf("%v: expected no error, got %v", p, err)
			continue
		}
		if rec.Status != StatusOutOfBounds || rec.Acronym != OutOfBoundsAcronym {
			t.Errorf("%v: expected out of bounds, got %v", p, rec.Status)
		}
	}
}

func TestResolveUnknownLabel(t *testing.T) {
	_, err := ResolveRegion(models.Physical(3, 3, 3), transform.Identity(), testAnnotation(), testTree(t))
	var unresolved *models.UnresolvedLabelError
	if !errors.As(err, &unresolved) {
		t.Fatalf("Expected UnresolvedLabelError, got %v", err)
	}
	if unresolved.Label != 77 || unresolved.Voxel != [3]int{3, 3, 3} {
		t.Errorf("Unexpected error details %+v", unresolved)
	}
}

func TestResolveRejectsSingularTransform(t *testing.T) {
	var singular transform.Affine
	_, err := NewResolver(singular, testAnnotation(), testTree(t))
	var st *models.SingularTransformError
	if !errors.As(err, &st) {
		t.Errorf("Expected SingularTransformError, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	r, err := NewResolver(transform.Identity(), testAnnotation(), testTree(t))
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	a, err := r.Resolve(models.Physical(30, 20, 10))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := r.Resolve(models.Physical(30, 20, 10))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Expected identical records, got %+v and %+v", a, b)
	}
}

func TestTrackFibers(t *testing.T) {
	r, err := NewResolver(transform.Identity(), testAnnotation(), testTree(t))
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	fibers := []models.FiberTrack{
		{ID: 1, Entry: models.Voxel(0, 20, 30), Tip: models.Voxel(10, 20, 30)},
		{ID: 2, Entry: models.Voxel(0, 1, 1), Tip: models.Voxel(1, 1, 1)},
	}
	records, err := r.TrackFibers(fibers, models.IsotropicGrid(1))
	if err != nil {
		t.Fatalf("TrackFibers failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Region.ID != 5 || records[0].Length != 10 {
		t.Errorf("Unexpected first fiber %+v", records[0])
	}
	if records[0].TipPhysical != models.Physical(30, 20, 10) {
		t.Errorf("Expected tip physical (30,20,10), got %v", records[0].TipPhysical)
	}
	if records[1].Region.Status != StatusBackground {
		t.Errorf("Expected background for second fiber, got %v", records[1].Region.Status)
	}

	bad := []models.FiberTrack{{ID: 9, Entry: models.Voxel(0, 0, 0), Tip: models.Voxel(3, 3, 3)}}
	if _, err := r.TrackFibers(bad, models.IsotropicGrid(1)); err == nil {
		t.Error("Expected error for unresolved tip label")
	}
}
