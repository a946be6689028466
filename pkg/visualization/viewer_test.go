package visualization

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/ontology"
	"uct2ccf/pkg/pointio"
)

// gradientVolume fills a volume with value = axis0*100 + axis1*10 + axis2
func gradientVolume(d, h, w int) *models.Volume {
	vol := models.NewVolume(d, h, w, models.IsotropicGrid(0.5))
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				vol.Data[vol.Index(z, y, x)] = float64(z*100 + y*10 + x)
			}
		}
	}
	return vol
}

// TestNewViewer verifies that the window spans the data range
func TestNewViewer(t *testing.T) {
	viewer, err := NewViewer(gradientVolume(3, 4, 5))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if viewer.lo != 0 || viewer.hi != 234 {
		t.Errorf("Expected window 0..234, got %v..%v", viewer.lo, viewer.hi)
	}
	if err := viewer.SetWindow(5, 5); err == nil {
		t.Error("Expected error for empty window")
	}

	if _, err := NewViewer(&models.Volume{Depth: 1, Height: 1, Width: 2}); err == nil {
		t.Error("Expected error for inconsistent volume")
	}
}

// TestExtractSlice verifies slice shapes and that pixels match the voxel the
// point reader would assign to the same click
func TestExtractSlice(t *testing.T) {
	depth, height, width := 3, 4, 5
	vol := gradientVolume(depth, height, width)
	viewer, err := NewViewer(vol)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if err := viewer.SetWindow(0, 65535); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		view       string
		pos        int
		rows, cols int
	}{
		{"axial", 2, depth, width},
		{"coronal", 1, height, width},
		{"sagittal", 3, depth, height},
	}
	for _, tc := range tests {
		img, err := viewer.ExtractSlice(tc.view, tc.pos)
		if err != nil {
			t.Fatalf("Failed to extract %s slice: %v", tc.view, err)
		}
		b := img.Bounds()
		if b.Dx() != tc.cols || b.Dy() != tc.rows {
			t.Errorf("%s: expected %dx%d, got %dx%d", tc.view, tc.cols, tc.rows, b.Dx(), b.Dy())
		}
		for r := 0; r < tc.rows; r++ {
			for c := 0; c < tc.cols; c++ {
				p, err := pointio.ViewToVoxel(tc.view, tc.pos, float64(r), float64(c))
				if err != nil {
					t.Fatal(err)
				}
				want := uint16(p.X*100 + p.Y*10 + p.Z)
				if got := img.Gray16At(c, r).Y; got != want {
					t.Errorf("%s (%d,%d): expected %d, got %d", tc.view, r, c, want, got)
				}
			}
		}
	}

	if _, err := viewer.ExtractSlice("oblique", 0); err == nil {
		t.Error("Expected error for invalid view, got nil")
	}
	if _, err := viewer.ExtractSlice("coronal", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestExtractRegion verifies that sub-volumes are cropped with a shifted origin
func TestExtractRegion(t *testing.T) {
	vol := gradientVolume(5, 10, 10)
	viewer, err := NewViewer(vol)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	start, size := [3]int{1, 3, 2}, [3]int{2, 3, 4}
	region, err := viewer.ExtractRegion(start, size)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}
	if region.Shape() != size {
		t.Errorf("Expected shape %v, got %v", size, region.Shape())
	}
	for z := 0; z < size[0]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[2]; x++ {
				want := vol.Data[vol.Index(start[0]+z, start[1]+y, start[2]+x)]
				if got := region.Data[region.Index(z, y, x)]; got != want {
					t.Errorf("Region value mismatch at (%d,%d,%d): expected %f, got %f", z, y, x, want, got)
				}
			}
		}
	}
	// ZYX grid: axis2 -> x, axis1 -> y, axis0 -> z
	if region.Grid.Origin != [3]float64{1, 1.5, 0.5} {
		t.Errorf("Expected origin (1, 1.5, 0.5), got %v", region.Grid.Origin)
	}

	if _, err := viewer.ExtractRegion([3]int{-1, 0, 0}, [3]int{1, 1, 1}); err == nil {
		t.Error("Expected error for negative start coordinate, got nil")
	}
	if _, err := viewer.ExtractRegion([3]int{0, 0, 0}, [3]int{0, 1, 1}); err == nil {
		t.Error("Expected error for zero size, got nil")
	}
	if _, err := viewer.ExtractRegion([3]int{0, 0, 9}, [3]int{1, 1, 2}); err == nil {
		t.Error("Expected error for region extending beyond volume, got nil")
	}
}

func labelFixture(t *testing.T) (*models.LabelVolume, *ontology.Tree) {
	t.Helper()
	tree, err := ontology.Build([]ontology.Record{
		{ID: 1, Name: "root", Color: "FFFFFF"},
		{ID: 5, Name: "Isocortex", ParentID: 1, Color: "70FF71"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	lv := models.NewLabelVolume(3, 4, 5, models.IsotropicGrid(0.5))
	lv.Set(1, 2, 3, 5)
	lv.Set(1, 0, 0, 42)
	return lv, tree
}

func TestLabelSlice(t *testing.T) {
	lv, tree := labelFixture(t)
	img, err := LabelSlice(lv, tree, "coronal", 1)
	if err != nil {
		t.Fatalf("LabelSlice failed: %v", err)
	}
	if got := img.RGBAAt(3, 2); got != (color.RGBA{R: 0x70, G: 0xff, B: 0x71, A: 255}) {
		t.Errorf("Expected Isocortex colour, got %v", got)
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 128, G: 128, B: 128, A: 255}) {
		t.Errorf("Expected grey for unknown label, got %v", got)
	}
	if got := img.RGBAAt(1, 1); got != (color.RGBA{A: 255}) {
		t.Errorf("Expected black background, got %v", got)
	}
}

func TestOverlay(t *testing.T) {
	lv, tree := labelFixture(t)
	vol := models.NewVolume(3, 4, 5, lv.Grid)
	viewer, err := NewViewer(vol)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	img, err := viewer.Overlay(lv, tree, "coronal", 1, 1)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if got := img.RGBAAt(3, 2); got.G != 0xff || got.R != 0x70 {
		t.Errorf("Expected full label colour at alpha 1, got %v", got)
	}
	if got := img.RGBAAt(1, 1); got.R != 0 || got.G != 0 || got.B != 0 {
		t.Errorf("Expected plain grey background, got %v", got)
	}

	small := models.NewLabelVolume(1, 1, 1, lv.Grid)
	if _, err := viewer.Overlay(small, tree, "coronal", 0, 0.5); err == nil {
		t.Error("Expected error for shape mismatch")
	}
}

func TestCheckerboard(t *testing.T) {
	white := models.NewVolume(1, 4, 4, models.IsotropicGrid(1))
	for i := range white.Data {
		white.Data[i] = 1
	}
	black := models.NewVolume(1, 4, 4, models.IsotropicGrid(1))

	va, _ := NewViewer(white)
	vb, _ := NewViewer(black)
	va.SetWindow(0, 1)
	vb.SetWindow(0, 1)

	img, err := Checkerboard(va, vb, "coronal", 0, 2)
	if err != nil {
		t.Fatalf("Checkerboard failed: %v", err)
	}
	if img.Gray16At(0, 0).Y != 65535 || img.Gray16At(2, 0).Y != 0 || img.Gray16At(2, 2).Y != 65535 {
		t.Errorf("Unexpected tile pattern")
	}
	if _, err := Checkerboard(va, vb, "coronal", 0, 0); err == nil {
		t.Error("Expected error for zero tiles")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	// Skip this test in short mode
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	viewer, err := NewViewer(gradientVolume(3, 5, 5))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("coronal", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	for z := 0; z < 3; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_coronal_%03d.jpg", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid view, got nil")
	}
}

func TestSavePNG(t *testing.T) {
	lv, tree := labelFixture(t)
	img, err := LabelSlice(lv, tree, "axial", 0)
	if err != nil {
		t.Fatalf("LabelSlice failed: %v", err)
	}
	filename := filepath.Join(t.TempDir(), "labels.png")
	if err := SavePNG(img, filename); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}
	if _, err := os.Stat(filename); err != nil {
		t.Errorf("Saved file does not exist: %v", err)
	}
}
