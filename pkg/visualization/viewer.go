// Package visualization renders quality-control images of scan, aligned and
// atlas volumes: grey slices, ontology-coloured label slices, label overlays
// and registration checkerboards.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/ontology"
)

// sliceAxes gives, for a view, the index axis it cuts and the index axes
// shown as image rows and columns
func sliceAxes(view string) (cut, row, col int, err error) {
	switch strings.ToLower(view) {
	case "axial":
		return 1, 0, 2, nil
	case "coronal":
		return 0, 1, 2, nil
	case "sagittal":
		return 2, 0, 1, nil
	}
	return 0, 0, 0, fmt.Errorf("invalid view: %s (must be axial, coronal or sagittal)", view)
}

// plane describes one slice through a volume of the given shape
type plane struct {
	rows, cols int
	index      func(r, c int) [3]int
}

func slicePlane(shape [3]int, view string, position int) (plane, error) {
	cut, ra, ca, err := sliceAxes(view)
	if err != nil {
		return plane{}, err
	}
	if position < 0 || position >= shape[cut] {
		return plane{}, fmt.Errorf("position %d outside 0..%d for %s view", position, shape[cut]-1, view)
	}
	return plane{
		rows: shape[ra],
		cols: shape[ca],
		index: func(r, c int) [3]int {
			var idx [3]int
			idx[cut], idx[ra], idx[ca] = position, r, c
			return idx
		},
	}, nil
}

// Viewer renders slices of an intensity volume through a display window
type Viewer struct {
	vol    *models.Volume
	lo, hi float64
}

// NewViewer creates a viewer whose window spans the volume's intensity range
func NewViewer(vol *models.Volume) (*Viewer, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vol.Data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return &Viewer{vol: vol, lo: lo, hi: hi}, nil
}

// SetWindow sets the intensities mapped to black and white
func (v *Viewer) SetWindow(lo, hi float64) error {
	if !(hi > lo) {
		return fmt.Errorf("window upper bound %v must exceed lower bound %v", hi, lo)
	}
	v.lo, v.hi = lo, hi
	return nil
}

func (v *Viewer) grey(value float64) uint16 {
	if v.hi <= v.lo {
		return 0
	}
	t := (value - v.lo) / (v.hi - v.lo)
	return uint16(math.Max(0, math.Min(65535, math.Round(t*65535))))
}

// ExtractSlice renders one slice of the volume as a 16-bit grey image
func (v *Viewer) ExtractSlice(view string, position int) (*image.Gray16, error) {
	p, err := slicePlane(v.vol.Shape(), view, position)
	if err != nil {
		return nil, err
	}
	img := image.NewGray16(image.Rect(0, 0, p.cols, p.rows))
	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			i := p.index(r, c)
			img.SetGray16(c, r, color.Gray16{Y: v.grey(v.vol.Data[v.vol.Index(i[0], i[1], i[2])])})
		}
	}
	return img, nil
}

// ExtractRegion crops a sub-volume given in index order (axis0, axis1, axis2).
// The crop keeps the grid spacing and convention; its origin moves to the
// physical position of the first voxel.
func (v *Viewer) ExtractRegion(start, size [3]int) (*models.Volume, error) {
	shape := v.vol.Shape()
	for a := 0; a < 3; a++ {
		if start[a] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[a] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[a]+size[a] > shape[a] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}

	g := v.vol.Grid
	for i, a := range g.Axes {
		g.Origin[a] += float64(start[i]) * g.Spacing[a]
	}
	out := models.NewVolume(size[0], size[1], size[2], g)
	for z := 0; z < size[0]; z++ {
		for y := 0; y < size[1]; y++ {
			src := v.vol.Index(start[0]+z, start[1]+y, start[2])
			copy(out.Data[out.Index(z, y, 0):out.Index(z, y, 0)+size[2]], v.vol.Data[src:src+size[2]])
		}
	}
	return out, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SavePNG saves an image losslessly; label images use it so colours stay exact
func SavePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence renders and saves every slice of a view
func (v *Viewer) SaveSliceSequence(view string, outputDir string) error {
	cut, _, _, err := sliceAxes(view)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < v.vol.Shape()[cut]; pos++ {
		img, err := v.ExtractSlice(view, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", strings.ToLower(view), pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// LabelSlice colours one slice of an annotation volume with the ontology
// colours. Background is black and labels missing from the ontology are grey.
func LabelSlice(lv *models.LabelVolume, tree *ontology.Tree, view string, position int) (*image.RGBA, error) {
	p, err := slicePlane(lv.Shape(), view, position)
	if err != nil {
		return nil, err
	}
	palette := map[uint32]color.RGBA{0: {A: 255}}
	img := image.NewRGBA(image.Rect(0, 0, p.cols, p.rows))
	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			i := p.index(r, c)
			label := lv.Labels[lv.Index(i[0], i[1], i[2])]
			col, ok := palette[label]
			if !ok {
				col = labelColor(tree, label)
				palette[label] = col
			}
			img.SetRGBA(c, r, col)
		}
	}
	return img, nil
}

func labelColor(tree *ontology.Tree, label uint32) color.RGBA {
	n, ok := tree.Node(label)
	if !ok {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}
	r, g, b := n.RGB()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Overlay blends label colours over a grey slice. alpha is the label weight;
// background voxels keep the plain grey value.
func (v *Viewer) Overlay(lv *models.LabelVolume, tree *ontology.Tree, view string, position int, alpha float64) (*image.RGBA, error) {
	if lv.Shape() != v.vol.Shape() {
		return nil, fmt.Errorf("label volume shape %v does not match intensity shape %v", lv.Shape(), v.vol.Shape())
	}
	grey, err := v.ExtractSlice(view, position)
	if err != nil {
		return nil, err
	}
	labels, err := LabelSlice(lv, tree, view, position)
	if err != nil {
		return nil, err
	}

	alpha = math.Max(0, math.Min(1, alpha))
	out := image.NewRGBA(grey.Bounds())
	p, _ := slicePlane(lv.Shape(), view, position)
	for r := 0; r < p.rows; r++ {
		for c := 0; c < p.cols; c++ {
			base, _ := colorful.MakeColor(grey.At(c, r))
			i := p.index(r, c)
			if lv.Labels[lv.Index(i[0], i[1], i[2])] == 0 {
				out.Set(c, r, base.Clamped())
				continue
			}
			tint, _ := colorful.MakeColor(labels.RGBAAt(c, r))
			out.Set(c, r, base.BlendRgb(tint, alpha).Clamped())
		}
	}
	return out, nil
}

// Checkerboard interleaves tiles of two equally shaped volumes so that
// misregistration shows up as broken edges at tile borders
func Checkerboard(a, b *Viewer, view string, position, tiles int) (*image.Gray16, error) {
	if a.vol.Shape() != b.vol.Shape() {
		return nil, fmt.Errorf("checkerboard volumes differ in shape: %v and %v", a.vol.Shape(), b.vol.Shape())
	}
	if tiles < 1 {
		return nil, fmt.Errorf("tiles must be positive, got %d", tiles)
	}
	ia, err := a.ExtractSlice(view, position)
	if err != nil {
		return nil, err
	}
	ib, err := b.ExtractSlice(view, position)
	if err != nil {
		return nil, err
	}

	bounds := ia.Bounds()
	th := max(1, (bounds.Dy()+tiles-1)/tiles)
	tw := max(1, (bounds.Dx()+tiles-1)/tiles)
	out := image.NewGray16(bounds)
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			src := ia
			if (y/th+x/tw)%2 == 1 {
				src = ib
			}
			out.SetGray16(x, y, src.Gray16At(x, y))
		}
	}
	return out, nil
}
