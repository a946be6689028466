// Package volumeio loads and saves volumes: stacks of 2D slice images and
// NRRD files for both intensity and annotation data.
package volumeio

import (
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"uct2ccf/internal/logger"
	"uct2ccf/internal/models"
)

var sliceExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
}

// LoadSliceDir reads every TIFF or JPEG slice in dir, ordered by the number
// in the file name, into a volume of shape (slices, rows, cols). Intensities
// are the raw 16-bit grey values.
func LoadSliceDir(dir string, grid models.Grid, log logger.ILogger) (*models.Volume, error) {
	log = logger.OrNull(log)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read slice directory %v", dir)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && sliceExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no TIFF or JPEG slices found in %v", dir)
	}

	// Slice order comes from the number in the file name, not the lexical order
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var vol *models.Volume
	for z, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load slice %v", name)
		}
		b := img.Bounds()
		if vol == nil {
			vol = models.NewVolume(len(files), b.Dy(), b.Dx(), grid)
		} else if b.Dx() != vol.Width || b.Dy() != vol.Height {
			return nil, errors.Errorf("slice %v is %dx%d, expected %dx%d", name, b.Dx(), b.Dy(), vol.Width, vol.Height)
		}
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				vol.Data[vol.Index(z, y, x)] = float64(g.Y)
			}
		}
	}

	log.Infof("Loaded %d slices with dimensions %dx%d from %v", vol.Depth, vol.Width, vol.Height, dir)
	return vol, nil
}

// extractNumber returns the digits of the file name as a number, 0 if there are none
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if n, err := strconv.Atoi(digits.String()); err == nil {
		return n
	}
	return 0
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return jpeg.Decode(file)
	}
	return tiff.Decode(file)
}

// SaveSliceDir writes each z slice of vol as a 16-bit TIFF, with intensities
// stretched to the full range. Files are named <prefix>_0000.tif and so on.
func SaveSliceDir(dir, prefix string, vol *models.Volume) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %v", dir)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vol.Data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	for z := 0; z < vol.Depth; z++ {
		img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				v := (vol.Data[vol.Index(z, y, x)] - lo) * scale
				img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v))})
			}
		}
		path := filepath.Join(dir, prefix+"_"+padNumber(z, 4)+".tif")
		if err := writeTIFF(path, img); err != nil {
			return err
		}
	}
	return nil
}

func writeTIFF(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %v", path)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode %v", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %v", path)
}

func padNumber(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
