package midline

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/pbnjay/memory"
	"gonum.org/v1/gonum/spatial/r3"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/transform"
)

// Interpolation selects how off-grid samples are read
type Interpolation int

const (
	Linear Interpolation = iota
	Nearest
)

func (i Interpolation) String() string {
	if i == Nearest {
		return "nearest"
	}
	return "linear"
}

// ParseInterpolation accepts "linear" (or "trilinear") and "nearest"
func ParseInterpolation(name string) (Interpolation, error) {
	switch name {
	case "linear", "trilinear", "":
		return Linear, nil
	case "nearest":
		return Nearest, nil
	}
	return Linear, fmt.Errorf("unknown interpolation %q", name)
}

// ProgressCallback is a function that reports progress during resampling
type ProgressCallback func(completed, total int, message string)

// ResampleOptions controls ApplyRotation
type ResampleOptions struct {
	Interpolation Interpolation

	// Center is the physical rotation center; nil means the volume center
	Center *r3.Vec

	// Fill is written where the rotated sample falls outside the input
	Fill float64

	// Workers is the number of slice workers; <= 0 means runtime.NumCPU()
	Workers int

	Progress ProgressCallback
}

// VolumeCenter returns the physical position of the center of the index grid
func VolumeCenter(shape [3]int, grid models.Grid) (r3.Vec, error) {
	c := models.Voxel(float64(shape[0]-1)/2, float64(shape[1]-1)/2, float64(shape[2]-1)/2)
	p, err := transform.ToPhysical(grid, c)
	if err != nil {
		return r3.Vec{}, err
	}
	return p.Vec(), nil
}

// ApplyRotation resamples vol under rotation about the chosen center. The
// input volume is not modified.
func ApplyRotation(ctx context.Context, vol *models.Volume, rotation transform.Affine, opts ResampleOptions) (*models.Volume, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if err := checkMemory(len(vol.Data), 8); err != nil {
		return nil, err
	}
	m, err := voxelMapping(vol.Shape(), vol.Grid, rotation, opts.Center)
	if err != nil {
		return nil, err
	}

	out := models.NewVolume(vol.Depth, vol.Height, vol.Width, vol.Grid)
	if err := pull(ctx, vol, out, m, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// ResampleOnto pulls vol into a new volume of the given shape and grid.
// toTarget maps vol's physical space onto the target's, e.g. an aligned-to-atlas
// registration. Target voxels that map outside vol get opts.Fill; opts.Center
// is ignored.
func ResampleOnto(ctx context.Context, vol *models.Volume, shape [3]int, grid models.Grid, toTarget transform.Affine, opts ResampleOptions) (*models.Volume, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, fmt.Errorf("target has empty dimensions %dx%dx%d", shape[0], shape[1], shape[2])
	}
	if err := checkMemory(shape[0]*shape[1]*shape[2], 8); err != nil {
		return nil, err
	}
	if err := toTarget.Validate("resample onto grid"); err != nil {
		return nil, err
	}
	back, err := toTarget.Inverse()
	if err != nil {
		return nil, err
	}
	targetToPhys, err := transform.GridToAffine(grid)
	if err != nil {
		return nil, err
	}
	srcToPhys, err := transform.GridToAffine(vol.Grid)
	if err != nil {
		return nil, err
	}
	physToSrc, err := srcToPhys.Inverse()
	if err != nil {
		return nil, err
	}

	out := models.NewVolume(shape[0], shape[1], shape[2], grid)
	if err := pull(ctx, vol, out, transform.Chain(targetToPhys, back, physToSrc), opts); err != nil {
		return nil, err
	}
	return out, nil
}

// pull fills out by reading vol at m(voxel) for every output voxel
func pull(ctx context.Context, vol, out *models.Volume, m transform.Affine, opts ResampleOptions) error {
	return forEachSlice(ctx, out.Depth, opts.Workers, opts.Progress, func(z int) {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				src := m.ApplyVec(r3.Vec{X: float64(z), Y: float64(y), Z: float64(x)})
				var v float64
				var ok bool
				if opts.Interpolation == Nearest {
					v, ok = sampleNearest(vol, src)
				} else {
					v, ok = SampleLinear(vol, src)
				}
				if !ok {
					v = opts.Fill
				}
				out.Data[out.Index(z, y, x)] = v
			}
		}
	})
}

// ApplyRotationLabels resamples an annotation volume. Labels are always read
// with nearest-neighbour so no intermediate ids are invented; outside samples
// become background.
func ApplyRotationLabels(ctx context.Context, lv *models.LabelVolume, rotation transform.Affine, opts ResampleOptions) (*models.LabelVolume, error) {
	if err := lv.Validate(); err != nil {
		return nil, err
	}
	if err := checkMemory(len(lv.Labels), 4); err != nil {
		return nil, err
	}
	m, err := voxelMapping(lv.Shape(), lv.Grid, rotation, opts.Center)
	if err != nil {
		return nil, err
	}

	out := models.NewLabelVolume(lv.Depth, lv.Height, lv.Width, lv.Grid)
	err = forEachSlice(ctx, lv.Depth, opts.Workers, opts.Progress, func(z int) {
		for y := 0; y < lv.Height; y++ {
			for x := 0; x < lv.Width; x++ {
				src := m.ApplyVec(r3.Vec{X: float64(z), Y: float64(y), Z: float64(x)})
				zi, yi, xi := int(math.Round(src.X)), int(math.Round(src.Y)), int(math.Round(src.Z))
				if lv.Contains(zi, yi, xi) {
					out.Labels[out.Index(z, y, x)] = lv.Labels[lv.Index(zi, yi, xi)]
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AlignmentTransform is the forward physical transform of ApplyRotation:
// rotation about center (the volume center when nil) followed by the
// rotation's own translation. It maps scan points onto the aligned volume.
func AlignmentTransform(shape [3]int, grid models.Grid, rotation transform.Affine, center *r3.Vec) (transform.Affine, error) {
	if err := rotation.Validate("apply rotation"); err != nil {
		return transform.Affine{}, err
	}
	var c r3.Vec
	if center != nil {
		c = *center
	} else {
		var err error
		if c, err = VolumeCenter(shape, grid); err != nil {
			return transform.Affine{}, err
		}
	}
	return transform.Compose(transform.FromRotation(rotation.Matrix, c),
		transform.Translation(rotation.Translation[0], rotation.Translation[1], rotation.Translation[2])), nil
}

// voxelMapping returns the output-voxel -> input-voxel transform for a pull
// resample: grid, inverse alignment, inverse grid.
func voxelMapping(shape [3]int, grid models.Grid, rotation transform.Affine, center *r3.Vec) (transform.Affine, error) {
	full, err := AlignmentTransform(shape, grid, rotation, center)
	if err != nil {
		return transform.Affine{}, err
	}
	pull, err := full.Inverse()
	if err != nil {
		return transform.Affine{}, err
	}
	toPhys, err := transform.GridToAffine(grid)
	if err != nil {
		return transform.Affine{}, err
	}
	toVoxel, err := toPhys.Inverse()
	if err != nil {
		return transform.Affine{}, err
	}
	return transform.Chain(toPhys, pull, toVoxel), nil
}

// SampleLinear reads vol at continuous index coordinates (X=axis0, Y=axis1,
// Z=axis2) with trilinear interpolation. ok is false outside the volume.
func SampleLinear(vol *models.Volume, p r3.Vec) (float64, bool) {
	const edge = 1e-9
	if p.X < -edge || p.Y < -edge || p.Z < -edge ||
		p.X > float64(vol.Depth-1)+edge || p.Y > float64(vol.Height-1)+edge || p.Z > float64(vol.Width-1)+edge {
		return 0, false
	}
	z0, fz := split(p.X, vol.Depth)
	y0, fy := split(p.Y, vol.Height)
	x0, fx := split(p.Z, vol.Width)
	z1, y1, x1 := next(z0, vol.Depth), next(y0, vol.Height), next(x0, vol.Width)

	c00 := lerp(vol.Data[vol.Index(z0, y0, x0)], vol.Data[vol.Index(z0, y0, x1)], fx)
	c01 := lerp(vol.Data[vol.Index(z0, y1, x0)], vol.Data[vol.Index(z0, y1, x1)], fx)
	c10 := lerp(vol.Data[vol.Index(z1, y0, x0)], vol.Data[vol.Index(z1, y0, x1)], fx)
	c11 := lerp(vol.Data[vol.Index(z1, y1, x0)], vol.Data[vol.Index(z1, y1, x1)], fx)
	return lerp(lerp(c00, c01, fy), lerp(c10, c11, fy), fz), true
}

func sampleNearest(vol *models.Volume, p r3.Vec) (float64, bool) {
	z, y, x := int(math.Round(p.X)), int(math.Round(p.Y)), int(math.Round(p.Z))
	if !vol.Contains(z, y, x) {
		return 0, false
	}
	return vol.Data[vol.Index(z, y, x)], true
}

func split(c float64, n int) (int, float64) {
	i := int(math.Floor(c))
	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}
	f := c - float64(i)
	if f < 0 {
		f = 0
	}
	return i, f
}

func next(i, n int) int {
	if i+1 < n {
		return i + 1
	}
	return i
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func checkMemory(voxels, bytesPerVoxel int) error {
	total := memory.TotalMemory()
	need := uint64(voxels) * uint64(bytesPerVoxel)
	if total > 0 && need > total {
		return fmt.Errorf("resampled volume needs %d MB, physical memory is %d MB",
			need/1024/1024, total/1024/1024)
	}
	return nil
}

// forEachSlice runs fn for every z slice on a pool of workers. Slices are
// independent, so the result does not depend on the worker count. The context
// is checked before each slice.
func forEachSlice(ctx context.Context, depth, workers int, progress ProgressCallback, fn func(z int)) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > depth {
		workers = depth
	}

	jobs := make(chan int, depth)
	for z := 0; z < depth; z++ {
		jobs <- z
	}
	close(jobs)

	done := make(chan struct{}, depth)
	for w := 0; w < workers; w++ {
		go func() {
			for z := range jobs {
				if ctx.Err() == nil {
					fn(z)
				}
				done <- struct{}{}
			}
		}()
	}

	for completed := 1; completed <= depth; completed++ {
		<-done
		if progress != nil {
			progress(completed, depth, "")
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("resampling cancelled: %w", err)
	}
	return nil
}
