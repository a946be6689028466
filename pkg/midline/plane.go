// Package midline fits the sagittal symmetry plane of a scan and rotates the
// volume so that the plane lines up with the canonical medial-lateral axis.
package midline

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"uct2ccf/internal/logger"
	"uct2ccf/internal/models"
	"uct2ccf/pkg/transform"
)

// MedialLateral is the canonical plane normal after alignment (+x)
var MedialLateral = r3.Vec{X: 1}

const (
	// DefaultMinEigenRatio is the smallest accepted ratio of the middle to the
	// largest covariance eigenvalue; below it the points are treated as colinear
	DefaultMinEigenRatio = 1e-3

	// LargeAngleDegrees triggers a warning about suspicious midline marking
	LargeAngleDegrees = 45.0

	minSlices = 2
	axisEps   = 1e-6
)

// Options controls plane fitting
type Options struct {
	// MinEigenRatio guards against colinear point sets
	MinEigenRatio float64

	// Reverse negates the rotation angle. The plane normal has no inherent
	// sign, so the caller decides which of the two rotations is wanted.
	Reverse bool

	Logger logger.ILogger
}

// DefaultOptions returns the options used by the CLI
func DefaultOptions() Options {
	return Options{MinEigenRatio: DefaultMinEigenRatio}
}

// Plane is the fitted midline plane and the rotation that aligns it
type Plane struct {
	// Normal is the unit plane normal, oriented so that Normal.X >= 0
	Normal r3.Vec

	// Centroid is the mean of the midline points in physical space
	Centroid r3.Vec

	// Axis and Angle (radians) describe the rotation; Angle already includes Reverse
	Axis  r3.Vec
	Angle float64

	// Eigenvalues of the centered covariance, ascending
	Eigenvalues [3]float64

	NumPoints int
	NumSlices int
	Reversed  bool

	// Rotation is the pure rotation matrix (zero translation)
	Rotation transform.Affine
}

// AngleDegrees returns the signed rotation angle in degrees
func (p Plane) AngleDegrees() float64 {
	return p.Angle * 180 / math.Pi
}

// FitPlane fits a plane to the midline points by orthogonal least squares and
// derives the rotation taking its normal onto +x. Voxel points are placed in
// physical space with grid.
func FitPlane(set models.MidlinePointSet, grid models.Grid, opts Options) (Plane, error) {
	log := logger.OrNull(opts.Logger)
	if opts.MinEigenRatio <= 0 {
		opts.MinEigenRatio = DefaultMinEigenRatio
	}

	slices := set.DistinctSlices()
	if slices < minSlices {
		return Plane{}, &models.InsufficientInputError{
			Op: "fit midline plane", What: "distinct slices", Need: minSlices, Got: slices,
		}
	}

	points := make([]r3.Vec, len(set))
	var centroid r3.Vec
	for i, mp := range set {
		p, err := transform.ToPhysical(grid, mp.Point)
		if err != nil {
			return Plane{}, err
		}
		points[i] = p.Vec()
		centroid = r3.Add(centroid, points[i])
	}
	centroid = r3.Scale(1/float64(len(points)), centroid)

	// Covariance of the centered points
	cov := mat.NewSymDense(3, nil)
	for _, p := range points {
		d := r3.Sub(p, centroid)
		c := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+c[i]*c[j])
			}
		}
	}
	cov.ScaleSym(1/float64(len(points)), cov)

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return Plane{}, &models.DegenerateInputError{
			Op: "fit midline plane", Reason: "eigen decomposition did not converge", Index: -1,
		}
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	if values[2] <= 0 || values[1]/values[2] < opts.MinEigenRatio {
		return Plane{}, &models.DegenerateInputError{
			Op:     "fit midline plane",
			Reason: "midline points are colinear, the plane normal is undefined",
			Index:  -1,
		}
	}

	normal := r3.Unit(r3.Vec{X: vectors.At(0, 0), Y: vectors.At(1, 0), Z: vectors.At(2, 0)})
	if normal.X < 0 {
		normal = r3.Scale(-1, normal)
	}

	plane := Plane{
		Normal:      normal,
		Centroid:    centroid,
		Eigenvalues: [3]float64{values[0], values[1], values[2]},
		NumPoints:   len(points),
		NumSlices:   slices,
		Reversed:    opts.Reverse,
	}

	axis := r3.Cross(normal, MedialLateral)
	if r3.Norm(axis) > axisEps {
		plane.Axis = r3.Unit(axis)
		plane.Angle = math.Acos(math.Max(-1, math.Min(1, r3.Dot(normal, MedialLateral))))
	} else {
		plane.Axis = r3.Vec{Z: 1}
		log.Infof("Midline already aligned - no rotation needed")
	}
	if opts.Reverse {
		plane.Angle = -plane.Angle
	}
	plane.Rotation = transform.Affine{Matrix: RotationMatrix(plane.Axis, plane.Angle)}

	log.Infof("Midline plane: %d points on %d slices, normal (%.4f, %.4f, %.4f), rotation %.2f°",
		plane.NumPoints, plane.NumSlices, normal.X, normal.Y, normal.Z, plane.AngleDegrees())
	if math.Abs(plane.AngleDegrees()) > LargeAngleDegrees {
		log.Infof("Large rotation angle (%.1f°): check the midline marking and axis order", plane.AngleDegrees())
	}
	return plane, nil
}

// RotationMatrix returns the right-handed rotation by angle about the unit axis
// (Rodrigues' formula)
func RotationMatrix(axis r3.Vec, angle float64) [3][3]float64 {
	k := r3.Unit(axis)
	c, s := math.Cos(angle), math.Sin(angle)
	t := 1 - c
	return [3][3]float64{
		{c + k.X*k.X*t, k.X*k.Y*t - k.Z*s, k.X*k.Z*t + k.Y*s},
		{k.Y*k.X*t + k.Z*s, c + k.Y*k.Y*t, k.Y*k.Z*t - k.X*s},
		{k.Z*k.X*t - k.Y*s, k.Z*k.Y*t + k.X*s, c + k.Z*k.Z*t},
	}
}
