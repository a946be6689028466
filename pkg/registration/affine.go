// Package registration fits the scan-to-atlas affine transform from paired
// landmarks and reports how well the landmarks agree afterwards.
package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/transform"
)

const (
	// MinPairs is the number of pairs needed for a 12-DOF affine
	MinPairs = 4

	// DegenerateRatio is the smallest accepted ratio between the smallest and
	// largest singular value of the centered moving points
	DegenerateRatio = 1e-8
)

// ToPhysicalPairs places voxel-space landmarks in physical space: moving
// points through the scan grid, fixed points through the atlas grid
func ToPhysicalPairs(pairs []models.LandmarkPair, moving, fixed models.Grid) ([]models.LandmarkPair, error) {
	out := make([]models.LandmarkPair, len(pairs))
	for i, p := range pairs {
		m, err := transform.ToPhysical(moving, p.Moving)
		if err != nil {
			return nil, fmt.Errorf("%s moving point: %w", p.Label(), err)
		}
		f, err := transform.ToPhysical(fixed, p.Fixed)
		if err != nil {
			return nil, fmt.Errorf("%s fixed point: %w", p.Label(), err)
		}
		out[i] = p
		out[i].Moving, out[i].Fixed = m, f
	}
	return out, nil
}

// SolveAffine finds the affine transform minimizing the summed squared
// distance between transformed moving points and fixed points, and the
// residual metrics of that fit. All points must be physical.
func SolveAffine(pairs []models.LandmarkPair) (transform.Affine, Metrics, error) {
	const op = "solve affine"
	if len(pairs) < MinPairs {
		return transform.Affine{}, Metrics{}, &models.InsufficientInputError{
			Op: op, What: "landmark pairs", Need: MinPairs, Got: len(pairs),
		}
	}

	n := len(pairs)
	var cm, cf r3.Vec
	for _, p := range pairs {
		if p.Moving.Space != models.SpacePhysical || p.Fixed.Space != models.SpacePhysical {
			return transform.Affine{}, Metrics{}, fmt.Errorf("%s: %s is not in physical space", op, p.Label())
		}
		if !finite(p.Moving) || !finite(p.Fixed) {
			return transform.Affine{}, Metrics{}, &models.DegenerateInputError{
				Op: op, Reason: "non-finite coordinate in " + p.Label(), Index: p.Index,
			}
		}
		cm = r3.Add(cm, p.Moving.Vec())
		cf = r3.Add(cf, p.Fixed.Vec())
	}
	cm = r3.Scale(1/float64(n), cm)
	cf = r3.Scale(1/float64(n), cf)

	// Centering removes the translation column and keeps the system well scaled
	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 3, nil)
	for i, p := range pairs {
		dm := r3.Sub(p.Moving.Vec(), cm)
		df := r3.Sub(p.Fixed.Vec(), cf)
		a.SetRow(i, []float64{dm.X, dm.Y, dm.Z})
		b.SetRow(i, []float64{df.X, df.Y, df.Z})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return transform.Affine{}, Metrics{}, &models.DegenerateInputError{
			Op: op, Reason: "singular value decomposition failed", Index: -1,
		}
	}
	sv := svd.Values(nil)
	if sv[0] == 0 || sv[len(sv)-1]/sv[0] < DegenerateRatio {
		return transform.Affine{}, Metrics{}, &models.DegenerateInputError{
			Op: op, Reason: "moving landmarks are coplanar, the affine is under-determined", Index: -1,
		}
	}

	// a * M^T = b in the least-squares sense
	var qr mat.QR
	qr.Factorize(a)
	var mt mat.Dense
	if err := qr.SolveTo(&mt, false, b); err != nil {
		return transform.Affine{}, Metrics{}, &models.DegenerateInputError{
			Op: op, Reason: fmt.Sprintf("ill-conditioned system: %v", err), Index: -1,
		}
	}

	var affine transform.Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			affine.Matrix[i][j] = mt.At(j, i)
		}
	}
	mc := affine.ApplyVec(cm)
	affine.Translation = [3]float64{cf.X - mc.X, cf.Y - mc.Y, cf.Z - mc.Z}

	if err := affine.Validate(op); err != nil {
		return transform.Affine{}, Metrics{}, &models.DegenerateInputError{
			Op: op, Reason: err.Error(), Index: -1,
		}
	}

	metrics, err := ComputeMetrics(pairs, affine)
	if err != nil {
		return transform.Affine{}, Metrics{}, err
	}
	return affine, metrics, nil
}

func finite(p models.Point3D) bool {
	for _, c := range p.Array() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
