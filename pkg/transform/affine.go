package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"uct2ccf/internal/models"
)

// SingularTolerance is the smallest |det| accepted for an invertible matrix
const SingularTolerance = 1e-12

// Affine is a 3x3 linear map followed by a translation: y = Matrix*x + Translation
type Affine struct {
	Matrix      [3][3]float64 `json:"matrix" yaml:"matrix"`
	Translation [3]float64    `json:"translation" yaml:"translation"`
}

// Identity returns the identity transform
func Identity() Affine {
	return Affine{Matrix: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// Translation returns a translation-only transform
func Translation(tx, ty, tz float64) Affine {
	a := Identity()
	a.Translation = [3]float64{tx, ty, tz}
	return a
}

// FromRotation builds a rotation about center: y = R(x - c) + c
func FromRotation(r [3][3]float64, center r3.Vec) Affine {
	a := Affine{Matrix: r}
	rc := a.applyLinear(center)
	a.Translation = [3]float64{center.X - rc.X, center.Y - rc.Y, center.Z - rc.Z}
	return a
}

func (a Affine) applyLinear(v r3.Vec) r3.Vec {
	m := a.Matrix
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// ApplyVec transforms a raw vector
func (a Affine) ApplyVec(v r3.Vec) r3.Vec {
	out := a.applyLinear(v)
	out.X += a.Translation[0]
	out.Y += a.Translation[1]
	out.Z += a.Translation[2]
	return out
}

// Apply transforms a physical point. Voxel points are rejected: the transform
// chain is defined between physical spaces.
func (a Affine) Apply(p models.Point3D) (models.Point3D, error) {
	if p.Space != models.SpacePhysical {
		return models.Point3D{}, fmt.Errorf("affine transforms apply to physical points, got %s", p.Space)
	}
	return models.PointFromVec(a.ApplyVec(p.Vec()), models.SpacePhysical), nil
}

// Dense returns the linear part as a gonum matrix
func (a Affine) Dense() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, a.Matrix[i][j])
		}
	}
	return m
}

// Homogeneous returns the 4x4 homogeneous matrix
func (a Affine) Homogeneous() *mat.Dense {
	h := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.Set(i, j, a.Matrix[i][j])
		}
		h.Set(i, 3, a.Translation[i])
	}
	h.Set(3, 3, 1)
	return h
}

// FromDense builds an Affine from a 3x3 linear part and a translation
func FromDense(m mat.Matrix, t [3]float64) (Affine, error) {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		return Affine{}, fmt.Errorf("expected 3x3 matrix, got %dx%d", r, c)
	}
	var a Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.Matrix[i][j] = m.At(i, j)
		}
	}
	a.Translation = t
	return a, nil
}

// Det returns the determinant of the linear part
func (a Affine) Det() float64 {
	return mat.Det(a.Dense())
}

// IsFinite reports whether every coefficient is finite
func (a Affine) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(a.Matrix[i][j]) || math.IsInf(a.Matrix[i][j], 0) {
				return false
			}
		}
		if math.IsNaN(a.Translation[i]) || math.IsInf(a.Translation[i], 0) {
			return false
		}
	}
	return true
}

// Validate fails on non-finite coefficients and on a singular linear part
func (a Affine) Validate(op string) error {
	if !a.IsFinite() {
		return fmt.Errorf("%s: transform has non-finite coefficients", op)
	}
	if det := a.Det(); math.Abs(det) < SingularTolerance {
		return &models.SingularTransformError{Op: op, Det: det}
	}
	return nil
}

// Inverse returns the inverse transform
func (a Affine) Inverse() (Affine, error) {
	if err := a.Validate("inverse"); err != nil {
		return Affine{}, err
	}
	var inv mat.Dense
	if err := inv.Inverse(a.Dense()); err != nil {
		return Affine{}, &models.SingularTransformError{Op: "inverse", Det: a.Det()}
	}
	out, err := FromDense(&inv, [3]float64{})
	if err != nil {
		return Affine{}, err
	}
	t := out.applyLinear(r3.Vec{X: a.Translation[0], Y: a.Translation[1], Z: a.Translation[2]})
	out.Translation = [3]float64{-t.X, -t.Y, -t.Z}
	return out, nil
}

// Compose returns b∘a: applying the result equals applying a, then b
func Compose(a, b Affine) Affine {
	var c Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += b.Matrix[i][k] * a.Matrix[k][j]
			}
			c.Matrix[i][j] = s
		}
	}
	t := b.ApplyVec(r3.Vec{X: a.Translation[0], Y: a.Translation[1], Z: a.Translation[2]})
	c.Translation = [3]float64{t.X, t.Y, t.Z}
	return c
}

// Chain collapses transforms applied in order into one
func Chain(ts ...Affine) Affine {
	out := Identity()
	for _, t := range ts {
		out = Compose(out, t)
	}
	return out
}

// Params flattens the transform into 12 parameters (row-major matrix, then translation)
func (a Affine) Params() []float64 {
	p := make([]float64, 0, 12)
	for i := 0; i < 3; i++ {
		p = append(p, a.Matrix[i][:]...)
	}
	return append(p, a.Translation[:]...)
}

// FromParams is the inverse of Params
func FromParams(p []float64) (Affine, error) {
	if len(p) != 12 {
		return Affine{}, fmt.Errorf("expected 12 affine parameters, got %d", len(p))
	}
	var a Affine
	for i := 0; i < 3; i++ {
		copy(a.Matrix[i][:], p[i*3:i*3+3])
	}
	copy(a.Translation[:], p[9:12])
	return a, nil
}

func (a Affine) String() string {
	m := a.Matrix
	return fmt.Sprintf("[%.4f %.4f %.4f | %.4f; %.4f %.4f %.4f | %.4f; %.4f %.4f %.4f | %.4f]",
		m[0][0], m[0][1], m[0][2], a.Translation[0],
		m[1][0], m[1][1], m[1][2], a.Translation[1],
		m[2][0], m[2][1], m[2][2], a.Translation[2])
}
