package transform

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"uct2ccf/internal/models"
)

const tol = 1e-9

func randomAffine(rng *rand.Rand) Affine {
	var a Affine
	for {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				a.Matrix[i][j] = rng.Float64()*2 - 1
			}
			a.Matrix[i][i] += 2
			a.Translation[i] = rng.Float64()*20 - 10
		}
		if math.Abs(a.Det()) > 0.1 {
			return a
		}
	}
}

func closePoints(p, q models.Point3D, eps float64) bool {
	return math.Abs(p.X-q.X) < eps && math.Abs(p.Y-q.Y) < eps && math.Abs(p.Z-q.Z) < eps
}

// TestToPhysicalZYX checks the default axis correspondence: index (z, y, x) -> physical (x, y, z)
func TestToPhysicalZYX(t *testing.T) {
	g := models.Grid{Spacing: [3]float64{0.02, 0.03, 0.05}, Axes: models.ConventionZYX}

	p, err := ToPhysical(g, models.Voxel(10, 20, 30))
	if err != nil {
		t.Fatalf("ToPhysical failed: %v", err)
	}

	want := models.Physical(30*0.02, 20*0.03, 10*0.05)
	if !closePoints(p, want, tol) {
		t.Errorf("Expected %v, got %v", want, p)
	}
	if p.Space != models.SpacePhysical {
		t.Errorf("Expected physical space, got %v", p.Space)
	}
}

// TestVoxelRoundTrip verifies ToVoxel inverts ToPhysical for several conventions
func TestVoxelRoundTrip(t *testing.T) {
	conventions := []models.Convention{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}
	for _, c := range conventions {
		g := models.Grid{Spacing: [3]float64{0.025, 0.5, 2}, Axes: c, Origin: [3]float64{-1, 3, 7}}
		v := models.Voxel(3.5, 17, 42.25)

		p, err := ToPhysical(g, v)
		if err != nil {
			t.Fatalf("ToPhysical(%v) failed: %v", c, err)
		}
		back, err := ToVoxel(g, p)
		if err != nil {
			t.Fatalf("ToVoxel(%v) failed: %v", c, err)
		}
		if !closePoints(back, v, tol) {
			t.Errorf("Convention %v: expected %v, got %v", c, v, back)
		}
	}
}

// TestInvalidGrid checks that bad spacing and conventions are rejected
func TestInvalidGrid(t *testing.T) {
	cases := map[string]models.Grid{
		"zero spacing":   {Spacing: [3]float64{0, 1, 1}, Axes: models.ConventionZYX},
		"nan spacing":    {Spacing: [3]float64{math.NaN(), 1, 1}, Axes: models.ConventionZYX},
		"inf spacing":    {Spacing: [3]float64{1, math.Inf(1), 1}, Axes: models.ConventionZYX},
		"repeated axis":  {Spacing: [3]float64{1, 1, 1}, Axes: models.Convention{0, 0, 2}},
		"axis too large": {Spacing: [3]float64{1, 1, 1}, Axes: models.Convention{0, 1, 3}},
	}
	for name, g := range cases {
		if _, err := ToPhysical(g, models.Voxel(1, 2, 3)); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

// TestPointFromSliceDimensions checks the dimensionality guard
func TestPointFromSliceDimensions(t *testing.T) {
	if _, err := models.PointFromSlice([]float64{1, 2}, models.SpacePhysical); err == nil {
		t.Error("Expected error for 2 coordinates")
	}
	if _, err := models.PointFromSlice([]float64{1, 2, 3, 4}, models.SpacePhysical); err == nil {
		t.Error("Expected error for 4 coordinates")
	}
}

// TestComposeMatchesSequential verifies Compose(A, B) applied to a point equals A then B
func TestComposeMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		a := randomAffine(rng)
		b := randomAffine(rng)
		c := Compose(a, b)

		p := models.Physical(rng.Float64()*100, rng.Float64()*100, rng.Float64()*100)
		pa, _ := a.Apply(p)
		want, _ := b.Apply(pa)
		got, err := c.Apply(p)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if !closePoints(got, want, 1e-8) {
			t.Fatalf("Trial %d: expected %v, got %v", trial, want, got)
		}
	}
}

// TestChainOrder checks that Chain applies transforms left to right
func TestChainOrder(t *testing.T) {
	scale := Affine{Matrix: [3][3]float64{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}}}
	shift := Translation(1, 0, 0)

	p := models.Physical(1, 1, 1)
	got, _ := Chain(scale, shift).Apply(p)
	want := models.Physical(3, 2, 2)
	if !closePoints(got, want, tol) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestInverse verifies A^-1 ∘ A is the identity
func TestInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := randomAffine(rng)
	inv, err := a.Inverse()
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}
	id := Compose(a, inv)
	want := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(id.Matrix[i][j]-want.Matrix[i][j]) > 1e-9 {
				t.Errorf("Matrix[%d][%d]: expected %f, got %f", i, j, want.Matrix[i][j], id.Matrix[i][j])
			}
		}
		if math.Abs(id.Translation[i]) > 1e-9 {
			t.Errorf("Translation[%d]: expected 0, got %f", i, id.Translation[i])
		}
	}
}

// TestSingularInverse checks that a rank-deficient matrix is refused
func TestSingularInverse(t *testing.T) {
	a := Affine{Matrix: [3][3]float64{{1, 2, 3}, {2, 4, 6}, {0, 0, 1}}}
	_, err := a.Inverse()

	var singular *models.SingularTransformError
	if !errors.As(err, &singular) {
		t.Fatalf("Expected SingularTransformError, got %v", err)
	}
}

// TestApplyRejectsVoxel ensures transforms are only applied to physical points
func TestApplyRejectsVoxel(t *testing.T) {
	if _, err := Identity().Apply(models.Voxel(1, 2, 3)); err == nil {
		t.Error("Expected error applying affine to a voxel point")
	}
}

// TestGridToAffine compares the grid affine with ToPhysical
func TestGridToAffine(t *testing.T) {
	g := models.Grid{Spacing: [3]float64{0.5, 0.25, 2}, Axes: models.ConventionZYX, Origin: [3]float64{1, 2, 3}}
	a, err := GridToAffine(g)
	if err != nil {
		t.Fatalf("GridToAffine failed: %v", err)
	}
	v := models.Voxel(4, 5, 6)
	want, _ := ToPhysical(g, v)
	got := models.PointFromVec(a.ApplyVec(v.Vec()), models.SpacePhysical)
	if !closePoints(got, want, tol) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestParamsRoundTrip checks the 12-parameter flattening used by optimizers
func TestParamsRoundTrip(t *testing.T) {
	a := randomAffine(rand.New(rand.NewSource(3)))
	b, err := FromParams(a.Params())
	if err != nil {
		t.Fatalf("FromParams failed: %v", err)
	}
	if a != b {
		t.Errorf("Expected %v, got %v", a, b)
	}
	if _, err := FromParams(make([]float64, 11)); err == nil {
		t.Error("Expected error for 11 parameters")
	}
}

// TestRoundIndex checks nearest-integer rounding of voxel coordinates
func TestRoundIndex(t *testing.T) {
	idx, err := RoundIndex(models.Voxel(9.6, 20.4, 29.5))
	if err != nil {
		t.Fatalf("RoundIndex failed: %v", err)
	}
	if idx != [3]int{10, 20, 30} {
		t.Errorf("Expected [10 20 30], got %v", idx)
	}
	idx, err = RoundIndex(models.Voxel(2.5, 3.5, -0.5))
	if err != nil {
		t.Fatalf("RoundIndex failed: %v", err)
	}
	if idx != [3]int{2, 4, 0} {
		t.Errorf("Expected halves to round to even [2 4 0], got %v", idx)
	}
	if _, err := RoundIndex(models.Physical(1, 2, 3)); err == nil {
		t.Error("Expected error rounding a physical point")
	}
}
