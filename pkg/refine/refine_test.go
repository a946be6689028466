package refine

import (
	"context"
	"errors"
	"math"
	"testing"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/transform"
)

type stubOptimizer struct {
	result Result
	err    error
	calls  int
}

func (s *stubOptimizer) Optimize(ctx context.Context, req Request) (Result, error) {
	s.calls++
	return s.result, s.err
}

// blobVolume returns a cube with a smooth off-center intensity blob
func blobVolume(n int) *models.Volume {
	v := models.NewVolume(n, n, n, models.IsotropicGrid(1))
	c := float64(n-1) / 2
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx, dy, dz := float64(x)-c-2, float64(y)-c, float64(z)-c+1
				v.Data[v.Index(z, y, x)] = 100 * math.Exp(-(dx*dx+dy*dy*0.5+dz*dz*2)/20)
			}
		}
	}
	return v
}

func TestRefineAcceptsImprovement(t *testing.T) {
	vol := blobVolume(8)
	better := transform.Translation(0.5, 0, 0)
	opt := &stubOptimizer{result: Result{Transform: better, InitialScore: 1, Score: 2, Iterations: 7, Changed: true}}

	out, err := Refine(context.Background(), opt, transform.Identity(), vol, vol, DefaultBudget())
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if out.Status != StatusImproved {
		t.Errorf("Expected improved status, got %v", out.Status)
	}
	if out.Transform != better {
		t.Errorf("Expected optimizer transform, got %v", out.Transform)
	}
	if out.Iterations != 7 {
		t.Errorf("Expected 7 iterations, got %d", out.Iterations)
	}
}

// TestRefineRejectsWorseScore ensures a worse result falls back to the initial transform
func TestRefineRejectsWorseScore(t *testing.T) {
	vol := blobVolume(8)
	initial := transform.Translation(1, 2, 3)
	opt := &stubOptimizer{result: Result{Transform: transform.Identity(), InitialScore: 2, Score: 1, Changed: true}}

	out, err := Refine(context.Background(), opt, initial, vol, vol, DefaultBudget())
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if out.Status != StatusNoImprovement {
		t.Errorf("Expected no improvement, got %v", out.Status)
	}
	if out.Transform != initial {
		t.Errorf("Expected initial transform back, got %v", out.Transform)
	}
	if out.Score != out.InitialScore {
		t.Errorf("Expected reported score to equal the initial score, got %v vs %v", out.Score, out.InitialScore)
	}
}

func TestRefineUnchanged(t *testing.T) {
	vol := blobVolume(8)
	opt := &stubOptimizer{result: Result{Transform: transform.Identity(), InitialScore: 1, Score: 1}}

	out, err := Refine(context.Background(), opt, transform.Identity(), vol, vol, DefaultBudget())
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if out.Status != StatusNoImprovement {
		t.Errorf("Expected no improvement, got %v", out.Status)
	}
}

// TestRefineRejectsSingularResult ensures a singular optimizer output is refused
func TestRefineRejectsSingularResult(t *testing.T) {
	vol := blobVolume(8)
	var singular transform.Affine
	singular.Matrix[0][0] = 1
	opt := &stubOptimizer{result: Result{Transform: singular, InitialScore: 1, Score: 5, Changed: true}}

	_, err := Refine(context.Background(), opt, transform.Identity(), vol, vol, DefaultBudget())
	var st *models.SingularTransformError
	if !errors.As(err, &st) {
		t.Fatalf("Expected SingularTransformError, got %v", err)
	}
}

func TestRefineValidatesInputs(t *testing.T) {
	vol := blobVolume(8)
	opt := &stubOptimizer{}
	var singular transform.Affine

	if _, err := Refine(context.Background(), opt, singular, vol, vol, DefaultBudget()); err == nil {
		t.Error("Expected error for singular initial transform")
	}
	if _, err := Refine(context.Background(), opt, transform.Identity(), nil, vol, DefaultBudget()); err == nil {
		t.Error("Expected error for nil moving volume")
	}
	broken := &models.Volume{Depth: 2, Height: 2, Width: 2, Data: make([]float64, 3), Grid: models.IsotropicGrid(1)}
	if _, err := Refine(context.Background(), opt, transform.Identity(), vol, broken, DefaultBudget()); err == nil {
		t.Error("Expected error for inconsistent fixed volume")
	}
	if _, err := Refine(context.Background(), opt, transform.Identity(), vol, vol, Budget{MaxIterations: 0}); err == nil {
		t.Error("Expected error for empty budget")
	}
	if _, err := Refine(context.Background(), opt, transform.Identity(), vol, vol, Budget{MaxIterations: 5, Tolerance: math.NaN()}); err == nil {
		t.Error("Expected error for NaN tolerance")
	}
	if _, err := Refine(context.Background(), nil, transform.Identity(), vol, vol, DefaultBudget()); err == nil {
		t.Error("Expected error for missing optimizer")
	}
	if opt.calls != 0 {
		t.Errorf("Expected optimizer not to be called on invalid input, got %d calls", opt.calls)
	}
}

func TestRefinePropagatesOptimizerError(t *testing.T) {
	vol := blobVolume(8)
	boom := errors.New("boom")
	opt := &stubOptimizer{err: boom}

	_, err := Refine(context.Background(), opt, transform.Identity(), vol, vol, DefaultBudget())
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped optimizer error, got %v", err)
	}
}

func TestMutualInformationScore(t *testing.T) {
	vol := blobVolume(12)
	o := NewMutualInformationOptimizer(nil)
	o.SampleFraction = 1

	mi, err := o.Score(transform.Identity(), vol, vol)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if mi <= 0 {
		t.Errorf("Expected positive mutual information for identical volumes, got %v", mi)
	}

	var singular transform.Affine
	mi, err = o.Score(singular, vol, vol)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if mi != 0 {
		t.Errorf("Expected zero score for singular candidate, got %v", mi)
	}
}

// TestMutualInformationRefineNotWorse runs a short real optimization
func TestMutualInformationRefineNotWorse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping optimizer run in short mode")
	}
	vol := blobVolume(12)
	o := NewMutualInformationOptimizer(nil)
	o.SampleFraction = 0.5

	initial := transform.Translation(1.5, 0, 0)
	out, err := Refine(context.Background(), o, initial, vol, vol, Budget{MaxIterations: 60, Tolerance: 1e-6})
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if out.Score < out.InitialScore {
		t.Errorf("Expected score not to decrease, got %v from %v", out.Score, out.InitialScore)
	}
	if err := out.Transform.Validate("test"); err != nil {
		t.Errorf("Expected valid transform, got %v", err)
	}
}

func TestMutualInformationCancelled(t *testing.T) {
	vol := blobVolume(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMutualInformationOptimizer(nil).Optimize(ctx, Request{
		Initial: transform.Identity(), Moving: vol, Fixed: vol, Budget: DefaultBudget(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
