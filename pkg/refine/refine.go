// Package refine improves a landmark affine with an intensity-based
// optimizer. The optimizer is a pluggable capability; this package only
// validates what goes in and what comes back.
package refine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/transform"
)

// Budget bounds the optimizer's work
type Budget struct {
	MaxIterations int     `yaml:"maxIterations" json:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`
}

// DefaultBudget mirrors a typical multi-resolution affine refinement
func DefaultBudget() Budget {
	return Budget{MaxIterations: 200, Tolerance: 1e-6}
}

// Validate checks the budget is usable
func (b Budget) Validate() error {
	if b.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", b.MaxIterations)
	}
	if math.IsNaN(b.Tolerance) || math.IsInf(b.Tolerance, 0) || b.Tolerance < 0 {
		return fmt.Errorf("tolerance must be finite and non-negative, got %v", b.Tolerance)
	}
	return nil
}

// Request is what an Optimizer receives. Initial maps moving physical space
// to fixed physical space.
type Request struct {
	Initial transform.Affine
	Moving  *models.Volume
	Fixed   *models.Volume
	Budget  Budget
}

// Result is what an Optimizer returns. Scores are optimizer-defined; higher is better.
type Result struct {
	Transform    transform.Affine
	InitialScore float64
	Score        float64
	Iterations   int

	// Changed is false when the optimizer left the transform as it was
	Changed bool
}

// Optimizer is an intensity-based affine optimizer
type Optimizer interface {
	Optimize(ctx context.Context, req Request) (Result, error)
}

// Status reports whether refinement was accepted
type Status int

const (
	StatusImproved Status = iota
	StatusNoImprovement
)

func (s Status) String() string {
	if s == StatusImproved {
		return "improved"
	}
	return "no improvement"
}

// MarshalText lets Status appear by name in JSON reports
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the accepted result of Refine
type Outcome struct {
	Transform    transform.Affine `json:"transform"`
	Status       Status           `json:"status"`
	InitialScore float64          `json:"initial_score"`
	Score        float64          `json:"score"`
	Iterations   int              `json:"iterations"`
}

// Refine forwards the inputs to opt and accepts its transform only if it is
// non-singular and scores strictly better than the initial transform.
// Otherwise the initial transform comes back with StatusNoImprovement.
func Refine(ctx context.Context, opt Optimizer, initial transform.Affine, moving, fixed *models.Volume, budget Budget) (Outcome, error) {
	const op = "refine"
	if opt == nil {
		return Outcome{}, errors.New("refine: no optimizer configured")
	}
	if err := initial.Validate(op); err != nil {
		return Outcome{}, err
	}
	if err := checkVolume("moving", moving); err != nil {
		return Outcome{}, err
	}
	if err := checkVolume("fixed", fixed); err != nil {
		return Outcome{}, err
	}
	if err := budget.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("refine: %w", err)
	}

	res, err := opt.Optimize(ctx, Request{Initial: initial, Moving: moving, Fixed: fixed, Budget: budget})
	if err != nil {
		return Outcome{}, fmt.Errorf("refine: optimizer failed: %w", err)
	}
	if math.IsNaN(res.Score) || math.IsNaN(res.InitialScore) {
		return Outcome{}, errors.New("refine: optimizer returned a NaN score")
	}

	unchanged := Outcome{
		Transform:    initial,
		Status:       StatusNoImprovement,
		InitialScore: res.InitialScore,
		Score:        res.InitialScore,
		Iterations:   res.Iterations,
	}
	if !res.Changed {
		return unchanged, nil
	}
	if err := res.Transform.Validate(op); err != nil {
		return Outcome{}, err
	}
	if res.Score <= res.InitialScore {
		return unchanged, nil
	}
	return Outcome{
		Transform:    res.Transform,
		Status:       StatusImproved,
		InitialScore: res.InitialScore,
		Score:        res.Score,
		Iterations:   res.Iterations,
	}, nil
}

func checkVolume(role string, v *models.Volume) error {
	if v == nil {
		return fmt.Errorf("refine: %s volume is nil", role)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("refine: %s volume: %w", role, err)
	}
	return nil
}
