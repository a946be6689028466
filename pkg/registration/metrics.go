package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/transform"
)

// Residual is the distance between a fixed landmark and its transformed moving partner
type Residual struct {
	Index int     `json:"index"`
	Name  string  `json:"name,omitempty"`
	Slice *int    `json:"slice,omitempty"`
	Error float64 `json:"error"`
}

// Metrics summarizes landmark agreement after registration
type Metrics struct {
	Residuals []Residual `json:"residuals"`
	Mean      float64    `json:"mean_error"`
	Std       float64    `json:"std_error"`
	Min       float64    `json:"min_error"`
	Max       float64    `json:"max_error"`
	RMS       float64    `json:"rms_error"`

	// MaxIndex identifies the landmark with the largest residual
	MaxIndex int    `json:"max_index"`
	MaxLabel string `json:"max_landmark"`

	Unit string `json:"unit"`
}

// ComputeMetrics re-applies affine to every moving landmark and measures the
// distance to its fixed partner
func ComputeMetrics(pairs []models.LandmarkPair, affine transform.Affine) (Metrics, error) {
	if len(pairs) == 0 {
		return Metrics{}, &models.InsufficientInputError{Op: "compute metrics", What: "landmark pairs", Need: 1}
	}

	m := Metrics{Unit: "mm", Residuals: make([]Residual, len(pairs)), Min: math.Inf(1)}
	errs := make([]float64, len(pairs))
	var sumSq float64
	for i, p := range pairs {
		moved, err := affine.Apply(p.Moving)
		if err != nil {
			return Metrics{}, fmt.Errorf("%s: %w", p.Label(), err)
		}
		if p.Fixed.Space != models.SpacePhysical {
			return Metrics{}, fmt.Errorf("%s: fixed point is not in physical space", p.Label())
		}
		e := moved.Distance(p.Fixed)
		errs[i] = e
		sumSq += e * e
		m.Residuals[i] = Residual{Index: p.Index, Name: p.Name, Slice: p.Slice, Error: e}
		if e > m.Max || i == 0 {
			m.Max = e
			m.MaxIndex = p.Index
			m.MaxLabel = p.Label()
		}
		if e < m.Min {
			m.Min = e
		}
	}
	m.Mean, m.Std = stat.PopMeanStdDev(errs, nil)
	m.RMS = math.Sqrt(sumSq / float64(len(errs)))
	return m, nil
}

// Quality is an advisory rating of the registration
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
)

// Thresholds are the advisory quality limits, in physical units
type Thresholds struct {
	Excellent     float64 `yaml:"excellent" json:"excellent"`
	Good          float64 `yaml:"good" json:"good"`
	MaxAcceptable float64 `yaml:"maxAcceptable" json:"max_acceptable"`
}

// DefaultThresholds returns the limits used for mm-scale CCF registration
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 0.5, Good: 1.0, MaxAcceptable: 2.0}
}

// Assessment is the informational result of Classify; it never blocks a transform
type Assessment struct {
	Quality       Quality `json:"quality"`
	MaxAcceptable bool    `json:"max_acceptable"`
}

// Classify rates the metrics against the thresholds
func Classify(m Metrics, t Thresholds) Assessment {
	a := Assessment{Quality: QualityPoor, MaxAcceptable: m.Max < t.MaxAcceptable}
	switch {
	case m.Mean < t.Excellent:
		a.Quality = QualityExcellent
	case m.Mean < t.Good:
		a.Quality = QualityGood
	}
	return a
}
