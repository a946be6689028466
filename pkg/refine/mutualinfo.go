package refine

import (
	"context"
	"math"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"uct2ccf/internal/logger"
	"uct2ccf/internal/models"
	"uct2ccf/pkg/midline"
	"uct2ccf/pkg/transform"
)

const (
	DefaultBins           = 50
	DefaultSampleFraction = 0.01
	DefaultSeed           = 42

	// minOverlap is the fewest samples landing inside the moving volume for a
	// score to be meaningful
	minOverlap = 16
)

// MutualInformationOptimizer maximizes the mutual information between the
// fixed volume and the moving volume pulled through the candidate transform.
// It searches the 12 affine parameters with Nelder-Mead.
type MutualInformationOptimizer struct {
	Bins           int
	SampleFraction float64
	Seed           uint32
	Logger         logger.ILogger
}

// NewMutualInformationOptimizer returns an optimizer with default settings
func NewMutualInformationOptimizer(log logger.ILogger) *MutualInformationOptimizer {
	return &MutualInformationOptimizer{
		Bins:           DefaultBins,
		SampleFraction: DefaultSampleFraction,
		Seed:           DefaultSeed,
		Logger:         logger.OrNull(log),
	}
}

// Optimize implements Optimizer
func (o *MutualInformationOptimizer) Optimize(ctx context.Context, req Request) (Result, error) {
	log := logger.OrNull(o.Logger)
	m, err := o.newMetric(req.Moving, req.Fixed)
	if err != nil {
		return Result{}, err
	}

	initialScore := m.score(req.Initial)
	log.Infof("Refinement start: mutual information %.6f over %d samples", initialScore, len(m.samples))

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if ctx.Err() != nil {
				return math.Inf(1)
			}
			a, err := transform.FromParams(x)
			if err != nil {
				return math.Inf(1)
			}
			return -m.score(a)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: req.Budget.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   req.Budget.Tolerance,
			Iterations: 20,
		},
	}

	res, err := optimize.Minimize(problem, req.Initial.Params(), settings, &optimize.NelderMead{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if res == nil {
		return Result{}, err
	}
	if err != nil {
		// Limits such as the iteration cap still leave a usable best point
		log.Debugf("Refinement stopped early: %v", err)
	}

	best, perr := transform.FromParams(res.X)
	if perr != nil {
		return Result{}, perr
	}
	score := -res.F
	log.Infof("Refinement done after %d iterations: mutual information %.6f", res.Stats.MajorIterations, score)

	return Result{
		Transform:    best,
		InitialScore: initialScore,
		Score:        score,
		Iterations:   res.Stats.MajorIterations,
		Changed:      score != initialScore,
	}, nil
}

// Score returns the mutual information of the pair under a
func (o *MutualInformationOptimizer) Score(a transform.Affine, moving, fixed *models.Volume) (float64, error) {
	m, err := o.newMetric(moving, fixed)
	if err != nil {
		return 0, err
	}
	return m.score(a), nil
}

type metric struct {
	moving       *models.Volume
	fixedToPhys  transform.Affine
	physToMoving transform.Affine
	bins         int

	// samples are fixed-volume index positions with their intensities
	samples []r3.Vec
	values  []float64

	fixedMin, fixedScale   float64
	movingMin, movingScale float64
}

func (o *MutualInformationOptimizer) newMetric(moving, fixed *models.Volume) (*metric, error) {
	fixedToPhys, err := transform.GridToAffine(fixed.Grid)
	if err != nil {
		return nil, err
	}
	movingToPhys, err := transform.GridToAffine(moving.Grid)
	if err != nil {
		return nil, err
	}
	physToMoving, err := movingToPhys.Inverse()
	if err != nil {
		return nil, err
	}

	bins := o.Bins
	if bins < 2 {
		bins = DefaultBins
	}
	fraction := o.SampleFraction
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultSampleFraction
	}

	m := &metric{
		moving:       moving,
		fixedToPhys:  fixedToPhys,
		physToMoving: physToMoving,
		bins:         bins,
	}
	m.fixedMin, m.fixedScale = binScale(fixed.Data, bins)
	m.movingMin, m.movingScale = binScale(moving.Data, bins)

	total := len(fixed.Data)
	count := int(math.Ceil(float64(total) * fraction))
	if count > total {
		count = total
	}

	var rng fastrand.RNG
	rng.Seed(o.Seed)
	m.samples = make([]r3.Vec, 0, count)
	m.values = make([]float64, 0, count)
	plane := fixed.Height * fixed.Width
	for i := 0; i < count; i++ {
		idx := i
		if count < total {
			idx = int(rng.Uint32n(uint32(total)))
		}
		z := idx / plane
		rem := idx % plane
		y := rem / fixed.Width
		x := rem % fixed.Width
		m.samples = append(m.samples, r3.Vec{X: float64(z), Y: float64(y), Z: float64(x)})
		m.values = append(m.values, fixed.Data[idx])
	}
	return m, nil
}

func binScale(data []float64, bins int) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if !(hi > lo) {
		return lo, 0
	}
	return lo, float64(bins) / (hi - lo)
}

func (m *metric) bin(v, lo, scale float64) int {
	b := int((v - lo) * scale)
	if b < 0 {
		return 0
	}
	if b >= m.bins {
		return m.bins - 1
	}
	return b
}

// score is the mutual information of the joint histogram; singular or
// non-overlapping candidates score 0
func (m *metric) score(a transform.Affine) float64 {
	inv, err := a.Inverse()
	if err != nil {
		return 0
	}
	// fixed voxel -> fixed physical -> moving physical -> moving voxel
	pull := transform.Chain(m.fixedToPhys, inv, m.physToMoving)

	joint := make([]float64, m.bins*m.bins)
	pf := make([]float64, m.bins)
	pm := make([]float64, m.bins)
	n := 0
	for i, s := range m.samples {
		mv, ok := midline.SampleLinear(m.moving, pull.ApplyVec(s))
		if !ok {
			continue
		}
		fb := m.bin(m.values[i], m.fixedMin, m.fixedScale)
		mb := m.bin(mv, m.movingMin, m.movingScale)
		joint[fb*m.bins+mb]++
		pf[fb]++
		pm[mb]++
		n++
	}
	if n < minOverlap {
		return 0
	}

	total := float64(n)
	var mi float64
	for f := 0; f < m.bins; f++ {
		if pf[f] == 0 {
			continue
		}
		for b := 0; b < m.bins; b++ {
			c := joint[f*m.bins+b]
			if c == 0 {
				continue
			}
			mi += c / total * math.Log(c*total/(pf[f]*pm[b]))
		}
	}
	return mi
}
