// Package pipeline runs the scan-to-atlas workflow end to end: midline
// alignment, landmark registration, optional refinement, resampling onto the
// atlas grid and fiber region lookup, writing every intermediate artefact to
// the output directory.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"uct2ccf/internal/logger"
	"uct2ccf/internal/models"
	"uct2ccf/pkg/midline"
	"uct2ccf/pkg/ontology"
	"uct2ccf/pkg/pointio"
	"uct2ccf/pkg/refine"
	"uct2ccf/pkg/region"
	"uct2ccf/pkg/registration"
	"uct2ccf/pkg/report"
	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volumeio"
)

// Space names written into transform files. They also name the space fiber
// points are marked in.
const (
	SpaceScan    = "scan"
	SpaceAligned = "aligned"
	SpaceCCF     = "ccf"
)

// Output file names
const (
	AlignedVolumeFile     = "aligned_volume.nrrd"
	RegisteredVolumeFile  = "registered_volume.nrrd"
	AlignmentFile         = "alignment_transform.json"
	LandmarkTransformFile = "landmark_transform.json"
	RefinedTransformFile  = "refined_transform.json"
	ScanToCCFFile         = "scan_to_ccf_transform.json"
	MetricsFile           = "registration_metrics.json"
)

// Params holds the pipeline inputs and settings. Only ScanPath and OutputDir
// are required; each later step runs when its inputs are present.
type Params struct {
	// ScanPath is a directory of TIFF slices or an NRRD file
	ScanPath string

	// ScanGrid places a TIFF slice stack in physical space. NRRD files carry
	// their own grid and ignore it.
	ScanGrid models.Grid

	// MidlineFile holds midline clicks; empty skips alignment
	MidlineFile string

	// LandmarkFile holds scan/atlas landmark pairs marked on the aligned volume
	LandmarkFile string

	// TransformFile is a previously solved aligned-to-atlas transform used
	// instead of LandmarkFile
	TransformFile string

	// AtlasGrid places voxel landmarks in atlas space when no annotation
	// volume supplies a grid
	AtlasGrid models.Grid

	// ReferencePath is an atlas intensity volume (NRRD) for refinement
	ReferencePath string

	// AnnotationPath, OntologyPath and FibersPath enable region lookup
	AnnotationPath string
	OntologyPath   string
	FibersPath     string

	// FiberSpace is the volume fiber voxels were marked on: SpaceScan (the
	// default), SpaceAligned, or SpaceCCF for the registered volume, whose
	// voxels are annotation voxels
	FiberSpace string

	// OutputDir receives transforms, metrics, the aligned volume and reports
	OutputDir string

	// NumCores bounds the resampling workers
	NumCores int

	Interpolation   midline.Interpolation
	MinEigenRatio   float64
	Reverse         bool
	CenterOnMidline bool

	Thresholds registration.Thresholds

	// Refine enables the intensity pass when ReferencePath is set
	Refine    bool
	Budget    refine.Budget
	Optimizer refine.Optimizer

	// SaveIntermediaryResults writes QC slices under IntermediaryDir
	SaveIntermediaryResults bool
	IntermediaryDir         string

	Logger logger.ILogger
}

// Result summarizes a finished run
type Result struct {
	// Plane is nil when no midline file was given
	Plane *midline.Plane

	// Alignment maps scan physical space to aligned physical space
	Alignment transform.Affine

	// Landmark is the aligned-to-atlas transform from landmarks (or file)
	Landmark transform.Affine

	// Metrics are only filled when landmarks were solved
	Metrics    *registration.Metrics
	Assessment *registration.Assessment

	// Refinement is nil when refinement did not run
	Refinement *refine.Outcome

	// ScanToCCF is the composed scan physical to atlas physical transform;
	// HasTransform is false when neither landmarks nor a transform file was given
	ScanToCCF    transform.Affine
	HasTransform bool

	// Registered is true when the aligned scan was resampled onto the atlas grid
	Registered bool

	Fibers []region.FiberRecord

	Duration time.Duration
}

// Pipeline holds the state of one run
type Pipeline struct {
	params *Params
	log    logger.ILogger

	scan       *models.Volume
	aligned    *models.Volume
	reference  *models.Volume
	registered *models.Volume

	annotation *models.LabelVolume
	tree       *ontology.Tree

	result Result
}

// New validates params and creates a pipeline
func New(params *Params) (*Pipeline, error) {
	if params == nil {
		return nil, fmt.Errorf("no pipeline parameters")
	}
	if params.ScanPath == "" {
		return nil, fmt.Errorf("no scan path given")
	}
	if params.OutputDir == "" {
		return nil, fmt.Errorf("no output directory given")
	}
	if params.TransformFile != "" && params.LandmarkFile != "" {
		return nil, fmt.Errorf("landmark file and transform file are mutually exclusive")
	}
	lookup := []string{params.AnnotationPath, params.OntologyPath, params.FibersPath}
	given := 0
	for _, p := range lookup {
		if p != "" {
			given++
		}
	}
	if given != 0 && given != len(lookup) {
		return nil, fmt.Errorf("region lookup needs annotation, ontology and fibers together")
	}
	switch params.FiberSpace {
	case "":
		params.FiberSpace = SpaceScan
	case SpaceScan, SpaceAligned, SpaceCCF:
	default:
		return nil, fmt.Errorf("unknown fiber space %q, expected %s, %s or %s",
			params.FiberSpace, SpaceScan, SpaceAligned, SpaceCCF)
	}
	if given != 0 && params.FiberSpace != SpaceCCF && params.LandmarkFile == "" && params.TransformFile == "" {
		return nil, fmt.Errorf("region lookup in %s space needs a landmark file or a transform file", params.FiberSpace)
	}
	if params.SaveIntermediaryResults && params.IntermediaryDir == "" {
		params.IntermediaryDir = filepath.Join(params.OutputDir, "intermediary")
	}
	return &Pipeline{params: params, log: logger.OrNull(params.Logger)}, nil
}

// Result returns the outcome of the last Process call
func (p *Pipeline) Result() Result {
	return p.result
}

// Process runs every step whose inputs are present
func (p *Pipeline) Process(ctx context.Context) (Result, error) {
	start := time.Now()
	p.result = Result{Alignment: transform.Identity(), Landmark: transform.Identity()}

	if err := os.MkdirAll(p.params.OutputDir, 0755); err != nil {
		return p.result, fmt.Errorf("failed to create output directory: %w", err)
	}
	if p.params.SaveIntermediaryResults {
		if err := os.MkdirAll(p.params.IntermediaryDir, 0755); err != nil {
			return p.result, fmt.Errorf("failed to create intermediary directory: %w", err)
		}
	}

	p.log.Infof("Step 1: Loading scan volume...")
	if err := p.loadScan(); err != nil {
		return p.result, fmt.Errorf("failed to load scan: %w", err)
	}
	p.saveViews("01_scan", p.scan)

	p.log.Infof("Step 2: Aligning midline...")
	if err := p.alignMidline(ctx); err != nil {
		return p.result, fmt.Errorf("failed to align midline: %w", err)
	}

	p.log.Infof("Step 3: Registering landmarks...")
	if err := p.registerLandmarks(); err != nil {
		return p.result, fmt.Errorf("failed to register landmarks: %w", err)
	}

	p.log.Infof("Step 4: Refining registration...")
	if err := p.refine(ctx); err != nil {
		return p.result, fmt.Errorf("failed to refine registration: %w", err)
	}

	if p.result.HasTransform {
		p.result.ScanToCCF = transform.Compose(p.result.Alignment, p.alignedToCCF())
		if err := pointio.WriteTransform(p.output(ScanToCCFFile), p.result.ScanToCCF, SpaceScan, SpaceCCF); err != nil {
			return p.result, err
		}
	}

	p.log.Infof("Step 5: Resampling onto the atlas grid...")
	if err := p.registerVolume(ctx); err != nil {
		return p.result, fmt.Errorf("failed to resample onto the atlas grid: %w", err)
	}

	p.log.Infof("Step 6: Resolving fiber regions...")
	if err := p.resolveFibers(); err != nil {
		return p.result, fmt.Errorf("failed to resolve fibers: %w", err)
	}

	p.result.Duration = time.Since(start)
	p.log.Infof("Pipeline finished in %.2f seconds", p.result.Duration.Seconds())
	return p.result, nil
}

func (p *Pipeline) output(name string) string {
	return filepath.Join(p.params.OutputDir, name)
}

func (p *Pipeline) loadScan() error {
	var err error
	if isNRRD(p.params.ScanPath) {
		p.scan, err = volumeio.ReadVolume(p.params.ScanPath)
	} else {
		p.scan, err = volumeio.LoadSliceDir(p.params.ScanPath, p.params.ScanGrid, p.log)
	}
	if err != nil {
		return err
	}
	p.log.Infof("Loaded scan: %d x %d x %d voxels, spacing %v mm", p.scan.Depth, p.scan.Height, p.scan.Width, p.scan.Grid.Spacing)
	return nil
}

func isNRRD(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".nrrd")
}

func (p *Pipeline) alignMidline(ctx context.Context) error {
	p.aligned = p.scan
	if p.params.MidlineFile == "" {
		p.log.Infof("No midline file given - skipping alignment")
		return nil
	}

	set, err := pointio.ReadMidline(p.params.MidlineFile)
	if err != nil {
		return err
	}
	plane, err := midline.FitPlane(set, p.scan.Grid, midline.Options{
		MinEigenRatio: p.params.MinEigenRatio,
		Reverse:       p.params.Reverse,
		Logger:        p.log,
	})
	if err != nil {
		return err
	}
	p.result.Plane = &plane

	var center *r3.Vec
	if p.params.CenterOnMidline {
		c := plane.Centroid
		center = &c
	}
	p.result.Alignment, err = midline.AlignmentTransform(p.scan.Shape(), p.scan.Grid, plane.Rotation, center)
	if err != nil {
		return err
	}

	p.aligned, err = midline.ApplyRotation(ctx, p.scan, plane.Rotation, midline.ResampleOptions{
		Interpolation: p.params.Interpolation,
		Center:        center,
		Workers:       p.params.NumCores,
		Progress: func(completed, total int, _ string) {
			p.log.Debugf("Resampled %d/%d slices", completed, total)
		},
	})
	if err != nil {
		return err
	}

	if err := volumeio.WriteVolume(p.output(AlignedVolumeFile), p.aligned); err != nil {
		return err
	}
	if err := pointio.WriteTransform(p.output(AlignmentFile), p.result.Alignment, SpaceScan, SpaceAligned); err != nil {
		return err
	}
	p.saveViews("02_aligned", p.aligned)
	p.saveCheckerboard()
	return nil
}

// atlasGrid is the annotation grid when an annotation is given, so that
// landmarks marked on the annotation volume land where lookups read
func (p *Pipeline) atlasGrid() (models.Grid, error) {
	if p.params.AnnotationPath == "" {
		return p.params.AtlasGrid, nil
	}
	if err := p.loadAnnotation(); err != nil {
		return models.Grid{}, err
	}
	return p.annotation.Grid, nil
}

func (p *Pipeline) registerLandmarks() error {
	switch {
	case p.params.TransformFile != "":
		a, err := pointio.ReadTransform(p.params.TransformFile)
		if err != nil {
			return err
		}
		p.result.Landmark = a
		p.result.HasTransform = true
		p.log.Infof("Using transform from %s", p.params.TransformFile)
		return nil
	case p.params.LandmarkFile == "":
		p.log.Infof("No landmark file given - skipping registration")
		return nil
	}

	pairs, err := pointio.ReadLandmarks(p.params.LandmarkFile)
	if err != nil {
		return err
	}
	fixed, err := p.atlasGrid()
	if err != nil {
		return err
	}
	phys, err := registration.ToPhysicalPairs(pairs, p.aligned.Grid, fixed)
	if err != nil {
		return err
	}
	a, m, err := registration.SolveAffine(phys)
	if err != nil {
		return err
	}
	assessment := registration.Classify(m, p.params.Thresholds)

	p.result.Landmark = a
	p.result.HasTransform = true
	p.result.Metrics = &m
	p.result.Assessment = &assessment

	p.log.Infof("Landmark registration: %d pairs, mean error %.4f mm, max %.4f mm (%s), quality %s",
		len(m.Residuals), m.Mean, m.Max, m.MaxLabel, assessment.Quality)
	if !assessment.MaxAcceptable {
		p.log.Errorf("Maximum landmark error %.4f mm exceeds %.2f mm: check %s",
			m.Max, p.params.Thresholds.MaxAcceptable, m.MaxLabel)
	}

	if err := pointio.WriteTransform(p.output(LandmarkTransformFile), a, SpaceAligned, SpaceCCF); err != nil {
		return err
	}
	return pointio.WriteMetrics(p.output(MetricsFile), m, assessment)
}

func (p *Pipeline) refine(ctx context.Context) error {
	if !p.params.Refine || p.params.ReferencePath == "" {
		p.log.Infof("Refinement disabled - keeping the landmark transform")
		return nil
	}
	if !p.result.HasTransform {
		return fmt.Errorf("refinement needs an initial transform")
	}

	var err error
	if p.reference, err = volumeio.ReadVolume(p.params.ReferencePath); err != nil {
		return err
	}
	opt := p.params.Optimizer
	if opt == nil {
		opt = refine.NewMutualInformationOptimizer(p.log)
	}

	outcome, err := refine.Refine(ctx, opt, p.result.Landmark, p.aligned, p.reference, p.params.Budget)
	if err != nil {
		return err
	}
	p.result.Refinement = &outcome
	p.log.Infof("Refinement %s: score %.6f -> %.6f after %d iterations",
		outcome.Status, outcome.InitialScore, outcome.Score, outcome.Iterations)

	return pointio.WriteTransform(p.output(RefinedTransformFile), outcome.Transform, SpaceAligned, SpaceCCF)
}

// alignedToCCF is the refined transform when refinement ran, else the
// landmark (or stored) transform
func (p *Pipeline) alignedToCCF() transform.Affine {
	if p.result.Refinement != nil {
		return p.result.Refinement.Transform
	}
	return p.result.Landmark
}

// registerVolume resamples the aligned scan onto the annotation grid, or onto
// the reference grid when no annotation is given
func (p *Pipeline) registerVolume(ctx context.Context) error {
	if !p.result.HasTransform {
		p.log.Infof("No registration - skipping resampling")
		return nil
	}
	var shape [3]int
	var grid models.Grid
	switch {
	case p.params.AnnotationPath != "":
		if err := p.loadAnnotation(); err != nil {
			return err
		}
		shape, grid = p.annotation.Shape(), p.annotation.Grid
	case p.reference != nil:
		shape, grid = p.reference.Shape(), p.reference.Grid
	default:
		p.log.Infof("No atlas volume given - skipping resampling")
		return nil
	}

	var err error
	p.registered, err = midline.ResampleOnto(ctx, p.aligned, shape, grid, p.alignedToCCF(), midline.ResampleOptions{
		Interpolation: p.params.Interpolation,
		Workers:       p.params.NumCores,
		Progress: func(completed, total int, _ string) {
			p.log.Debugf("Registered %d/%d slices", completed, total)
		},
	})
	if err != nil {
		return err
	}
	p.result.Registered = true
	p.log.Infof("Registered volume: %d x %d x %d voxels", shape[0], shape[1], shape[2])

	if err := volumeio.WriteVolume(p.output(RegisteredVolumeFile), p.registered); err != nil {
		return err
	}
	p.saveViews("03_atlas", p.registered)
	return nil
}

func (p *Pipeline) loadAnnotation() error {
	if p.annotation != nil {
		return nil
	}
	var err error
	p.annotation, err = volumeio.ReadLabels(p.params.AnnotationPath)
	return err
}

func (p *Pipeline) resolveFibers() error {
	if p.params.FibersPath == "" {
		p.log.Infof("No fiber file given - skipping region lookup")
		return nil
	}
	if err := p.loadAnnotation(); err != nil {
		return err
	}
	var err error
	if p.tree, err = ontology.LoadFile(p.params.OntologyPath); err != nil {
		return err
	}
	fibers, err := pointio.ReadFibers(p.params.FibersPath)
	if err != nil {
		return err
	}

	toCCF, grid, err := p.fiberFrame()
	if err != nil {
		return err
	}
	p.log.Infof("Reading fiber points in %s space", p.params.FiberSpace)
	resolver, err := region.NewResolver(toCCF, p.annotation, p.tree)
	if err != nil {
		return err
	}
	records, err := resolver.TrackFibers(fibers, grid)
	if err != nil {
		return err
	}
	p.result.Fibers = records
	p.saveAnnotation()

	for _, r := range records {
		p.log.Infof("Fiber %d: %s (%s)", r.ID, r.Region.Name, r.Region.Acronym)
	}
	return report.WriteAll(p.params.OutputDir, records)
}

// fiberFrame returns the transform to atlas space and the grid of the volume
// fiber points were marked on
func (p *Pipeline) fiberFrame() (transform.Affine, models.Grid, error) {
	if p.params.FiberSpace == SpaceCCF {
		return transform.Identity(), p.annotation.Grid, nil
	}
	if !p.result.HasTransform {
		return transform.Affine{}, models.Grid{}, fmt.Errorf("no transform from %s space to the atlas", p.params.FiberSpace)
	}
	if p.params.FiberSpace == SpaceAligned {
		return p.alignedToCCF(), p.aligned.Grid, nil
	}
	return p.result.ScanToCCF, p.scan.Grid, nil
}
