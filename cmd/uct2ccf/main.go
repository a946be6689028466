package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"uct2ccf/internal/logger"
	"uct2ccf/internal/models"
	"uct2ccf/internal/rest"
	"uct2ccf/pkg/config"
	"uct2ccf/pkg/midline"
	"uct2ccf/pkg/ontology"
	"uct2ccf/pkg/pipeline"
	"uct2ccf/pkg/pointio"
	"uct2ccf/pkg/refine"
	"uct2ccf/pkg/region"
	"uct2ccf/pkg/volumeio"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "uct2ccf.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	scanPath := flag.String("scan", "", "Directory of TIFF slices or NRRD file of the micro-CT scan")
	midlineFile := flag.String("midline", "", "Midline point file (JSON)")
	landmarkFile := flag.String("landmarks", "", "Landmark pair file (JSON), marked on the aligned scan")
	transformFile := flag.String("transform", "", "Stored transform (JSON) used instead of landmarks; scan-to-CCF transform with -serve")
	referencePath := flag.String("reference", "", "Atlas reference volume (NRRD) for refinement")
	annotationPath := flag.String("annotation", "", "Atlas annotation volume (NRRD)")
	ontologyPath := flag.String("ontology", "", "Atlas structure ontology (JSON)")
	fibersPath := flag.String("fibers", "", "Fiber entry/tip points (JSON)")
	fiberSpace := flag.String("fiber-space", "", "Volume the fibers were marked on: scan, aligned or ccf (default from config)")
	outputDir := flag.String("output", "", "Output directory (default from config)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default from config, 0 = physical cores)")
	reverse := flag.Bool("reverse", false, "Negate the midline rotation angle")
	centerMidline := flag.Bool("center-midline", false, "Rotate about the midline centroid instead of the volume center")
	doRefine := flag.Bool("refine", false, "Refine the landmark transform against -reference")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save QC slices during processing")
	verbose := flag.Bool("v", false, "Verbose (debug) logging")
	serve := flag.Bool("serve", false, "Run the REST service instead of the pipeline")
	addr := flag.String("addr", "", "REST listen address (default from config)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags given on the command line override the config file
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["output"] {
		cfg.Output.Dir = *outputDir
	}
	if set["cores"] {
		cfg.Processing.NumCores = *numCores
	}
	if set["reverse"] {
		cfg.Midline.Reverse = *reverse
	}
	if set["center-midline"] {
		cfg.Midline.CenterOnMidline = *centerMidline
	}
	if set["refine"] {
		cfg.Refinement.Enabled = *doRefine
	}
	if set["save-intermediary"] {
		cfg.Output.SaveIntermediaryResults = *saveIntermediary
	}
	if set["v"] {
		cfg.Output.Verbose = *verbose
	}
	if set["fiber-space"] {
		cfg.Fibers.Space = *fiberSpace
	}
	if set["addr"] {
		cfg.Server.Address = *addr
	}

	level := logger.LogInfo
	if cfg.Output.Verbose {
		level = logger.LogDebug
	}
	lg := logger.NewStdOutLogger(level)

	if cfg.Processing.NumCores <= 0 {
		cfg.Processing.NumCores = cpuid.CPU.PhysicalCores
		if cfg.Processing.NumCores <= 0 {
			cfg.Processing.NumCores = runtime.NumCPU()
		}
	}
	lg.Infof("CPU %s, %d physical cores, %d MB memory; using %d workers",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, memory.TotalMemory()/1024/1024, cfg.Processing.NumCores)

	if *serve {
		if err := runServer(cfg, *annotationPath, *ontologyPath, *transformFile, lg); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	// Validate inputs
	if *scanPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	interp, err := midline.ParseInterpolation(cfg.Processing.Interpolation)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	optimizer := refine.NewMutualInformationOptimizer(lg)
	optimizer.Bins = cfg.Refinement.Bins
	optimizer.SampleFraction = cfg.Refinement.SamplingPercentage
	optimizer.Seed = cfg.Refinement.Seed

	params := &pipeline.Params{
		ScanPath:                *scanPath,
		ScanGrid:                cfg.Scan,
		MidlineFile:             *midlineFile,
		LandmarkFile:            *landmarkFile,
		TransformFile:           *transformFile,
		AtlasGrid:               cfg.Atlas,
		ReferencePath:           *referencePath,
		AnnotationPath:          *annotationPath,
		OntologyPath:            *ontologyPath,
		FibersPath:              *fibersPath,
		FiberSpace:              cfg.Fibers.Space,
		OutputDir:               cfg.Output.Dir,
		NumCores:                cfg.Processing.NumCores,
		Interpolation:           interp,
		MinEigenRatio:           cfg.Midline.MinEigenRatio,
		Reverse:                 cfg.Midline.Reverse,
		CenterOnMidline:         cfg.Midline.CenterOnMidline,
		Thresholds:              cfg.Registration.Thresholds,
		Refine:                  cfg.Refinement.Enabled,
		Budget:                  cfg.Budget(),
		Optimizer:               optimizer,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         filepath.Join(cfg.Output.Dir, "intermediary"),
		Logger:                  lg,
	}

	p, err := pipeline.New(params)
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := p.Process(ctx)
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	fmt.Printf("\nProcessing completed successfully in %.2f seconds!\n", res.Duration.Seconds())
	fmt.Printf("Results saved to: %s\n", cfg.Output.Dir)
	if res.Plane != nil {
		fmt.Printf("- Midline rotation: %.2f° about (%.3f, %.3f, %.3f)\n",
			res.Plane.AngleDegrees(), res.Plane.Axis.X, res.Plane.Axis.Y, res.Plane.Axis.Z)
	}
	if res.Metrics != nil {
		fmt.Printf("- Landmark error: mean %.4f mm, max %.4f mm (%s)\n",
			res.Metrics.Mean, res.Metrics.Max, res.Assessment.Quality)
	}
	if res.Refinement != nil {
		fmt.Printf("- Refinement: %s\n", res.Refinement.Status)
	}
	if res.Fibers != nil {
		fmt.Printf("- Fibers resolved: %d\n", len(res.Fibers))
	}
}

// runServer loads the atlas for the lookup endpoints when all of its parts
// are given and serves until the listener fails
func runServer(cfg *config.Config, annotationPath, ontologyPath, transformPath string, lg logger.ILogger) error {
	opts := rest.Options{
		ScanGrid:   cfg.Scan,
		AtlasGrid:  cfg.Atlas,
		Thresholds: cfg.Registration.Thresholds,
		Logger:     lg,
	}

	if annotationPath != "" && ontologyPath != "" && transformPath != "" {
		resolver, grid, err := loadResolver(annotationPath, ontologyPath, transformPath)
		if err != nil {
			return err
		}
		opts.Resolver = resolver
		opts.AtlasGrid = grid
		lg.Infof("Atlas loaded: %s", annotationPath)
	} else {
		lg.Infof("No atlas given - /resolve and /fibers are disabled")
	}

	return rest.NewServer(opts).Serve(cfg.Server.Address)
}

func loadResolver(annotationPath, ontologyPath, transformPath string) (*region.Resolver, models.Grid, error) {
	annotation, err := volumeio.ReadLabels(annotationPath)
	if err != nil {
		return nil, models.Grid{}, err
	}
	tree, err := ontology.LoadFile(ontologyPath)
	if err != nil {
		return nil, models.Grid{}, err
	}
	affine, err := pointio.ReadTransform(transformPath)
	if err != nil {
		return nil, models.Grid{}, err
	}
	resolver, err := region.NewResolver(affine, annotation, tree)
	if err != nil {
		return nil, models.Grid{}, err
	}
	return resolver, annotation.Grid, nil
}
