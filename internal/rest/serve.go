// Package rest exposes registration, transform composition and region lookup
// over HTTP
package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"uct2ccf/internal/logger"
	"uct2ccf/internal/models"
	"uct2ccf/pkg/pointio"
	"uct2ccf/pkg/region"
	"uct2ccf/pkg/registration"
	"uct2ccf/pkg/report"
	"uct2ccf/pkg/transform"
)

// Options configures a Server. Resolver may be nil, in which case the
// lookup endpoints answer 503.
type Options struct {
	Resolver *region.Resolver

	// ScanGrid places voxel points sent to resolve and fibers, and is the
	// default moving grid for register
	ScanGrid models.Grid

	// AtlasGrid is the default fixed grid for register
	AtlasGrid models.Grid

	Thresholds registration.Thresholds
	Logger     logger.ILogger
}

// Server handles the /api/v1 endpoints. Handlers only read shared state, so
// requests run concurrently.
type Server struct {
	opts Options
	log  logger.ILogger
}

// NewServer creates a server
func NewServer(opts Options) *Server {
	return &Server{opts: opts, log: logger.OrNull(opts.Logger)}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/register", s.postRegister)
			v1.POST("/compose", s.postCompose)
			v1.POST("/resolve", s.postResolve)
			v1.POST("/fibers", s.postFibers)
		}
	}
	return r
}

// Serve listens on addr until the server fails
func (s *Server) Serve(addr string) error {
	s.log.Infof("Serving on %s", addr)
	return s.Router().Run(addr)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Infof("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// statusFor maps input errors to 422 and everything else to 400
func statusFor(err error) int {
	var insufficient *models.InsufficientInputError
	var degenerate *models.DegenerateInputError
	var singular *models.SingularTransformError
	var unresolved *models.UnresolvedLabelError
	switch {
	case errors.As(err, &insufficient), errors.As(err, &degenerate),
		errors.As(err, &singular), errors.As(err, &unresolved):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	s.log.Debugf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(status, gin.H{"error": err.Error()})
}

type postRegisterArgs struct {
	Landmarks  pointio.LandmarkFile `json:"landmarks"`
	MovingGrid *models.Grid         `json:"moving_grid"`
	FixedGrid  *models.Grid         `json:"fixed_grid"`
}

func (s *Server) postRegister(c *gin.Context) {
	var args postRegisterArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	pairs, err := args.Landmarks.Decode()
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	moving, fixed := s.opts.ScanGrid, s.opts.AtlasGrid
	if args.MovingGrid != nil {
		moving = *args.MovingGrid
	}
	if args.FixedGrid != nil {
		fixed = *args.FixedGrid
	}
	phys, err := registration.ToPhysicalPairs(pairs, moving, fixed)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	a, m, err := registration.SolveAffine(phys)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transform":  a,
		"metrics":    m,
		"assessment": registration.Classify(m, s.opts.Thresholds),
	})
}

type postComposeArgs struct {
	Transforms []transform.Affine `json:"transforms"`
}

// postCompose chains the transforms in the order given
func (s *Server) postCompose(c *gin.Context) {
	var args postComposeArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if len(args.Transforms) == 0 {
		s.fail(c, http.StatusBadRequest, errors.New("no transforms to compose"))
		return
	}
	for _, t := range args.Transforms {
		if err := t.Validate("compose"); err != nil {
			s.fail(c, statusFor(err), err)
			return
		}
	}
	out := transform.Chain(args.Transforms...)
	if err := out.Validate("compose"); err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transform": out})
}

type postResolveArgs struct {
	Points []models.Point3D `json:"points"`
}

func (s *Server) postResolve(c *gin.Context) {
	if s.opts.Resolver == nil {
		s.fail(c, http.StatusServiceUnavailable, errors.New("no atlas loaded"))
		return
	}
	var args postResolveArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	records := make([]region.Record, 0, len(args.Points))
	for _, p := range args.Points {
		phys, err := transform.ConvertSpace(p, s.opts.ScanGrid, models.SpacePhysical)
		if err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
		rec, err := s.opts.Resolver.Resolve(phys)
		if err != nil {
			s.fail(c, statusFor(err), err)
			return
		}
		records = append(records, rec)
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// postFibers accepts the fiber file layout; ?format=csv or ?format=summary
// returns the report text instead of JSON
func (s *Server) postFibers(c *gin.Context) {
	if s.opts.Resolver == nil {
		s.fail(c, http.StatusServiceUnavailable, errors.New("no atlas loaded"))
		return
	}
	fibers, err := pointio.DecodeFibers(c.Request.Body)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	records, err := s.opts.Resolver.TrackFibers(fibers, s.opts.ScanGrid)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}

	switch c.Query("format") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		if err := report.WriteCSV(c.Writer, records); err != nil {
			s.log.Errorf("Failed to write fiber CSV: %v", err)
		}
	case "summary":
		c.Header("Content-Type", "text/plain")
		c.Status(http.StatusOK)
		if err := report.WriteSummary(c.Writer, records); err != nil {
			s.log.Errorf("Failed to write fiber summary: %v", err)
		}
	case "", "json":
		c.JSON(http.StatusOK, gin.H{"fibers": records})
	default:
		s.fail(c, http.StatusBadRequest, errors.New("format must be json, csv or summary"))
	}
}
