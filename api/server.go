package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"listing_dedup/models"
	"listing_dedup/services"
	"listing_dedup/storage"
)

// Engine is the part of the dedup service the API exposes
type Engine interface {
	CheckDuplicate(ctx context.Context, probe *models.ListingProbe, opts *services.Options) (*models.CheckResult, error)
	GetDuplicateStats(ctx context.Context) (*models.DuplicateStats, error)
	Options() services.Options
}

// SweepRunner starts one sweep; *services.Sweeper satisfies it
type SweepRunner interface {
	Run(ctx context.Context, trigger string, so services.ScanOptions) (*services.SweepOutcome, error)
}

// Server serves the check, scan and stats operations over HTTP
type Server struct {
	engine  Engine
	sweeper SweepRunner
	store   storage.Store
	router  *gin.Engine
}

func NewServer(engine Engine, sweeper SweepRunner, store storage.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	s := &Server{
		engine:  engine,
		sweeper: sweeper,
		store:   store,
		router:  r,
	}
	s.registerRoutes()
	return s
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.POST("/check", s.handleCheck)
	api.POST("/scan", s.handleScan)
	api.GET("/stats", s.handleStats)
	api.GET("/runs/:id", s.handleGetRun)
}

func (s *Server) handleHealthz(c *gin.Context) {
	if _, err := s.store.CountByStatus(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type checkRequest struct {
	models.ListingProbe
	// Options overlays the service defaults, so partial objects are fine
	Options json.RawMessage `json:"options,omitempty"`
}

func (s *Server) handleCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts, err := s.overlayOptions(req.Options)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.CheckDuplicate(c.Request.Context(), &req.ListingProbe, opts)
	if err != nil {
		s.writeError(c, "check", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type scanRequest struct {
	DryRun  bool            `json:"dryRun"`
	Since   *time.Time      `json:"since,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

func (s *Server) handleScan(c *gin.Context) {
	var req scanRequest
	// an empty body means a full persisted sweep with defaults
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	opts, err := s.overlayOptions(req.Options)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.sweeper.Run(c.Request.Context(), "api", services.ScanOptions{
		Options: opts,
		Since:   req.Since,
		DryRun:  req.DryRun,
	})
	if err != nil {
		s.writeError(c, "scan", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.engine.GetDuplicateStats(c.Request.Context())
	if err != nil {
		s.writeError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	run, err := s.store.GetScanRun(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, "get run", err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) overlayOptions(raw json.RawMessage) (*services.Options, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	opts := s.engine.Options()
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func (s *Server) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrSweepRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrStoreUnavailable):
		log.Printf("Warning: %s: %v", op, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		log.Printf("Warning: %s: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

// requestLogger logs method, path, status and latency of each request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
