// Package api serves sampling runs over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"gosens/app"
	"gosens/domain/core"
	apperrors "gosens/internal/errors"
	"gosens/internal/experiment"
	"gosens/ports"

	"github.com/gin-gonic/gin"
)

// Runner is the part of app.SensitivityService the HTTP surface drives
type Runner interface {
	Run(ctx context.Context, req app.RunRequest) (*app.RunOutcome, error)
	Inspect(ctx context.Context, variableRange, outputRange string) (*app.Inspection, error)
	GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*ports.RunRecord, error)
	Restore(ctx context.Context, id core.RunID) (*ports.RunRecord, error)
}

// RunDefaults fill in what a POST /runs body leaves out
type RunDefaults struct {
	Samples       int
	ProgressEvery int
	Seed          uint64
	VariableRange string
	OutputRange   string
}

// RunBody is the optional JSON body of POST /runs
type RunBody struct {
	Samples         *int    `json:"samples"`
	ProgressEvery   int     `json:"progress_every"`
	Seed            *uint64 `json:"seed"`
	VariableRange   string  `json:"variable_range"`
	OutputRange     string  `json:"output_range"`
	RestoreBaseline bool    `json:"restore_baseline"`
}

// Server routes HTTP requests to the runner
type Server struct {
	router   *gin.Engine
	runner   Runner
	defaults RunDefaults
	events   *EventHub
}

// NewServer builds the router
func NewServer(runner Runner, defaults RunDefaults) *Server {
	s := &Server{
		router:   gin.New(),
		runner:   runner,
		defaults: defaults,
		events:   NewEventHub(64),
	}
	s.router.Use(gin.Logger(), gin.Recovery())
	s.setupRoutes()
	return s
}

// Handler exposes the router for http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Events is the hub run events are published to
func (s *Server) Events() *EventHub {
	return s.events
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/inspect", s.handleInspect)

	runs := s.router.Group("/runs")
	runs.POST("", s.handleCreateRun)
	runs.GET("", s.handleListRuns)
	runs.GET("/events", s.handleEvents)
	runs.GET("/:id", s.handleGetRun)
	runs.POST("/:id/restore", s.handleRestore)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInspect(c *gin.Context) {
	insp, err := s.runner.Inspect(c.Request.Context(),
		c.DefaultQuery("variable_range", s.defaults.VariableRange),
		c.DefaultQuery("output_range", s.defaults.OutputRange))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, insp)
}

// handleCreateRun runs synchronously; the response carries the full outcome
func (s *Server) handleCreateRun(c *gin.Context) {
	var body RunBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	req := app.RunRequest{
		Samples:         s.defaults.Samples,
		ProgressEvery:   s.defaults.ProgressEvery,
		Seed:            s.defaults.Seed,
		VariableRange:   s.defaults.VariableRange,
		OutputRange:     s.defaults.OutputRange,
		RestoreBaseline: body.RestoreBaseline,
		OnProgress: func(p experiment.Progress) {
			s.events.Publish(progressEvent(p))
		},
	}
	if body.Samples != nil {
		req.Samples = *body.Samples
	}
	if body.Seed != nil {
		req.Seed = *body.Seed
	}
	if body.ProgressEvery > 0 {
		req.ProgressEvery = body.ProgressEvery
	}
	if body.VariableRange != "" {
		req.VariableRange = body.VariableRange
	}
	if body.OutputRange != "" {
		req.OutputRange = body.OutputRange
	}
	if req.Samples < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "samples must not be negative"})
		return
	}

	s.events.Publish(newEvent(EventTypeRunStarted, RunStartedEvent{Samples: req.Samples}))
	outcome, err := s.runner.Run(c.Request.Context(), req)
	if outcome != nil {
		s.events.Publish(completedEvent(outcome.Record))
	}
	if err != nil && !(outcome != nil && errors.Is(err, context.Canceled)) {
		s.events.Publish(newEvent(EventTypeRunFailed, RunFailedEvent{Error: err.Error(), Code: apperrors.GetCode(err)}))
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, outcome)
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := s.runner.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	id, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.runner.GetRun(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleRestore writes the baseline recorded with a run back into the model
func (s *Server) handleRestore(c *gin.Context) {
	id, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.runner.Restore(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": run.Baseline, "run": run})
}

// handleEvents streams run events until the client disconnects
func (s *Server) handleEvents(c *gin.Context) {
	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			_, err := io.WriteString(w, event.ToSSEFormat())
			return err == nil
		case <-ctx.Done():
			return false
		}
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperrors.GetCode(err)})
}

func statusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.CodeConflict:
		return http.StatusConflict
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConfigInvalid, apperrors.CodeInvalidDistribution, apperrors.CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case apperrors.CodeExternalService:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, core.ErrRunInProgress):
		return http.StatusConflict
	case core.IsNotFoundError(err):
		return http.StatusNotFound
	case core.IsFatal(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
