// Package server exposes the clip pipeline, async jobs and diagnostics over
// HTTP with gin.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"media-clipper/internal/audit"
	"media-clipper/internal/clip"
	"media-clipper/internal/domain"
	"media-clipper/internal/jobs"
)

// ClipService runs clip requests synchronously or as an event stream.
type ClipService interface {
	Run(ctx context.Context, req clip.Request) (clip.Result, error)
	Stream(ctx context.Context, req clip.Request) <-chan domain.ClipEvent
}

// JobService runs clip requests in the background.
type JobService interface {
	StartClipJob(sourceURL string, r domain.TimeRange) (domain.Job, error)
	ListJobs() []domain.Job
	GetJob(id string) (domain.Job, bool)
	JobEvents(id string, since int64) []jobs.Event
	CancelJob(id string) error
}

// DiagnosticsService reports and remediates environment problems.
type DiagnosticsService interface {
	GetDiagnostics() domain.DiagnosticReport
	RefreshDiagnostics() (domain.DiagnosticReport, error)
	InstallOrFixDiagnostic(id string) (domain.DiagnosticReport, error)
}

// AuditReader lists recent clip outcomes.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Deps are the collaborators behind the routes. Jobs, Diagnostics and Audit
// may be nil, which disables their routes.
type Deps struct {
	Clips       ClipService
	Jobs        JobService
	Diagnostics DiagnosticsService
	Audit       AuditReader
	Logger      hclog.Logger

	// Heartbeat is the idle interval between SSE keepalives.
	Heartbeat time.Duration
}

type handlers struct {
	deps Deps
	log  hclog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	h := &handlers{deps: deps, log: deps.Logger.Named("http")}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger(), corsHeaders())

	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.POST("/clips", h.createClip)
	api.POST("/clips/stream", h.streamClip)

	if deps.Jobs != nil {
		api.POST("/jobs", h.createJob)
		api.GET("/jobs", h.listJobs)
		api.GET("/jobs/:id", h.getJob)
		api.GET("/jobs/:id/events", h.jobEvents)
		api.DELETE("/jobs/:id", h.cancelJob)
	}
	if deps.Diagnostics != nil {
		api.GET("/diagnostics", h.getDiagnostics)
		api.POST("/diagnostics/:id/fix", h.fixDiagnostic)
	}
	if deps.Audit != nil {
		api.GET("/audit", h.listAudit)
	}

	return r
}

func (h *handlers) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func corsHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func errorBody(message string) gin.H {
	return gin.H{"status": "error", "message": message}
}
