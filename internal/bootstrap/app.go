package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"media-clipper/internal/audit"
	"media-clipper/internal/clip"
	"media-clipper/internal/config"
	"media-clipper/internal/diagnostics"
	"media-clipper/internal/domain"
	"media-clipper/internal/jobs"
	"media-clipper/internal/logging"
	"media-clipper/internal/server"
)

const (
	shutdownTimeout = 30 * time.Second
	eventHistory    = 2000
)

// App wires configuration, jobs, the clip pipeline and the HTTP server.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Logger      hclog.Logger
	Jobs        *jobs.Manager
	Pipeline    pipelineRunner
	Diagnostics domain.DiagnosticReport
	checker     *diagnostics.Checker

	// newPipeline rebuilds Pipeline after settings change. Nil keeps the
	// current pipeline.
	newPipeline func(domain.Settings) pipelineRunner

	auditSink audit.Sink
	auditDB   *audit.DBSink
	events    *jobs.EventBus

	mu      sync.Mutex
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// pipelineRunner isolates the clip pipeline behind an interface.
type pipelineRunner interface {
	Run(ctx context.Context, req clip.Request) (clip.Result, error)
	Stream(ctx context.Context, req clip.Request) <-chan domain.ClipEvent
}

// New builds the application with persisted settings, environment overrides
// and startup diagnostics.
func New() (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewYAMLStore(config.DefaultPath())
	settings, err := loadSettings(store)
	if err != nil {
		return nil, err
	}

	logger := logging.New(settings)
	logger.Debug("settings loaded", "path", store.Path())
	sink, db := openAudit(settings, logger)

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusPass {
			logger.Warn("diagnostic", "id", item.ID, "status", item.Status, "message", item.Message)
		}
	}

	baseCtx, stop := context.WithCancel(context.Background())
	app := &App{
		Settings:    settings,
		Store:       store,
		Logger:      logger,
		Jobs:        jobs.NewManager(settings.MaxConcurrentJobs),
		Diagnostics: report,
		checker:     checker,
		auditSink:   sink,
		auditDB:     db,
		events:      jobs.NewEventBus(eventHistory),
		baseCtx:     baseCtx,
		stop:        stop,
	}
	app.newPipeline = app.buildPipeline
	app.Pipeline = app.buildPipeline(settings)
	return app, nil
}

// loadSettings reads the settings file and overlays CLIPPER_* variables.
func loadSettings(store config.Store) (domain.Settings, error) {
	settings, err := store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings, err = config.ApplyEnv(settings, os.LookupEnv)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("apply environment: %w", err)
	}
	return settings, nil
}

// openAudit combines the configured audit sinks. A sink that cannot be
// opened is logged and skipped.
func openAudit(settings domain.Settings, logger hclog.Logger) (audit.Sink, *audit.DBSink) {
	var sinks audit.Multi
	if settings.AuditLogPath != "" {
		fileSink, err := audit.NewFileSink(settings.AuditLogPath)
		if err != nil {
			logger.Warn("audit log disabled", "path", settings.AuditLogPath, "error", err)
		} else {
			sinks = append(sinks, fileSink)
		}
	}

	var db *audit.DBSink
	if settings.AuditDBPath != "" {
		opened, err := audit.OpenDBSink(settings.AuditDBPath)
		if err != nil {
			logger.Warn("audit database disabled", "path", settings.AuditDBPath, "error", err)
		} else {
			db = opened
			sinks = append(sinks, opened)
		}
	}

	if len(sinks) == 0 {
		return audit.Nop{}, db
	}
	return sinks, db
}

func (a *App) buildPipeline(settings domain.Settings) pipelineRunner {
	logger := a.logger().Named("clip")
	return clip.New(clip.Options{
		Resolver: clip.NewYTDLPResolver(clip.ResolverOptions{
			Executable:  settings.YtDlpPath,
			Format:      settings.StreamFormat,
			CookiesPath: settings.CookiesPath,
			Logger:      logger,
		}),
		Extractor: clip.NewFFmpegExtractor(settings.FFmpegPath),
		Inspector: clip.NewFFprobeInspector(settings.FFprobePath, clip.CompatibilityPolicy{
			AcceptSilentVideo: settings.AcceptSilentVideo,
		}),
		Reencoder: clip.NewFFmpegReencoder(settings.FFmpegPath),
		Workspace: clip.NewWorkspace(settings.TempDir, settings.OutputDir),
		Audit:     a.auditSink,
		Logger:    logger,
	})
}

// Run serves HTTP until ctx ends, then drains in-flight jobs.
func (a *App) Run(ctx context.Context) error {
	deps := server.Deps{
		Clips:       clipService{app: a},
		Jobs:        a,
		Diagnostics: a,
		Logger:      a.logger(),
	}
	if a.auditDB != nil {
		deps.Audit = a.auditDB
	}

	srv := &http.Server{
		Addr:              a.Settings.ListenAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	a.logger().Info("listening", "addr", a.Settings.ListenAddr, "output_dir", a.Settings.OutputDir)

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger().Warn("http shutdown", "error", err)
	}

	return errors.Join(runErr, a.Close())
}

// Close cancels running jobs, waits for their cleanup and closes the audit
// database.
func (a *App) Close() error {
	a.mu.Lock()
	stop := a.stop
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
	a.wg.Wait()

	if a.auditDB != nil {
		return a.auditDB.Close()
	}
	return nil
}

// clipService exposes the current pipeline to the HTTP layer. App.Run
// already serves the process, so the pipeline methods live here.
type clipService struct {
	app *App
}

func (s clipService) Run(ctx context.Context, req clip.Request) (clip.Result, error) {
	return s.app.pipeline().Run(ctx, req)
}

func (s clipService) Stream(ctx context.Context, req clip.Request) <-chan domain.ClipEvent {
	return s.app.pipeline().Stream(ctx, req)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := loadSettings(a.Store)
	if err != nil {
		return domain.DiagnosticReport{}, err
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// StartClipJob registers a job and runs the pipeline for it in the
// background.
func (a *App) StartClipJob(sourceURL string, r domain.TimeRange) (domain.Job, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" || !r.Valid() {
		return domain.Job{}, fmt.Errorf("%w: url, start and duration are required", clip.ErrInvalidRequest)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Job{}, fmt.Errorf("generate job id: %w", err)
	}

	ctx, cancel := context.WithCancel(a.rootContext())
	job, err := a.Jobs.Start(domain.Job{ID: id.String(), SourceURL: sourceURL, Range: r}, cancel)
	if err != nil {
		cancel()
		return domain.Job{}, err
	}

	a.publishStatus(job.ID, domain.JobStatusQueued, "Job queued")
	a.logger().Info("clip job queued", "job_id", job.ID, "active", a.Jobs.ActiveCount())

	a.wg.Add(1)
	go a.runClipJob(ctx, cancel, job)
	return job, nil
}

// ListJobs returns all retained jobs, newest first.
func (a *App) ListJobs() []domain.Job {
	return a.Jobs.List()
}

// GetJob returns one job by id.
func (a *App) GetJob(id string) (domain.Job, bool) {
	return a.Jobs.Get(id)
}

// JobEvents returns one job's events with sequence greater than sinceSeq.
func (a *App) JobEvents(id string, sinceSeq int64) []jobs.Event {
	return a.events.SinceJob(id, sinceSeq)
}

// CancelJob stops a running job. Its pipeline removes partial files.
func (a *App) CancelJob(id string) error {
	if err := a.Jobs.Cancel(id); err != nil {
		return err
	}
	a.publishStatus(id, domain.JobStatusCancelled, "Cancellation requested")
	return nil
}

// runClipJob executes the pipeline and mirrors its events into the job
// record and the event bus.
func (a *App) runClipJob(ctx context.Context, cancel context.CancelFunc, job domain.Job) {
	defer a.wg.Done()
	defer cancel()

	log := a.logger().With("job", job.ID)
	log.Info("clip job started", "url", job.SourceURL, "start", job.Range.Start, "duration", job.Range.Duration)

	result, err := a.pipeline().Run(ctx, clip.Request{
		SourceURL: job.SourceURL,
		Range:     job.Range,
		OnEvent: func(event domain.ClipEvent) {
			if applyErr := a.Jobs.Apply(job.ID, event); applyErr != nil {
				log.Debug("job event not applied", "stage", event.Stage, "error", applyErr)
			}
			a.publishEvent(jobs.EventFromClip(job.ID, event))
		},
		OnLog: func(cmd clip.CommandLog) {
			a.publishEvent(jobs.EventFromLog(job.ID, cmd))
		},
	})
	if err == nil {
		log.Info("clip job finished", "output", result.OutputPath, "size_mb", result.SizeMB, "transcoded", result.Transcoded)
		return
	}

	status := domain.JobStatusFailed
	if errors.Is(err, context.Canceled) {
		status = domain.JobStatusCancelled
	}
	if current, ok := a.Jobs.Get(job.ID); ok && !current.Status.IsTerminal() {
		_ = a.Jobs.Transition(job.ID, status)
	}

	var pipelineErr *clip.PipelineError
	if errors.As(err, &pipelineErr) && pipelineErr.CommandLog.Command != "" {
		a.publishEvent(jobs.EventFromLog(job.ID, pipelineErr.CommandLog))
	}
	log.Warn("clip job ended", "status", status, "error", err)
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

func (a *App) publishEvent(event jobs.Event) {
	a.events.Publish(event)
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	if a.newPipeline != nil {
		a.Pipeline = a.newPipeline(settings)
	}
	return a.Diagnostics
}

func (a *App) pipeline() pipelineRunner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Pipeline
}

func (a *App) rootContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.baseCtx == nil {
		a.baseCtx, a.stop = context.WithCancel(context.Background())
	}
	return a.baseCtx
}

func (a *App) logger() hclog.Logger {
	if a.Logger == nil {
		return hclog.NewNullLogger()
	}
	return a.Logger
}
