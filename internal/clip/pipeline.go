package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"media-clipper/internal/audit"
	"media-clipper/internal/domain"
)

// Progress checkpoints reported by every run.
const (
	percentResolved   = 10
	percentDownloaded = 60
	percentFinalizing = 80
	percentDone       = 100

	streamBuffer = 16
	bytesPerMB   = 1 << 20
)

// Request contains the source, range and execution callbacks for one run.
type Request struct {
	SourceURL string
	Range     domain.TimeRange
	OnEvent   func(event domain.ClipEvent)
	OnLog     func(log CommandLog)
}

// Result describes the finished artifact and the commands that produced it.
type Result struct {
	Title      string       `json:"title"`
	OutputPath string       `json:"outputPath"`
	SizeBytes  int64        `json:"sizeBytes"`
	SizeMB     int64        `json:"sizeMb"`
	Transcoded bool         `json:"transcoded"`
	Logs       []CommandLog `json:"logs"`
}

// Options holds the pipeline collaborators. Nil Audit and Logger fall back to
// no-op implementations.
type Options struct {
	Resolver  Resolver
	Extractor SegmentExtractor
	Inspector Inspector
	Reencoder Reencoder
	Workspace Workspace
	Audit     audit.Sink
	Logger    hclog.Logger

	Now   func() time.Time
	NewID func() (uuid.UUID, error)
}

// Pipeline orchestrates resolve, download, inspect and finalize.
type Pipeline struct {
	resolver  Resolver
	extractor SegmentExtractor
	inspector Inspector
	reencoder Reencoder
	workspace Workspace
	audit     audit.Sink
	logger    hclog.Logger
	now       func() time.Time
	newID     func() (uuid.UUID, error)
	stat      func(name string) (os.FileInfo, error)
}

// New constructs a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		resolver:  opts.Resolver,
		extractor: opts.Extractor,
		inspector: opts.Inspector,
		reencoder: opts.Reencoder,
		workspace: opts.Workspace,
		audit:     opts.Audit,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		stat:      os.Stat,
	}
	if p.audit == nil {
		p.audit = audit.Nop{}
	}
	if p.logger == nil {
		p.logger = hclog.NewNullLogger()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewV7
	}
	return p
}

// Run executes one clip job and blocks until it ends. Every event is also
// delivered to req.OnEvent.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	return p.execute(ctx, req, req.OnEvent)
}

// Stream executes one clip job in the background and delivers its events on
// the returned channel, which is closed after the terminal event. Once ctx
// ends, pending sends are dropped and running tools are killed.
func (p *Pipeline) Stream(ctx context.Context, req Request) <-chan domain.ClipEvent {
	events := make(chan domain.ClipEvent, streamBuffer)
	go func() {
		defer close(events)
		_, _ = p.execute(ctx, req, func(event domain.ClipEvent) {
			if req.OnEvent != nil {
				req.OnEvent(event)
			}
			select {
			case events <- event:
			case <-ctx.Done():
			}
		})
	}()
	return events
}

// runState tracks artifacts and progress of one execution.
type runState struct {
	req     Request
	emit    func(domain.ClipEvent)
	percent int
	logs    []CommandLog

	tempPath    string
	partialPath string
	outputPath  string
}

func (s *runState) progress(stage domain.JobStatus, percent int, message string) {
	if percent < s.percent {
		percent = s.percent
	}
	s.percent = percent
	if s.emit != nil {
		s.emit(domain.ClipEvent{
			Status:  domain.EventStatusProgress,
			Stage:   stage,
			Percent: percent,
			Message: message,
		})
	}
}

func (s *runState) record(log CommandLog) {
	if log.Command == "" {
		return
	}
	s.logs = append(s.logs, log)
	if s.req.OnLog != nil {
		s.req.OnLog(log)
	}
}

func (p *Pipeline) execute(ctx context.Context, req Request, emit func(domain.ClipEvent)) (Result, error) {
	state := &runState{req: req, emit: emit}
	result, err := p.produce(ctx, state)
	if err != nil {
		p.fail(ctx, state, err)
		return Result{}, err
	}

	if emit != nil {
		emit(domain.ClipEvent{
			Status:     domain.EventStatusSuccess,
			Stage:      domain.JobStatusDone,
			Percent:    percentDone,
			Message:    "clip ready",
			OutputPath: result.OutputPath,
			SizeBytes:  result.SizeBytes,
			SizeMB:     result.SizeMB,
		})
	}
	p.logger.Info("clip finished",
		"url", req.SourceURL,
		"path", result.OutputPath,
		"size_bytes", result.SizeBytes,
		"transcoded", result.Transcoded,
	)
	p.recordAudit(ctx, audit.Entry{
		SourceURL:  req.SourceURL,
		Status:     audit.StatusSuccess,
		Message:    fmt.Sprintf("clip ready (%d MB)", result.SizeMB),
		OutputPath: result.OutputPath,
	})
	return result, nil
}

func (p *Pipeline) produce(ctx context.Context, state *runState) (Result, error) {
	req := state.req
	if strings.TrimSpace(req.SourceURL) == "" {
		return Result{}, newPipelineError(string(domain.JobStatusQueued), ErrInvalidRequest, "url is required", CommandLog{}, nil)
	}
	if !req.Range.Valid() {
		return Result{}, newPipelineError(string(domain.JobStatusQueued), ErrInvalidRequest, "start and duration are required", CommandLog{}, nil)
	}
	if err := p.workspace.Ensure(); err != nil {
		return Result{}, newPipelineError(string(domain.JobStatusQueued), ErrArtifact, "cannot prepare work directories", CommandLog{}, err)
	}

	state.progress(domain.JobStatusResolving, 0, "resolving media")
	source, log, err := p.resolver.Resolve(ctx, req.SourceURL)
	state.record(log)
	if err != nil {
		return Result{}, err
	}
	state.progress(domain.JobStatusResolving, percentResolved, fmt.Sprintf("resolved %q", source.Title))

	runID, err := p.newID()
	if err != nil {
		return Result{}, newPipelineError(string(domain.JobStatusDownloading), ErrArtifact, "cannot allocate run id", CommandLog{}, err)
	}
	base := BaseName(source.Title, req.Range, p.now(), runID)
	state.tempPath = p.workspace.TempPath(TempName(base))
	state.outputPath = p.workspace.OutputPath(OutputName(base))
	state.partialPath = p.workspace.PartialPath(OutputName(base))

	state.progress(domain.JobStatusDownloading, percentResolved, "downloading segment")
	log, err = p.extractor.ExtractSegment(ctx, source.StreamLocations, req.Range, state.tempPath, downloadTicker(state, req.Range))
	state.record(log)
	if err != nil {
		return Result{}, err
	}
	if err := p.checkArtifact(ctx, state.tempPath, domain.JobStatusDownloading, "downloaded segment is missing", log); err != nil {
		return Result{}, err
	}
	state.progress(domain.JobStatusInspecting, percentDownloaded, "segment downloaded")

	profile, compatible, log := p.inspector.Inspect(ctx, state.tempPath)
	state.record(log)
	if err := ctx.Err(); err != nil {
		return Result{}, newPipelineError(string(domain.JobStatusInspecting), nil, "clip cancelled", log, err)
	}
	p.logger.Debug("segment inspected",
		"url", req.SourceURL,
		"video_codec", profile.VideoCodec,
		"audio_codec", profile.AudioCodec,
		"compatible", compatible,
	)

	transcoded := false
	if compatible {
		state.progress(domain.JobStatusFinalizing, percentFinalizing, "moving compatible segment into place")
		if err := p.workspace.Promote(state.tempPath, state.outputPath); err != nil {
			return Result{}, newPipelineError(string(domain.JobStatusFinalizing), ErrArtifact, "cannot move segment to output", CommandLog{}, err)
		}
	} else {
		state.progress(domain.JobStatusFinalizing, percentFinalizing, "transcoding for editor compatibility")
		log, err := p.reencoder.Reencode(ctx, state.tempPath, state.partialPath, profile)
		state.record(log)
		if err != nil {
			return Result{}, err
		}
		if err := p.workspace.Promote(state.partialPath, state.outputPath); err != nil {
			return Result{}, newPipelineError(string(domain.JobStatusFinalizing), ErrArtifact, "cannot move transcoded file to output", log, err)
		}
		if err := p.workspace.Remove(state.tempPath); err != nil {
			p.logger.Warn("cannot remove temp segment", "path", state.tempPath, "error", err)
		}
		transcoded = true
	}

	info, err := p.stat(state.outputPath)
	if err != nil || info.IsDir() {
		return Result{}, newPipelineError(string(domain.JobStatusFinalizing), ErrArtifact, "output file is missing after finalizing", CommandLog{}, err)
	}

	return Result{
		Title:      source.Title,
		OutputPath: state.outputPath,
		SizeBytes:  info.Size(),
		SizeMB:     info.Size() / bytesPerMB,
		Transcoded: transcoded,
		Logs:       state.logs,
	}, nil
}

// checkArtifact verifies a tool produced its file, reporting cancellation
// ahead of the missing file.
func (p *Pipeline) checkArtifact(ctx context.Context, path string, stage domain.JobStatus, message string, log CommandLog) error {
	if err := ctx.Err(); err != nil {
		return newPipelineError(string(stage), nil, "clip cancelled", log, err)
	}
	info, err := p.stat(path)
	if err != nil {
		return newPipelineError(string(stage), ErrArtifact, message, log, err)
	}
	if info.IsDir() {
		return newPipelineError(string(stage), ErrArtifact, message, log, fmt.Errorf("%s is a directory", path))
	}
	return nil
}

// fail removes everything the run created and emits the terminal error.
func (p *Pipeline) fail(ctx context.Context, state *runState, err error) {
	if rmErr := p.workspace.Remove(state.tempPath, state.partialPath, state.outputPath); rmErr != nil {
		p.logger.Warn("cannot remove run artifacts", "error", rmErr)
	}

	stage := domain.JobStatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		stage = domain.JobStatusCancelled
	}
	message := ErrorMessage(err)

	if state.emit != nil {
		state.emit(domain.ClipEvent{
			Status:  domain.EventStatusError,
			Stage:   stage,
			Percent: state.percent,
			Message: message,
		})
	}
	p.logger.Error("clip failed", "url", state.req.SourceURL, "stage", stageOf(err), "error", err)
	p.recordAudit(ctx, audit.Entry{
		SourceURL: state.req.SourceURL,
		Status:    audit.StatusError,
		Message:   message,
	})
}

// recordAudit never fails the run and survives a cancelled request context.
func (p *Pipeline) recordAudit(ctx context.Context, entry audit.Entry) {
	entry.Timestamp = p.now().UTC()
	if err := p.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.Warn("audit record failed", "url", entry.SourceURL, "error", err)
	}
}

// downloadTicker scales ffmpeg output positions into the (10, 60) band. It
// returns nil when the duration cannot be parsed.
func downloadTicker(state *runState, r domain.TimeRange) func(time.Duration) {
	total, ok := r.DurationSeconds()
	if !ok || total <= 0 {
		return nil
	}
	span := percentDownloaded - percentResolved
	return func(elapsed time.Duration) {
		fraction := elapsed.Seconds() / total
		percent := percentResolved + int(fraction*float64(span))
		if percent <= percentResolved {
			percent = percentResolved + 1
		}
		if percent >= percentDownloaded {
			percent = percentDownloaded - 1
		}
		if percent <= state.percent {
			return
		}
		state.progress(domain.JobStatusDownloading, percent, "downloading segment")
	}
}

// ErrorMessage returns the user-facing text of a pipeline failure.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "clip cancelled"
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}

func stageOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
