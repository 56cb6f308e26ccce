package clip

import (
	"errors"
	"fmt"
)

// Error kinds carried by PipelineError. Match them with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid clip request")
	ErrResolution     = errors.New("media resolution failed")
	ErrDownload       = errors.New("segment download failed")
	ErrTranscode      = errors.New("transcode failed")
	ErrArtifact       = errors.New("artifact handling failed")
)

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string     `json:"stage"`
	Kind       error      `json:"-"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats pipeline failures for logs and API responses.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the error kind so callers can test errors.Is(err, ErrDownload).
func (e *PipelineError) Is(target error) bool {
	if e == nil || e.Kind == nil {
		return false
	}
	return e.Kind == target
}

func newPipelineError(stage string, kind error, message string, log CommandLog, cause error) *PipelineError {
	return &PipelineError{
		Stage:      stage,
		Kind:       kind,
		Message:    message,
		CommandLog: log,
		Err:        cause,
	}
}
