// Package audit records the outcome of every clip run.
package audit

import (
	"context"
	"errors"
	"time"
)

// Status values written to the audit trail.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one clip run outcome.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	SourceURL  string    `json:"video_url"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	OutputPath string    `json:"output_path,omitempty"`
}

// Sink receives audit entries. Implementations must be safe for
// concurrent use.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Nop discards every entry.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Entry) error { return nil }

// Multi fans entries out to several sinks.
type Multi []Sink

// Record writes to every sink and joins their errors.
func (m Multi) Record(ctx context.Context, entry Entry) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
