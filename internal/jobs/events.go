package jobs

import (
	"sync"
	"time"

	"media-clipper/internal/clip"
	"media-clipper/internal/domain"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
	EventTypeResult EventType = "result"
	EventTypeError  EventType = "error"
)

// Event is a sequenced payload consumed by API pollers.
type Event struct {
	Seq        int64            `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"jobId"`
	Type       EventType        `json:"type"`
	Status     domain.JobStatus `json:"status,omitempty"`
	Percent    int              `json:"percent,omitempty"`
	Message    string           `json:"message,omitempty"`
	Command    string           `json:"command,omitempty"`
	Args       []string         `json:"args,omitempty"`
	ExitCode   int              `json:"exitCode,omitempty"`
	Stderr     string           `json:"stderr,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
	SizeBytes  int64            `json:"sizeBytes,omitempty"`
}

// EventFromClip converts one pipeline event into a bus event.
func EventFromClip(jobID string, ev domain.ClipEvent) Event {
	out := Event{
		JobID:      jobID,
		Type:       EventTypeStatus,
		Status:     ev.Stage,
		Percent:    ev.Percent,
		Message:    ev.Message,
		OutputPath: ev.OutputPath,
		SizeBytes:  ev.SizeBytes,
	}
	switch ev.Status {
	case domain.EventStatusSuccess:
		out.Type = EventTypeResult
	case domain.EventStatusError:
		out.Type = EventTypeError
	}
	return out
}

// EventFromLog converts one command log into a bus event. Stdout is left
// out since ffmpeg progress output is large and already reflected in ticks.
func EventFromLog(jobID string, log clip.CommandLog) Event {
	return Event{
		JobID:    jobID,
		Type:     EventTypeLog,
		Command:  log.Command,
		Args:     log.Args,
		ExitCode: log.ExitCode,
		Stderr:   log.Stderr,
	}
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 2000
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// SinceJob returns one job's events with sequence strictly greater than
// seq. An empty jobID matches every job.
func (b *EventBus) SinceJob(jobID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if jobID != "" && event.JobID != jobID {
			continue
		}
		out = append(out, event)
	}
	return out
}
