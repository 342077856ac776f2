package analyzer

import "github.com/kiranshivaraju/handhunter/pkg/models"

// Stream event names sent by the analyzer backend.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one decoded stream event: a ProgressEvent, CompleteEvent,
// ErrorEvent or MalformedEvent.
type Event interface {
	Name() string
}

// ProgressEvent reports segment-local progress in [0, 100].
type ProgressEvent struct {
	Percent float64
}

func (ProgressEvent) Name() string { return EventProgress }

// CompleteEvent carries the hands extracted from the segment.
type CompleteEvent struct {
	Hands []models.ExtractedHand
}

func (CompleteEvent) Name() string { return EventComplete }

// ErrorEvent is a diagnostic from the backend. It does not end the stream.
type ErrorEvent struct {
	Message string
	Raw     string
}

func (ErrorEvent) Name() string { return EventError }

// MalformedEvent is a recognized event whose payload could not be decoded
// or failed validation.
type MalformedEvent struct {
	Event string
	Data  string
	Err   error
}

func (MalformedEvent) Name() string { return "malformed" }
