package models

import (
	"time"

	"github.com/google/uuid"
)

// SegmentTypeGameplay is the only segment type that gets analyzed.
const SegmentTypeGameplay = "gameplay"

const (
	SegmentStatusPending    = "pending"
	SegmentStatusProcessing = "processing"
	SegmentStatusSuccess    = "success"
	SegmentStatusFailed     = "failed"
)

// Segment is a contiguous time range of the source video, in seconds.
type Segment struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Index int     `json:"index"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Overlaps reports whether two segments share at least one instant.
// Touching endpoints count as overlapping.
func (s Segment) Overlaps(o Segment) bool {
	return s.Start <= o.End && o.Start <= s.End
}

// SegmentResult records the outcome of analyzing one segment.
type SegmentResult struct {
	JobID          uuid.UUID `json:"-"`
	SegmentID      string    `json:"segment_id"`
	SegmentIndex   int       `json:"segment_index"`
	Status         string    `json:"status"`
	HandsFound     int       `json:"hands_found"`
	ErrorMessage   string    `json:"error,omitempty"`
	ProcessingTime float64   `json:"processing_time"`
	UpdatedAt      time.Time `json:"-"`
}
