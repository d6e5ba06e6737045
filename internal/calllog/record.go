package calllog

import (
	"math"
	"time"
)

// Status is the final disposition of a call.
type Status string

const (
	StatusAnswered  Status = "answered"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the closed set of statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAnswered, StatusBusy, StatusNoAnswer, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Record is a finalized call, handed to a Sink. Records are values and are
// never mutated after NewRecord returns.
type Record struct {
	OriginatingEndpoint string    `json:"originating_endpoint"`
	TerminatingEndpoint string    `json:"terminating_endpoint"`
	StartTime           time.Time `json:"start_time"`
	AnswerTime          time.Time `json:"answer_time,omitzero"`
	EndTime             time.Time `json:"end_time"`
	DurationSeconds     int64     `json:"duration_seconds"`
	Status              Status    `json:"status"`
	HangupCauseCode     int       `json:"hangup_cause_code,omitempty"`
	HangupCauseText     string    `json:"hangup_cause_text,omitempty"`

	// ExternalCorrelationID is the originating channel id. Sinks use it as
	// the idempotency key.
	ExternalCorrelationID string `json:"external_correlation_id"`
}

// Duration returns end-start in whole seconds, floored at zero. It is zero
// when either timestamp is missing.
func Duration(start, end time.Time) int64 {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	secs := math.Floor(end.Sub(start).Seconds())
	if secs < 0 {
		return 0
	}
	return int64(secs)
}

// NewRecord fills in DurationSeconds from the timestamps in r.
func NewRecord(r Record) Record {
	r.DurationSeconds = Duration(r.StartTime, r.EndTime)
	return r
}
