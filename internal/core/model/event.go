package model

import "time"

// EventKind tags a student-activity event with the struggle family it
// belongs to. Kinds arrive pre-tagged from the upstream platform.
type EventKind string

const (
	KindQuizFailure       EventKind = "quiz_failure"
	KindHelpRequest       EventKind = "help_request"
	KindSessionTimeout    EventKind = "session_timeout"
	KindConceptRegression EventKind = "concept_regression"
)

func (k EventKind) Valid() bool {
	switch k {
	case KindQuizFailure, KindHelpRequest, KindSessionTimeout, KindConceptRegression:
		return true
	}
	return false
}

// RawEvent is the inbound wire shape before validation. Metadata carries
// the kind-specific numeric fields exactly as the platform sends them.
type RawEvent struct {
	UserID    string                 `json:"user_id" binding:"required"`
	Kind      string                 `json:"event_type" binding:"required"`
	Topic     string                 `json:"topic" binding:"required"`
	EventTime time.Time              `json:"event_time"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// EventPayload holds the validated kind-specific fields. Only the fields
// relevant to the event's kind are populated.
type EventPayload struct {
	Score                  float64 `json:"score,omitempty"`
	Attempts               int     `json:"attempts,omitempty"`
	TimeSpentSeconds       float64 `json:"time_spent_seconds,omitempty"`
	SessionDurationSeconds float64 `json:"session_duration_seconds,omitempty"`
	CompletionRate         float64 `json:"completion_rate,omitempty"`
	PerformanceDecline     float64 `json:"performance_decline,omitempty"`
	ConfidenceDrop         float64 `json:"confidence_drop,omitempty"`
}

// StudentEvent is the canonical form produced by the normalizer.
// EventTime is when the action happened; ArrivalTime is when this system
// observed it. EventTime never exceeds ArrivalTime, and ArrivalTime is
// non-decreasing within one ingestion stream.
type StudentEvent struct {
	UserID      string       `json:"user_id"`
	Kind        EventKind    `json:"kind"`
	Topic       string       `json:"topic"`
	EventTime   time.Time    `json:"event_time"`
	ArrivalTime time.Time    `json:"arrival_time"`
	Payload     EventPayload `json:"payload"`
}
