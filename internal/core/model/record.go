package model

import "time"

// Resolution is the lifecycle state of a StruggleRecord. Transitions are
// forward-only: unresolved may become intervention_provided or
// self_resolved; terminal states never change.
type Resolution string

const (
	ResolutionUnresolved           Resolution = "unresolved"
	ResolutionInterventionProvided Resolution = "intervention_provided"
	ResolutionSelfResolved         Resolution = "self_resolved"
)

// CanTransitionTo reports whether moving from r to next is a legal
// forward transition.
func (r Resolution) CanTransitionTo(next Resolution) bool {
	if r == next {
		return false
	}
	return r == ResolutionUnresolved
}

// StruggleRecord captures one recognized or recorded student difficulty.
// EventTime is when the underlying action occurred, ObservedAt is when
// the system wrote this revision; the pair supports "what did we know
// when" queries.
type StruggleRecord struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Topic         string       `json:"topic"`
	Kind          EventKind    `json:"kind"`
	EventTime     time.Time    `json:"event_time"`
	ObservedAt    time.Time    `json:"observed_at"`
	Payload       EventPayload `json:"payload"`
	Resolution    Resolution   `json:"resolution"`
	Effectiveness *float64     `json:"effectiveness,omitempty"`
	Anonymized    bool         `json:"anonymized,omitempty"`
}

// EngagementMetrics arrives from the engagement tracker some time after
// delivery. QuizImprovement is a delta in [-1,1] and may lag the rest.
type EngagementMetrics struct {
	Opened           bool     `json:"opened"`
	CompletionRate   float64  `json:"completion_rate"`
	TimeSpentMinutes float64  `json:"time_spent_minutes"`
	QuizImprovement  *float64 `json:"quiz_improvement,omitempty"`
}

// ArtifactDescriptor describes a generated learning artifact. The content
// itself is opaque to this core; only topic and size metadata are kept.
type ArtifactDescriptor struct {
	ID               string  `json:"id"`
	Topic            string  `json:"topic"`
	Title            string  `json:"title,omitempty"`
	SlideCount       int     `json:"slide_count"`
	EstimatedMinutes float64 `json:"estimated_minutes"`
	Fallback         bool    `json:"fallback,omitempty"`
}

// InterventionRecord is created the moment an intervention is emitted.
// Metrics stays nil until the first feedback signal is applied; once set
// the record is finalized and further feedback is discarded.
type InterventionRecord struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	StruggleID  string             `json:"struggle_id"`
	Topic       string             `json:"topic"`
	Artifact    ArtifactDescriptor `json:"artifact"`
	DeliveredAt time.Time          `json:"delivered_at"`
	ObservedAt  time.Time          `json:"observed_at"`
	Metrics     *EngagementMetrics `json:"metrics,omitempty"`
}

// Finalized reports whether feedback has already been applied.
func (r *InterventionRecord) Finalized() bool { return r.Metrics != nil }

// FeedbackSignal is one engagement-tracker message, keyed by intervention
// id. Delivery may be duplicated or out of order.
type FeedbackSignal struct {
	InterventionID   string   `json:"intervention_id" binding:"required"`
	Opened           bool     `json:"opened"`
	CompletionRate   float64  `json:"completion_rate"`
	TimeSpentMinutes float64  `json:"time_spent_minutes"`
	QuizImprovement  *float64 `json:"quiz_improvement,omitempty"`
}
