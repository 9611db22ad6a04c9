// Package normalize validates raw student-activity events and enriches
// them into the canonical StudentEvent form. It never touches the memory
// store.
package normalize

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vibecoderz/mentor/internal/core/model"
)

// MalformedEventError reports a validation failure. The event is dropped
// with a recorded rejection and never retried.
type MalformedEventError struct {
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: field %q %s", e.Field, e.Reason)
}

func malformed(field, reason string) *MalformedEventError {
	return &MalformedEventError{Field: field, Reason: reason}
}

// Normalizer assigns arrival times that are monotonically non-decreasing
// within its ingestion stream.
type Normalizer struct {
	// Clock may be replaced before use in tests.
	Clock func() time.Time

	mu          sync.Mutex
	lastArrival time.Time
}

func New() *Normalizer {
	return &Normalizer{Clock: func() time.Time { return time.Now().UTC() }}
}

// Normalize validates a raw event and returns its canonical form.
func (n *Normalizer) Normalize(raw model.RawEvent) (*model.StudentEvent, error) {
	if raw.UserID == "" {
		return nil, malformed("user_id", "is required")
	}
	kind := model.EventKind(raw.Kind)
	if !kind.Valid() {
		return nil, malformed("event_type", fmt.Sprintf("unknown kind %q", raw.Kind))
	}
	if raw.Topic == "" {
		return nil, malformed("topic", "is required")
	}

	payload, err := payloadFor(kind, raw.Metadata)
	if err != nil {
		return nil, err
	}

	arrival := n.nextArrival()
	eventTime := raw.EventTime
	if eventTime.IsZero() {
		eventTime = arrival
	}
	if eventTime.After(arrival) {
		return nil, malformed("event_time", "is in the future")
	}

	return &model.StudentEvent{
		UserID:      raw.UserID,
		Kind:        kind,
		Topic:       raw.Topic,
		EventTime:   eventTime,
		ArrivalTime: arrival,
		Payload:     *payload,
	}, nil
}

func (n *Normalizer) nextArrival() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.Clock()
	if now.Before(n.lastArrival) {
		now = n.lastArrival
	}
	n.lastArrival = now
	return now
}

func payloadFor(kind model.EventKind, meta map[string]interface{}) (*model.EventPayload, error) {
	p := &model.EventPayload{}
	switch kind {
	case model.KindQuizFailure:
		score, err := requireUnit(meta, "quiz_score")
		if err != nil {
			return nil, err
		}
		attempts, err := requireCount(meta, "attempts")
		if err != nil {
			return nil, err
		}
		spent, err := requireDuration(meta, "time_spent")
		if err != nil {
			return nil, err
		}
		p.Score = score
		p.Attempts = attempts
		p.TimeSpentSeconds = spent

	case model.KindHelpRequest:
		// Duration is optional context for help requests.
		if spent, ok, err := optionalDuration(meta, "time_spent"); err != nil {
			return nil, err
		} else if ok {
			p.TimeSpentSeconds = spent
		}

	case model.KindSessionTimeout:
		duration, err := requireDuration(meta, "session_duration")
		if err != nil {
			return nil, err
		}
		completion, err := requireUnit(meta, "completion_rate")
		if err != nil {
			return nil, err
		}
		p.SessionDurationSeconds = duration
		p.CompletionRate = completion

	case model.KindConceptRegression:
		decline, err := requireUnit(meta, "performance_decline")
		if err != nil {
			return nil, err
		}
		confidence, err := requireUnit(meta, "confidence_drop")
		if err != nil {
			return nil, err
		}
		p.PerformanceDecline = decline
		p.ConfidenceDrop = confidence
	}
	return p, nil
}

func numberField(meta map[string]interface{}, field string) (float64, bool, error) {
	raw, ok := meta[field]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, malformed(field, "is not numeric")
		}
		return f, true, nil
	default:
		return 0, false, malformed(field, "is not numeric")
	}
}

func requireUnit(meta map[string]interface{}, field string) (float64, error) {
	v, ok, err := numberField(meta, field)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, malformed(field, "is required")
	}
	if v < 0 || v > 1 {
		return 0, malformed(field, "must be within [0,1]")
	}
	return v, nil
}

func requireCount(meta map[string]interface{}, field string) (int, error) {
	v, ok, err := numberField(meta, field)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, malformed(field, "is required")
	}
	if v < 0 {
		return 0, malformed(field, "must not be negative")
	}
	return int(v), nil
}

func requireDuration(meta map[string]interface{}, field string) (float64, error) {
	v, ok, err := numberField(meta, field)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, malformed(field, "is required")
	}
	if v < 0 {
		return 0, malformed(field, "must not be negative")
	}
	return v, nil
}

func optionalDuration(meta map[string]interface{}, field string) (float64, bool, error) {
	v, ok, err := numberField(meta, field)
	if err != nil || !ok {
		return 0, ok, err
	}
	if v < 0 {
		return 0, false, malformed(field, "must not be negative")
	}
	return v, true, nil
}
