package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibecoderz/mentor/internal/core/model"
)

func quizEvent() model.RawEvent {
	return model.RawEvent{
		UserID: "u1",
		Kind:   "quiz_failure",
		Topic:  "CSS Flexbox",
		Metadata: map[string]interface{}{
			"quiz_score": 0.4,
			"attempts":   2,
			"time_spent": 200,
		},
	}
}

func TestNormalizeQuizFailure(t *testing.T) {
	n := New()
	ev, err := n.Normalize(quizEvent())
	require.NoError(t, err)
	assert.Equal(t, model.KindQuizFailure, ev.Kind)
	assert.InDelta(t, 0.4, ev.Payload.Score, 1e-9)
	assert.Equal(t, 2, ev.Payload.Attempts)
	assert.InDelta(t, 200, ev.Payload.TimeSpentSeconds, 1e-9)
	assert.False(t, ev.ArrivalTime.IsZero())
	assert.False(t, ev.EventTime.After(ev.ArrivalTime))
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	n := New()

	raw := quizEvent()
	delete(raw.Metadata, "quiz_score")
	_, err := n.Normalize(raw)
	var malformed *MalformedEventError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "quiz_score", malformed.Field)

	raw = quizEvent()
	raw.UserID = ""
	_, err = n.Normalize(raw)
	assert.ErrorAs(t, err, &malformed)

	raw = quizEvent()
	raw.Kind = "page_view"
	_, err = n.Normalize(raw)
	assert.ErrorAs(t, err, &malformed)

	raw = quizEvent()
	raw.Topic = ""
	_, err = n.Normalize(raw)
	assert.ErrorAs(t, err, &malformed)
}

func TestNormalizeRejectsOutOfRangeValues(t *testing.T) {
	n := New()

	raw := quizEvent()
	raw.Metadata["quiz_score"] = 1.4
	_, err := n.Normalize(raw)
	var malformed *MalformedEventError
	require.ErrorAs(t, err, &malformed)

	raw = quizEvent()
	raw.Metadata["time_spent"] = -5
	_, err = n.Normalize(raw)
	assert.ErrorAs(t, err, &malformed)

	raw = model.RawEvent{
		UserID: "u1",
		Kind:   "session_timeout",
		Topic:  "Loops",
		Metadata: map[string]interface{}{
			"session_duration": 400,
			"completion_rate":  1.2,
		},
	}
	_, err = n.Normalize(raw)
	assert.ErrorAs(t, err, &malformed)
}

func TestNormalizeRejectsFutureEventTime(t *testing.T) {
	n := New()
	raw := quizEvent()
	raw.EventTime = time.Now().UTC().Add(time.Hour)
	_, err := n.Normalize(raw)
	var malformed *MalformedEventError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "event_time", malformed.Field)
}

func TestArrivalTimeMonotone(t *testing.T) {
	n := New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	n.Clock = func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	}

	var last time.Time
	for range times {
		ev, err := n.Normalize(model.RawEvent{
			UserID:   "u1",
			Kind:     "help_request",
			Topic:    "Slices",
			Metadata: map[string]interface{}{},
		})
		require.NoError(t, err)
		assert.False(t, ev.ArrivalTime.Before(last))
		last = ev.ArrivalTime
	}
}

func TestNormalizeHelpRequestWithoutMetadata(t *testing.T) {
	n := New()
	ev, err := n.Normalize(model.RawEvent{UserID: "u1", Kind: "help_request", Topic: "Maps"})
	require.NoError(t, err)
	assert.Equal(t, model.KindHelpRequest, ev.Kind)
}

func TestNormalizeConceptRegression(t *testing.T) {
	n := New()
	ev, err := n.Normalize(model.RawEvent{
		UserID: "u1",
		Kind:   "concept_regression",
		Topic:  "Recursion",
		Metadata: map[string]interface{}{
			"performance_decline": 0.25,
			"confidence_drop":     0.35,
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, ev.Payload.PerformanceDecline, 1e-9)
	assert.InDelta(t, 0.35, ev.Payload.ConfidenceDrop, 1e-9)
}
