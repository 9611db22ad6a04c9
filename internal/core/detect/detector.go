// Package detect recognizes struggle signatures in normalized events by
// checking them against the user's recent history.
package detect

import (
	"time"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
)

// Candidate is a recognized struggle signature eligible for intervention,
// referencing the struggle record created for the triggering event.
type Candidate struct {
	StruggleID      string
	Topic           string
	Kind            model.EventKind
	BaseProbability float64
	Escalation      bool
	Type            string
	Focus           string
}

// KindPriority orders evaluation when a payload could satisfy several
// signatures. Events carry a single kind tag, so in practice only one
// condition is checked; the order is kept explicit rather than baked
// into control flow.
var KindPriority = []model.EventKind{
	model.KindQuizFailure,
	model.KindHelpRequest,
	model.KindSessionTimeout,
	model.KindConceptRegression,
}

type Detector struct {
	cfg config.DetectorConfig
}

func New(cfg config.DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// History is the slice of the user's profile the detector needs: the
// latest revisions of past struggles, ordered oldest first.
type History []model.StruggleRecord

// Evaluate checks the event against its kind's trigger condition. It
// returns the struggle record to append (always) and a candidate when
// the condition is met. Events matching no condition are still recorded,
// unresolved, for future correlation.
func (d *Detector) Evaluate(ev *model.StudentEvent, history History) (*model.StruggleRecord, *Candidate) {
	rec := &model.StruggleRecord{
		UserID:     ev.UserID,
		Topic:      ev.Topic,
		Kind:       ev.Kind,
		EventTime:  ev.EventTime,
		Payload:    ev.Payload,
		Resolution: model.ResolutionUnresolved,
	}

	for _, kind := range KindPriority {
		if ev.Kind != kind {
			continue
		}
		if c := d.evaluateKind(kind, ev, history); c != nil {
			return rec, c
		}
		break
	}
	return rec, nil
}

func (d *Detector) evaluateKind(kind model.EventKind, ev *model.StudentEvent, history History) *Candidate {
	switch kind {
	case model.KindQuizFailure:
		return d.quizFailure(ev)
	case model.KindHelpRequest:
		return d.helpRequestBurst(ev, history)
	case model.KindSessionTimeout:
		return d.sessionAbandonment(ev, history)
	case model.KindConceptRegression:
		return d.masteryRegression(ev)
	}
	return nil
}

func (d *Detector) quizFailure(ev *model.StudentEvent) *Candidate {
	p := ev.Payload
	if p.Score < d.cfg.QuizScoreThreshold &&
		p.Attempts >= d.cfg.QuizMinAttempts &&
		p.TimeSpentSeconds >= d.cfg.QuizMinTimeSeconds {
		return &Candidate{
			Topic:           ev.Topic,
			Kind:            ev.Kind,
			BaseProbability: 0.95,
		}
	}
	return nil
}

// helpRequestBurst fires when enough help requests land inside the
// sliding window and they correlate on topic: the share of requests for
// the modal topic must reach the configured correlation threshold.
func (d *Detector) helpRequestBurst(ev *model.StudentEvent, history History) *Candidate {
	cutoff := ev.EventTime.Add(-d.cfg.HelpWindow())

	topics := map[string]int{ev.Topic: 1}
	total := 1
	for _, rec := range history {
		if rec.Kind != model.KindHelpRequest || rec.EventTime.Before(cutoff) {
			continue
		}
		topics[rec.Topic]++
		total++
	}
	if total < d.cfg.HelpMinRequests {
		return nil
	}

	modal := 0
	for _, n := range topics {
		if n > modal {
			modal = n
		}
	}
	if float64(modal)/float64(total) < d.cfg.HelpTopicCorrelation {
		return nil
	}

	return &Candidate{
		Topic:           ev.Topic,
		Kind:            ev.Kind,
		BaseProbability: 0.80,
		Escalation:      true,
	}
}

func (d *Detector) sessionAbandonment(ev *model.StudentEvent, history History) *Candidate {
	p := ev.Payload
	if p.SessionDurationSeconds < d.cfg.TimeoutMinSessionSecs || p.CompletionRate >= d.cfg.TimeoutMaxCompletion {
		return nil
	}

	priorStruggle := false
	for _, rec := range history {
		if rec.Topic == ev.Topic {
			priorStruggle = true
			break
		}
	}
	if !priorStruggle {
		return nil
	}

	return &Candidate{
		Topic:           ev.Topic,
		Kind:            ev.Kind,
		BaseProbability: 0.70,
		Type:            "re_engagement",
	}
}

// masteryRegression trusts the upstream assessment pipeline to compute
// decline over its window; the window length only bounds how stale a
// regression event may be.
func (d *Detector) masteryRegression(ev *model.StudentEvent) *Candidate {
	window := time.Duration(d.cfg.RegressionWindowDays) * 24 * time.Hour
	if ev.ArrivalTime.Sub(ev.EventTime) > window {
		return nil
	}

	p := ev.Payload
	if p.PerformanceDecline >= d.cfg.RegressionMinDecline && p.ConfidenceDrop >= d.cfg.RegressionMinConfidence {
		return &Candidate{
			Topic:           ev.Topic,
			Kind:            ev.Kind,
			BaseProbability: 0.85,
			Focus:           "foundational_review",
		}
	}
	return nil
}
