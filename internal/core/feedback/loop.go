// Package feedback closes the learning loop: engagement signals arriving
// at unpredictable future times are applied to their intervention record
// and folded into the user's rolling effectiveness scores.
package feedback

import (
	"context"
	"errors"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/logger"
	"github.com/vibecoderz/mentor/internal/memory"
)

// ConceptSink receives mastery changes for durable persistence outside
// the store. Calls must not block on user locks.
type ConceptSink interface {
	PersistConcept(userID, concept, status string)
}

// Loop consumes feedback signals from a buffered channel. Signals for
// unknown or already-finalized interventions are logged and discarded;
// duplicates are therefore no-ops. Feedback is best-effort and never
// affects the already-delivered intervention.
type Loop struct {
	store  *memory.Store
	weight float64
	log    *logger.Logger

	// Sink, when set, is told about concepts promoted to mastered.
	Sink ConceptSink

	signals chan model.FeedbackSignal
	done    chan struct{}
}

func NewLoop(store *memory.Store, cfg config.InterventionConfig, log *logger.Logger) *Loop {
	return &Loop{
		store:   store,
		weight:  cfg.EffectivenessWeight,
		log:     log.With("service", "feedback"),
		signals: make(chan model.FeedbackSignal, 256),
		done:    make(chan struct{}),
	}
}

// Submit queues a signal for asynchronous processing. It returns false
// when the loop is shut down or the buffer is full; the caller may then
// apply synchronously or drop.
func (l *Loop) Submit(sig model.FeedbackSignal) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.signals <- sig:
		return true
	default:
		return false
	}
}

// Run consumes signals until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-l.signals:
			l.Apply(sig)
		}
	}
}

// Apply writes one signal into the store. Exposed for synchronous use
// and tests; Run calls it for every consumed signal.
func (l *Loop) Apply(sig model.FeedbackSignal) {
	userID, err := l.store.UserForIntervention(sig.InterventionID)
	if err != nil {
		l.discardOrWarn(sig, err)
		return
	}

	mastered := ""
	err = l.store.Turn(userID, func(t *memory.Txn) error {
		rec, err := t.FinalizeIntervention(sig.InterventionID, model.EngagementMetrics{
			Opened:           sig.Opened,
			CompletionRate:   sig.CompletionRate,
			TimeSpentMinutes: sig.TimeSpentMinutes,
			QuizImprovement:  sig.QuizImprovement,
		})
		if err != nil {
			return err
		}

		sample := effectivenessSample(rec.Metrics)
		p := t.Profile()
		p.TopicEffectiveness[rec.Topic] = ewma(p.TopicEffectiveness, rec.Topic, sample, l.weight)
		p.Engagement = blend(p.Engagement, engagementSample(rec.Metrics), l.weight)
		if sig.QuizImprovement != nil {
			p.LearningVelocity = blend(p.LearningVelocity, clamp01(0.5+*sig.QuizImprovement), l.weight)
			if *sig.QuizImprovement > 0.1 {
				p.Knowledge.MarkMastered(rec.Topic)
				mastered = rec.Topic
			}
		}

		if rec.StruggleID != "" {
			s := sample
			if err := t.UpdateStruggleResolution(rec.StruggleID, model.ResolutionInterventionProvided, &s); err != nil {
				l.log.Warn("failed to score struggle",
					"struggle_id", rec.StruggleID, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		l.discardOrWarn(sig, err)
		return
	}

	if mastered != "" && l.Sink != nil {
		l.Sink.PersistConcept(userID, mastered, "mastered")
	}

	l.log.Info("feedback applied",
		"intervention_id", sig.InterventionID, "user_id", userID)
}

func (l *Loop) discardOrWarn(sig model.FeedbackSignal, err error) {
	if errors.Is(err, memory.ErrStaleFeedback) {
		l.log.Info("stale feedback discarded", "intervention_id", sig.InterventionID)
		return
	}
	l.log.Warn("feedback not applied",
		"intervention_id", sig.InterventionID, "error", err)
}

// effectivenessSample condenses engagement metrics into one [0,1] score.
// An unopened intervention scores zero regardless of the other fields.
func effectivenessSample(m *model.EngagementMetrics) float64 {
	if !m.Opened {
		return 0
	}
	sample := 0.3 + 0.4*clamp01(m.CompletionRate)
	if m.QuizImprovement != nil {
		sample += 0.3 * clamp01(0.5+*m.QuizImprovement)
	} else {
		sample += 0.15
	}
	return clamp01(sample)
}

func engagementSample(m *model.EngagementMetrics) float64 {
	if !m.Opened {
		return 0
	}
	return clamp01(0.4 + 0.6*m.CompletionRate)
}

// ewma seeds the average with the first sample, then applies
// new = w*sample + (1-w)*old.
func ewma(scores map[string]float64, topic string, sample, weight float64) float64 {
	old, ok := scores[topic]
	if !ok {
		return sample
	}
	return blend(old, sample, weight)
}

func blend(old, sample, weight float64) float64 {
	return clamp01(weight*sample + (1-weight)*old)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
