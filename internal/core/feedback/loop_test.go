package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/logger"
	"github.com/vibecoderz/mentor/internal/memory"
)

func setup(t *testing.T) (*Loop, *memory.Store, string, string) {
	t.Helper()
	store := memory.New(config.Default().Intervention, logger.NewNop())
	loop := NewLoop(store, config.Default().Intervention, logger.NewNop())

	var struggleID, interventionID string
	require.NoError(t, store.Turn("u1", func(tx *memory.Txn) error {
		rec := &model.StruggleRecord{Topic: "CSS Grid", Kind: model.KindQuizFailure}
		tx.AppendStruggle(rec)
		struggleID = rec.ID

		iv := &model.InterventionRecord{
			StruggleID: rec.ID,
			Topic:      "CSS Grid",
			Artifact:   model.ArtifactDescriptor{Topic: "CSS Grid"},
		}
		tx.AppendIntervention(iv)
		interventionID = iv.ID
		return tx.UpdateStruggleResolution(rec.ID, model.ResolutionInterventionProvided, nil)
	}))
	return loop, store, struggleID, interventionID
}

func TestApplyUpdatesProfile(t *testing.T) {
	loop, store, _, interventionID := setup(t)

	delta := 0.3
	loop.Apply(model.FeedbackSignal{
		InterventionID:   interventionID,
		Opened:           true,
		CompletionRate:   0.9,
		TimeSpentMinutes: 12,
		QuizImprovement:  &delta,
	})

	p, err := store.GetProfile("u1")
	require.NoError(t, err)

	require.NotNil(t, p.Interventions[0].Metrics)
	assert.True(t, p.Interventions[0].Metrics.Opened)
	assert.InDelta(t, 0.9, p.Interventions[0].Metrics.CompletionRate, 1e-9)

	// First sample seeds the topic effectiveness directly.
	eff := p.TopicEffectiveness["CSS Grid"]
	assert.InDelta(t, 0.3+0.4*0.9+0.3*0.8, eff, 1e-9)

	// The linked struggle carries the same score.
	require.NotNil(t, p.Struggles[0].Effectiveness)
	assert.InDelta(t, eff, *p.Struggles[0].Effectiveness, 1e-9)
	assert.Equal(t, model.ResolutionInterventionProvided, p.Struggles[0].Resolution)

	// Clear improvement marks the concept mastered.
	assert.True(t, p.Knowledge.Mastered["CSS Grid"])
}

func TestApplyIsIdempotent(t *testing.T) {
	loop, store, _, interventionID := setup(t)

	loop.Apply(model.FeedbackSignal{InterventionID: interventionID, Opened: true, CompletionRate: 0.9})
	before, err := store.GetProfile("u1")
	require.NoError(t, err)

	// Second signal with different numbers is a no-op.
	loop.Apply(model.FeedbackSignal{InterventionID: interventionID, Opened: true, CompletionRate: 0.1})
	after, err := store.GetProfile("u1")
	require.NoError(t, err)

	assert.Equal(t, before.Interventions, after.Interventions)
	assert.Equal(t, before.TopicEffectiveness, after.TopicEffectiveness)
	assert.InDelta(t, before.Engagement, after.Engagement, 1e-9)
}

func TestApplyUnknownInterventionDiscarded(t *testing.T) {
	loop, store, _, _ := setup(t)

	loop.Apply(model.FeedbackSignal{InterventionID: "int_unknown", Opened: true, CompletionRate: 1})

	p, err := store.GetProfile("u1")
	require.NoError(t, err)
	assert.Nil(t, p.Interventions[0].Metrics)
	assert.Empty(t, p.TopicEffectiveness)
}

func TestEffectivenessEWMA(t *testing.T) {
	loop, store, _, interventionID := setup(t)

	// Seed with a strong outcome.
	loop.Apply(model.FeedbackSignal{InterventionID: interventionID, Opened: true, CompletionRate: 1})
	p, err := store.GetProfile("u1")
	require.NoError(t, err)
	seeded := p.TopicEffectiveness["CSS Grid"]
	assert.InDelta(t, 0.85, seeded, 1e-9)

	// A second intervention on the topic with a weak outcome decays the
	// score by the configured weight rather than replacing it.
	var secondID string
	require.NoError(t, store.Turn("u1", func(tx *memory.Txn) error {
		iv := &model.InterventionRecord{Topic: "CSS Grid"}
		tx.AppendIntervention(iv)
		secondID = iv.ID
		return nil
	}))
	loop.Apply(model.FeedbackSignal{InterventionID: secondID, Opened: false})

	p, err = store.GetProfile("u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.7*seeded, p.TopicEffectiveness["CSS Grid"], 1e-9)
}

func TestUnopenedInterventionScoresZero(t *testing.T) {
	delta := 0.4
	m := &model.EngagementMetrics{Opened: false, CompletionRate: 1, QuizImprovement: &delta}
	assert.Zero(t, effectivenessSample(m))
	assert.Zero(t, engagementSample(m))
}
