package decide

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/detect"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/generator"
	"github.com/vibecoderz/mentor/internal/logger"
)

type fixedRand struct{ v float64 }

func (r fixedRand) Float64() float64 { return r.v }

type stubGenerator struct {
	artifact *model.ArtifactDescriptor
	err      error
	calls    int
}

func (s *stubGenerator) GenerateArtifact(ctx context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.artifact, nil
}

func newEngine(gen generator.Client, fallbacks *generator.Fallbacks, rnd Rand) *Engine {
	if fallbacks == nil {
		fallbacks = generator.NewFallbacks(nil)
	}
	return New(config.Default().Intervention, gen, fallbacks, rnd, logger.NewNop())
}

func TestFinalProbability(t *testing.T) {
	e := newEngine(&stubGenerator{}, nil, fixedRand{})

	assert.InDelta(t, 0.95, e.FinalProbability(0.95, nil), 1e-9)

	eff := 1.0
	assert.InDelta(t, 0.95, e.FinalProbability(0.95, &eff), 1e-9)

	eff = 0.0
	assert.InDelta(t, 0.475, e.FinalProbability(0.95, &eff), 1e-9)

	eff = 0.5
	assert.InDelta(t, 0.7125, e.FinalProbability(0.95, &eff), 1e-9)
}

func TestShouldInterveneUsesInjectedRand(t *testing.T) {
	c := &detect.Candidate{Topic: "CSS Grid", BaseProbability: 0.95}

	e := newEngine(&stubGenerator{}, nil, fixedRand{v: 0.94})
	assert.True(t, e.ShouldIntervene(c, nil))

	e = newEngine(&stubGenerator{}, nil, fixedRand{v: 0.96})
	assert.False(t, e.ShouldIntervene(c, nil))
}

func TestBuildRequestDerivesDifficultyAndGaps(t *testing.T) {
	e := newEngine(&stubGenerator{}, nil, fixedRand{})

	p := &model.UserLearningProfile{
		UserID:      "u1",
		Preferences: []string{"hands_on"},
		Knowledge:   model.NewKnowledgeGraph(),
	}
	p.Knowledge.SetPrerequisites("CSS Grid", []string{"CSS Box Model", "CSS Selectors"})
	p.Knowledge.MarkMastered("CSS Selectors")

	c := &detect.Candidate{Topic: "CSS Grid"}
	req := e.BuildRequest(p, c)
	assert.Equal(t, model.DifficultyIntermediate, req.Difficulty)
	assert.Equal(t, "hands_on", req.LearningStyle)
	assert.Equal(t, []string{"CSS Box Model"}, req.PrerequisiteGaps)

	p.Knowledge.MarkStruggling("CSS Grid")
	req = e.BuildRequest(p, c)
	assert.Equal(t, model.DifficultyBeginner, req.Difficulty)

	p.Knowledge.MarkMastered("CSS Grid")
	req = e.BuildRequest(p, c)
	assert.Equal(t, model.DifficultyAdvanced, req.Difficulty)

	// No preference learned yet: default style.
	p.Preferences = nil
	req = e.BuildRequest(p, c)
	assert.Equal(t, "visual", req.LearningStyle)
}

func TestGenerateSuccess(t *testing.T) {
	gen := &stubGenerator{artifact: &model.ArtifactDescriptor{ID: "a1", Topic: "CSS Grid"}}
	e := newEngine(gen, nil, fixedRand{})

	artifact, err := e.Generate(context.Background(), model.GenerationRequest{Topic: "CSS Grid"})
	require.NoError(t, err)
	assert.Equal(t, "a1", artifact.ID)
}

func TestGenerateFallsBack(t *testing.T) {
	gen := &stubGenerator{err: &generator.GenerationError{Topic: "CSS Grid", Attempts: 3, Err: errors.New("timeout")}}
	fallbacks := generator.NewFallbacks([]config.FallbackArtifact{
		{Topic: "CSS Grid", Title: "CSS Grid Primer", SlideCount: 4},
	})
	e := newEngine(gen, fallbacks, fixedRand{})

	artifact, err := e.Generate(context.Background(), model.GenerationRequest{Topic: "CSS Grid"})
	require.NoError(t, err)
	assert.True(t, artifact.Fallback)
	assert.Equal(t, "CSS Grid Primer", artifact.Title)
}

func TestGenerateNoFallback(t *testing.T) {
	gen := &stubGenerator{err: &generator.GenerationError{Topic: "CSS Grid", Attempts: 3, Err: errors.New("timeout")}}
	e := newEngine(gen, nil, fixedRand{})

	_, err := e.Generate(context.Background(), model.GenerationRequest{Topic: "CSS Grid"})
	var genErr *generator.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 3, genErr.Attempts)
}
