// Package decide turns an admitted struggle candidate into a content
// request. The probability draw is the only nondeterministic point in
// the pipeline and is injected so decision logic stays testable.
package decide

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/detect"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/generator"
	"github.com/vibecoderz/mentor/internal/logger"
)

// Rand is the injectable randomness source for the probability draw.
type Rand interface {
	Float64() float64
}

type Engine struct {
	cfg       config.InterventionConfig
	generator generator.Client
	fallbacks *generator.Fallbacks
	rand      Rand
	log       *logger.Logger
}

func New(cfg config.InterventionConfig, gen generator.Client, fallbacks *generator.Fallbacks, rnd Rand, log *logger.Logger) *Engine {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:       cfg,
		generator: gen,
		fallbacks: fallbacks,
		rand:      rnd,
		log:       log.With("service", "decision"),
	}
}

// FinalProbability adjusts the candidate's base probability by the
// user's historical effectiveness for the topic. Without history the
// base applies unmodified; with history the scale runs from 0.5x (past
// interventions never helped) to 1.0x (always helped).
func (e *Engine) FinalProbability(base float64, topicEffectiveness *float64) float64 {
	if topicEffectiveness == nil {
		return base
	}
	return base * (0.5 + 0.5**topicEffectiveness)
}

// ShouldIntervene draws against the final probability.
func (e *Engine) ShouldIntervene(c *detect.Candidate, topicEffectiveness *float64) bool {
	return e.rand.Float64() < e.FinalProbability(c.BaseProbability, topicEffectiveness)
}

// BuildRequest captures everything generation needs from the profile so
// the per-user lock can be released before the long-latency call.
func (e *Engine) BuildRequest(profile *model.UserLearningProfile, c *detect.Candidate) model.GenerationRequest {
	return model.GenerationRequest{
		UserID:           profile.UserID,
		Topic:            c.Topic,
		Difficulty:       profile.Knowledge.DifficultyFor(c.Topic),
		LearningStyle:    profile.LearningStyle(),
		PrerequisiteGaps: profile.Knowledge.Gaps(c.Topic),
	}
}

// Generate calls the external generator; on exhausted retries it falls
// back to a pre-stored generic artifact for the topic when one exists.
// The returned error is a *generator.GenerationError when nothing could
// be produced; the candidate then stays unresolved for manual follow-up.
func (e *Engine) Generate(ctx context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error) {
	artifact, err := e.generator.GenerateArtifact(ctx, req)
	if err == nil {
		return artifact, nil
	}

	var genErr *generator.GenerationError
	if !errors.As(err, &genErr) {
		genErr = &generator.GenerationError{Topic: req.Topic, Attempts: 1, Err: err}
	}

	if fb, ok := e.fallbacks.Lookup(req.Topic); ok {
		e.log.Warn("generator exhausted, using fallback artifact",
			"topic", req.Topic, "attempts", genErr.Attempts)
		return fb, nil
	}

	e.log.Error("generation failed with no fallback available",
		"topic", req.Topic, "attempts", genErr.Attempts, "error", genErr.Err)
	return nil, genErr
}

// NewIntervention assembles the record persisted for an emitted
// intervention. The delivery timestamp is stamped by the store when the
// record is appended.
func (e *Engine) NewIntervention(userID, struggleID string, artifact *model.ArtifactDescriptor) *model.InterventionRecord {
	return &model.InterventionRecord{
		UserID:     userID,
		StruggleID: struggleID,
		Topic:      artifact.Topic,
		Artifact:   *artifact,
	}
}

// NewDelivery builds the instruction for the delivery collaborator.
func (e *Engine) NewDelivery(rec *model.InterventionRecord) *model.DeliveryInstruction {
	return &model.DeliveryInstruction{
		InterventionID: rec.ID,
		UserID:         rec.UserID,
		Artifact:       rec.Artifact,
		ChannelHint:    e.cfg.DeliveryChannel,
	}
}
