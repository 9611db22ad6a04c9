package generator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/logger"
)

// Retrying wraps a Client with per-call timeout and bounded exponential
// backoff. After the attempt budget is spent it returns a
// *GenerationError so callers can fall back.
type Retrying struct {
	inner       Client
	maxAttempts int
	callTimeout time.Duration
	initialWait time.Duration
	log         *logger.Logger
}

func NewRetrying(inner Client, cfg config.GeneratorConfig, log *logger.Logger) *Retrying {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{
		inner:       inner,
		maxAttempts: attempts,
		callTimeout: cfg.Timeout(),
		initialWait: 500 * time.Millisecond,
		log:         log.With("service", "generator"),
	}
}

func (r *Retrying) GenerateArtifact(ctx context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialWait

	attempt := 0
	operation := func() (*model.ArtifactDescriptor, error) {
		attempt++
		callCtx := ctx
		if r.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
		}
		artifact, err := r.inner.GenerateArtifact(callCtx, req)
		if err != nil {
			r.log.Warn("generation attempt failed",
				"topic", req.Topic, "attempt", attempt, "error", err)
			return nil, err
		}
		return artifact, nil
	}

	artifact, err := backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxAttempts-1)), ctx))
	if err != nil {
		return nil, &GenerationError{Topic: req.Topic, Attempts: attempt, Err: err}
	}
	return artifact, nil
}
