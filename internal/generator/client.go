// Package generator holds the clients for the external content-generation
// collaborator. The core only sends constraints (topic, difficulty,
// learning style, prerequisite gaps) and receives an artifact descriptor;
// artifact content is never interpreted here.
package generator

import (
	"context"
	"fmt"

	"github.com/vibecoderz/mentor/internal/core/model"
)

// Client generates one learning artifact for a request.
type Client interface {
	GenerateArtifact(ctx context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error)
}

// GenerationError wraps a generator failure after retries are exhausted.
type GenerationError struct {
	Topic    string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("content generation failed for topic %q after %d attempts: %v", e.Topic, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
