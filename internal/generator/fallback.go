package generator

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
)

// Fallbacks holds pre-stored generic artifacts per topic, used when the
// generator stays unavailable after retries. Lookup is case-insensitive.
type Fallbacks struct {
	mu        sync.RWMutex
	artifacts map[string]model.ArtifactDescriptor
}

func NewFallbacks(entries []config.FallbackArtifact) *Fallbacks {
	f := &Fallbacks{artifacts: make(map[string]model.ArtifactDescriptor)}
	for _, e := range entries {
		f.Register(model.ArtifactDescriptor{
			Topic:            e.Topic,
			Title:            e.Title,
			SlideCount:       e.SlideCount,
			EstimatedMinutes: e.EstimatedMinutes,
		})
	}
	return f
}

func (f *Fallbacks) Register(artifact model.ArtifactDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[strings.ToLower(artifact.Topic)] = artifact
}

// Lookup returns a fresh copy of the fallback artifact for the topic,
// stamped with a new id, or false when none is registered.
func (f *Fallbacks) Lookup(topic string) (*model.ArtifactDescriptor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	artifact, ok := f.artifacts[strings.ToLower(topic)]
	if !ok {
		return nil, false
	}
	artifact.ID = uuid.NewString()
	artifact.Fallback = true
	return &artifact, true
}
