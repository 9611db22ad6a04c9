package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vibecoderz/mentor/internal/core/model"
)

func buildPrompt(req model.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a short %s-level learning module about %q", req.Difficulty, req.Topic)
	fmt.Fprintf(&b, " for a student whose preferred learning style is %s.\n", req.LearningStyle)
	if len(req.PrerequisiteGaps) > 0 {
		fmt.Fprintf(&b, "The student has not yet mastered these prerequisites, so cover the basics of: %s.\n",
			strings.Join(req.PrerequisiteGaps, ", "))
	}
	b.WriteString(`Respond with a single JSON object describing the module:
{"title": "...", "topic": "...", "slide_count": <int>, "estimated_minutes": <number>}`)
	return b.String()
}

// parseArtifact extracts the JSON object from a model response.
// Providers wrap JSON in prose or code fences often enough that plain
// unmarshal is not reliable.
func parseArtifact(req model.GenerationRequest, response string) (*model.ArtifactDescriptor, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in generator response")
	}

	var parsed struct {
		Title            string  `json:"title"`
		Topic            string  `json:"topic"`
		SlideCount       int     `json:"slide_count"`
		EstimatedMinutes float64 `json:"estimated_minutes"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse artifact JSON: %w", err)
	}

	artifact := &model.ArtifactDescriptor{
		ID:               uuid.NewString(),
		Topic:            parsed.Topic,
		Title:            parsed.Title,
		SlideCount:       parsed.SlideCount,
		EstimatedMinutes: parsed.EstimatedMinutes,
	}
	if artifact.Topic == "" {
		artifact.Topic = req.Topic
	}
	return artifact, nil
}
