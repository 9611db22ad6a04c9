package generator

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/vibecoderz/mentor/internal/core/model"
)

// GeminiClient is the default generator; the original deployment ran on
// Gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey string, modelName string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiClient{
		client: client,
		model:  modelName,
	}, nil
}

func (c *GeminiClient) GenerateArtifact(ctx context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error) {
	m := c.client.GenerativeModel(c.model)
	resp, err := m.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		if txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text); ok {
			return parseArtifact(req, string(txt))
		}
	}

	return nil, fmt.Errorf("no response candidates or content")
}
