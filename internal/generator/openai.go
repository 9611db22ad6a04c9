package generator

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/vibecoderz/mentor/internal/core/model"
)

// OpenAIClient also serves any OpenAI-compatible endpoint, including
// local ollama, via BaseURL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey string, modelName string, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  modelName,
	}
}

func (c *OpenAIClient) GenerateArtifact(ctx context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(req),
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) > 0 {
		return parseArtifact(req, resp.Choices[0].Message.Content)
	}
	return nil, fmt.Errorf("no response choices")
}
