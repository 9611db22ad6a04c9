package generator

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vibecoderz/mentor/internal/core/model"
)

type ClaudeClient struct {
	client *anthropic.Client
	model  string
}

func NewClaudeClient(apiKey string, modelName string, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}

	return &ClaudeClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  modelName,
	}
}

func (c *ClaudeClient) GenerateArtifact(ctx context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(buildPrompt(req)),
				},
			},
		},
		MaxTokens: 1000,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Content) > 0 && resp.Content[0].Text != nil {
		return parseArtifact(req, *resp.Content[0].Text)
	}
	return nil, fmt.Errorf("no response content")
}
