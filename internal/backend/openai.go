package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator implements Generator using the OpenAI chat API.
type OpenAIGenerator struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig holds configuration for the OpenAI generator.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional, for Azure or compatible APIs
	DefaultModel string
}

// NewOpenAIGenerator creates an OpenAI-backed generator.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key not provided (set WFC_OPENAI_API_KEY or openai.api_key)")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

// Generate implements Generator. When the request carries an OnDelta
// callback the completion is streamed and fragments are forwarded as they
// arrive.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}

	if req.OnDelta != nil {
		return g.generateStream(ctx, apiReq, req.OnDelta)
	}

	resp, err := g.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) generateStream(ctx context.Context, apiReq openai.ChatCompletionRequest, onDelta func(string)) (string, error) {
	apiReq.Stream = true
	stream, err := g.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return "", fmt.Errorf("openai stream failed: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), fmt.Errorf("openai stream read failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		onDelta(delta)
	}
}

// Name implements Generator.
func (g *OpenAIGenerator) Name() string {
	return "openai"
}

// Close implements Generator.
func (g *OpenAIGenerator) Close() error {
	return nil
}
