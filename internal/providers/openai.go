package providers

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/stockgen-ai/generator/internal/shared/models"
)

// OpenAIBackend talks to an OpenAI-compatible API for both chat completions
// and image generation. Clients are built per call because every attempt may
// run under a different leased credential.
type OpenAIBackend struct {
	baseURL string
}

// NewOpenAIBackend creates a backend. baseURL may be empty to use the
// default OpenAI endpoint.
func NewOpenAIBackend(baseURL string) *OpenAIBackend {
	return &OpenAIBackend{baseURL: baseURL}
}

func (b *OpenAIBackend) client(secret string) *openai.Client {
	cfg := openai.DefaultConfig(secret)
	if b.baseURL != "" {
		cfg.BaseURL = b.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// Complete makes a chat completion request with the full transcript.
func (b *OpenAIBackend) Complete(ctx context.Context, secret, model string, transcript []models.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(transcript))
	for _, turn := range transcript {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	resp, err := b.client(secret).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Message: "empty completion response"}
	}
	return resp.Choices[0].Message.Content, nil
}

// Generate requests one image and returns the hosted URL.
func (b *OpenAIBackend) Generate(ctx context.Context, secret, model, prompt string) (string, error) {
	resp, err := b.client(secret).CreateImage(ctx, openai.ImageRequest{
		Model:          model,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &Error{Message: "empty image response"}
	}
	return resp.Data[0].URL, nil
}

// classify maps client errors into the backend/transport split: anything the
// API answered with is a backend Error, everything else (DNS, timeouts,
// connection resets) passes through untouched.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}
