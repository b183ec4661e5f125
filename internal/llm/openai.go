// Package llm adapts chat-completion APIs to the classify.Classifier and
// translate.Translator interfaces.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"jobpipe/internal/classify"
	"jobpipe/internal/config"
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("classifier API key is not set")

// ChatClient is the subset of the OpenAI client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClassifier classifies texts with an OpenAI-compatible chat model
// using structured JSON output.
type OpenAIClassifier struct {
	client ChatClient
	model  string
}

// NewOpenAIClassifier builds a classifier for model. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the default.
func NewOpenAIClassifier(apiKey, baseURL, model string, httpClient *http.Client) (*OpenAIClassifier, error) {
	client, err := newClient(apiKey, baseURL, httpClient)
	if err != nil {
		return nil, err
	}

	return &OpenAIClassifier{client: client, model: model}, nil
}

func newClient(apiKey, baseURL string, httpClient *http.Client) (*openai.Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return openai.NewClientWithConfig(cfg), nil
}

// FromConfig builds the classifier described by the classification section.
func FromConfig(cfg *config.Config) (*OpenAIClassifier, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%w: export %s", ErrMissingAPIKey, cfg.Classification.APIKeyEnv)
	}

	return NewOpenAIClassifier(key, cfg.Classification.BaseURL, cfg.Classification.Model, nil)
}

// Classify sends one chat completion and returns the reply content.
func (c *OpenAIClassifier) Classify(ctx context.Context, req classify.Request) (string, error) {
	user, err := BuildUserPrompt(req.Texts)
	if err != nil {
		return "", fmt.Errorf("%w: %w", classify.ErrPermanent, err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: BuildSystemPrompt(req.Taxonomies)},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "job_classification",
				Schema: ResponseSchema(req.Taxonomies),
				Strict: true,
			},
		},
	})
	if err != nil {
		return "", classifyError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in reply", classify.ErrMalformedResponse)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("%w: empty content (finish reason %s)", classify.ErrMalformedResponse, resp.Choices[0].FinishReason)
	}

	return content, nil
}

// classifyError maps client errors onto the classify error kinds.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}

	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError

	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		// Network failure before any response.
		return fmt.Errorf("%w: %w", classify.ErrTransient, err)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%w: status %d: %w", classify.ErrTransient, status, err)
	default:
		return fmt.Errorf("%w: status %d: %w", classify.ErrPermanent, status, err)
	}
}
