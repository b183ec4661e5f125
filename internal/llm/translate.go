package llm

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"jobpipe/internal/classify"
	"jobpipe/internal/config"
)

const translationPrompt = `You translate job titles into English.
Translate literally and keep the seniority and specialization.
If the title is already English, return it unchanged.
Reply with the translated title only, without quotes or explanation.`

// OpenAITranslator translates job titles with an OpenAI-compatible chat model.
type OpenAITranslator struct {
	client ChatClient
	model  string
}

// NewOpenAITranslator builds a translator for model.
func NewOpenAITranslator(apiKey, baseURL, model string, httpClient *http.Client) (*OpenAITranslator, error) {
	client, err := newClient(apiKey, baseURL, httpClient)
	if err != nil {
		return nil, err
	}

	return &OpenAITranslator{client: client, model: model}, nil
}

// TranslatorFromConfig builds the translator described by the translation
// section. It uses the classification endpoint and key.
func TranslatorFromConfig(cfg *config.Config) (*OpenAITranslator, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%w: export %s", ErrMissingAPIKey, cfg.Classification.APIKeyEnv)
	}

	return NewOpenAITranslator(key, cfg.Classification.BaseURL, cfg.Translation.Model, nil)
}

// Translate sends one title and returns the reply content.
func (t *OpenAITranslator) Translate(ctx context.Context, text string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: translationPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
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
