package llm

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const (
	DefaultModel        = "gpt-4o-mini"
	DefaultSystemPrompt = "You are an expert interview coach. Answer in the exact format you are asked for."
	// audioFileName only names the multipart part; the API sniffs the container.
	audioFileName = "chunk.webm"
)

// ClientConfig describes how to reach an OpenAI-compatible endpoint.
type ClientConfig struct {
	APIKey  string
	BaseURL string
}

// NewClient builds the shared go-openai client for the generator and the
// transcriber.
func NewClient(cfg ClientConfig) (*openai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c), nil
}

// OpenAIGenerator is the generative collaborator behind the cache fallback.
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       logrus.FieldLogger
}

func NewOpenAIGenerator(client *openai.Client, model, systemPrompt string, logger logrus.FieldLogger) *OpenAIGenerator {
	if model == "" {
		model = DefaultModel
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OpenAIGenerator{
		client:       client,
		model:        model,
		systemPrompt: systemPrompt,
		logger:       logger.WithField("component", "openai_generator"),
	}
}

// Generate sends one chat completion and returns the first choice's text.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: maxTokens,
		Temperature:         temperature,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrGenerationFailure, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailure)
	}

	g.logger.WithFields(logrus.Fields{
		"model":         g.model,
		"finish_reason": resp.Choices[0].FinishReason,
		"tokens":        resp.Usage.TotalTokens,
	}).Debug("completion received")
	return resp.Choices[0].Message.Content, nil
}

// OpenAITranscriber turns audio chunks into question text with Whisper.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAITranscriber(client *openai.Client, model, language string) *OpenAITranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{client: client, model: model, language: language}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: audioFileName,
		Reader:   bytes.NewReader(audio),
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
