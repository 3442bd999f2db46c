package compaction

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatibleProvider backs SummaryProvider with an OpenAI-compatible
// chat completion endpoint, per spec.md §4.4's "dedicated model call" and
// SPEC_FULL.md's DOMAIN STACK ("github.com/sashabaranov/go-openai backs the
// Compaction Controller's summary-model call"). Grounded on the teacher's
// dual-provider convention (Anthropic for the main loop, an
// OpenAI-compatible backend for auxiliary calls).
//
// Constructed eagerly even when misconfigured: an unsupported provider name
// or missing API key is recorded at construction time and surfaced on the
// first Summarize call as a typed error, so Controller.compact can classify
// it into ReasonUnsupportedProvider / ReasonMissingAPIKey instead of the
// generic ReasonSummarizationFailed.
type OpenAICompatibleProvider struct {
	client *openai.Client
	model  string
	err    error
}

// NewOpenAICompatibleProvider builds a SummaryProvider from the agent core's
// LLM configuration. providerName is Config.Agent.SummaryProvider;
// "openai-compatible" is the only value this adapter implements.
func NewOpenAICompatibleProvider(providerName, apiKey, baseURL, model string) *OpenAICompatibleProvider {
	if providerName != "openai-compatible" {
		return &OpenAICompatibleProvider{err: &UnsupportedProviderError{Provider: providerName}}
	}
	if strings.TrimSpace(apiKey) == "" {
		return &OpenAICompatibleProvider{err: ErrMissingSummaryAPIKey}
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompatibleProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

// Summarize implements compaction.SummaryProvider.
func (p *OpenAICompatibleProvider) Summarize(ctx context.Context, prompt string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("compaction: openai-compatible summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("compaction: openai-compatible summarize: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
