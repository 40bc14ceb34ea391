// Package generation turns a slide request into a slide by calling an
// external content generator under a fixed per-attempt timeout, with one
// degraded retry and a deterministic fallback.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slidegate/internal/llm"
)

var (
	// ErrGenerationTimeout marks an attempt that exceeded its budget.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrGenerationExhausted is returned by WithRetry once every attempt failed.
	ErrGenerationExhausted = errors.New("generation exhausted")
	// ErrUnavailable means the generator is known to be down; retrying is
	// pointless until it recovers.
	ErrUnavailable = errors.New("generator unavailable")

	errEmptyOutput = errors.New("generator returned empty output")
)

// Generator is the opaque content generation capability.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// LLMGenerator asks an OpenAI-compatible chat model for a JSON slide.
type LLMGenerator struct {
	client llm.Client
	model  string
}

func NewLLMGenerator(client llm.Client, model string) *LLMGenerator {
	return &LLMGenerator{client: client, model: model}
}

func (g *LLMGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := g.client.ChatCompletion(ctx, &llm.ChatRequest{
		Model: g.model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: p.System},
			{Role: llm.RoleUser, Content: p.User},
		},
		Temperature:    p.Temperature,
		MaxTokens:      p.MaxTokens,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return "", err
	}

	// A length-truncated answer is still handed to the parser, which can
	// usually close it.
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model %s: %w", g.model, errEmptyOutput)
	}
	return text, nil
}
