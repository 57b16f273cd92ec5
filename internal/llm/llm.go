package llm

import (
	"ai-meal-calendar/internal/config"
	"ai-meal-calendar/internal/shared"
	"context"
	"fmt"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// Generator produces a JSON document for a system and user prompt. When schema
// is non-nil the backend is asked to constrain its output to it.
type Generator interface {
	Generate(ctx context.Context, system, user string, schema *Schema) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// New returns the Generator selected by cfg.Generator.
func New(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.Generator {
	case config.GeneratorGemini:
		g, err := NewGeminiGenerator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.GeneratorGroq:
		return NewGroqGenerator(cfg), nil
	case config.GeneratorOpenAI:
		return NewOpenAIGenerator(cfg), nil
	}
	return nil, fmt.Errorf("unknown generator %q", cfg.Generator)
}
