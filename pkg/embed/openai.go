package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

type OpenAIConfig struct {
	APIKey string
	Model  string
}

// OpenAIProvider generates embeddings through the hosted OpenAI API.
type OpenAIProvider struct {
	config OpenAIConfig
	llm    *openai.LLM
}

func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}

	llm, err := openai.New(
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.Model))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
	}

	return &OpenAIProvider{
		config: config,
		llm:    llm,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("openai returned an empty embedding")
	}
	return embeddings[0], nil
}
