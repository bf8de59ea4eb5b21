package embed

import (
	"context"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/clinrag/clinrag/internal/logging"
)

// Provider converts text into a vector of its own native dimension.
// "Unavailable" is an expected outcome, reported as an error and handled
// by the chain, never by the caller.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChainConfig struct {
	TargetDim       int
	ProviderTimeout time.Duration
	RateLimit       float64 // requests per second against network providers
	MaxInputChars   int
}

// Chain tries configured providers in order and reconciles every result
// to the target dimension. It always ends in the deterministic local
// generator, so Embed cannot fail.
type Chain struct {
	config    ChainConfig
	providers []Provider
	fallback  *LocalProvider
	limiter   *rate.Limiter
}

func NewChain(config ChainConfig, providers ...Provider) *Chain {
	if config.TargetDim == 0 {
		config.TargetDim = 1024
	}
	if config.ProviderTimeout == 0 {
		config.ProviderTimeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5.0
	}
	if config.MaxInputChars == 0 {
		config.MaxInputChars = 8000
	}

	return &Chain{
		config:    config,
		providers: providers,
		fallback:  NewLocalProvider(config.TargetDim),
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Embed returns a vector of exactly TargetDim components for the text.
func (c *Chain) Embed(ctx context.Context, text string) []float32 {
	if len(text) > c.config.MaxInputChars {
		text = truncateRunes(text, c.config.MaxInputChars)
	}

	for _, provider := range c.providers {
		vector, err := c.tryProvider(ctx, provider, text)
		if err != nil {
			logging.Logger().Warn("embed: provider unavailable, falling through",
				"provider", provider.Name(), "error", err)
			continue
		}
		if len(vector) == 0 {
			continue
		}
		return fitDimension(vector, c.config.TargetDim)
	}

	vector, _ := c.fallback.Embed(ctx, text)
	return fitDimension(vector, c.config.TargetDim)
}

// TargetDim reports the dimension every returned vector has.
func (c *Chain) TargetDim() int {
	return c.config.TargetDim
}

func (c *Chain) tryProvider(ctx context.Context, provider Provider, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.config.ProviderTimeout)
	defer cancel()
	return provider.Embed(callCtx, text)
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// fitDimension reconciles a native-dimension vector to dim: truncate
// when longer, cyclically repeat the vector's own values when shorter.
// Applied uniformly so vectors from different providers stay comparable.
func fitDimension(vector []float32, dim int) []float32 {
	if len(vector) == 0 {
		return make([]float32, dim)
	}
	if len(vector) == dim {
		return vector
	}
	if len(vector) > dim {
		return vector[:dim]
	}

	fitted := make([]float32, dim)
	copy(fitted, vector)
	for i := len(vector); i < dim; i++ {
		fitted[i] = vector[i%len(vector)]
	}
	return fitted
}
