package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder throttles calls to an underlying Embedder.
// A batch call consumes a single token.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder wraps inner with a token bucket of rps and burst.
// A non-positive rps returns inner unchanged.
func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// EmbedText waits for a token, then delegates.
func (e *RateLimitedEmbedder) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.EmbedText(ctx, model, text)
}

// EmbedTexts waits for a token, then delegates.
func (e *RateLimitedEmbedder) EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.EmbedTexts(ctx, model, texts)
}
