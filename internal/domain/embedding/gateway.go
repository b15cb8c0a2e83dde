package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// ErrProviderUnavailable is returned when the provider stayed
// unreachable through every retry attempt. The caller decides what
// to do with the unembedded texts; the gateway never fabricates
// partial output.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// Result carries the outcome for one input text. Err is set only for
// permanent, per-item rejections; transient failures fail the whole
// call instead.
type Result struct {
	Vector []float32
	Err    error
}

// Gateway wraps a provider Client with batching, bounded retry and
// per-item failure isolation.
type Gateway struct {
	client         Client
	batchSize      int
	maxRetries     uint64
	timeout        time.Duration
	initialBackoff time.Duration
}

func NewGateway(client Client, batchSize, maxRetries int, timeout time.Duration) *Gateway {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Gateway{
		client:         client,
		batchSize:      batchSize,
		maxRetries:     uint64(maxRetries),
		timeout:        timeout,
		initialBackoff: 200 * time.Millisecond,
	}
}

func (g *Gateway) Dimension() int {
	return g.client.Dimension()
}

// EmbedBatch embeds texts in provider-sized batches. The returned
// slice has one Result per input, in input order.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))

	for lo := 0; lo < len(texts); lo += g.batchSize {
		hi := lo + g.batchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		if err := g.embedSlice(ctx, texts[lo:hi], results[lo:hi]); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// EmbedSingle embeds one text, typically a search query.
func (g *Gateway) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	results, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	return results[0].Vector, nil
}

func (g *Gateway) embedSlice(ctx context.Context, texts []string, results []Result) error {
	vectors, err := g.embedWithRetry(ctx, texts)
	if err == nil {
		for i := range vectors {
			results[i].Vector = vectors[i]
		}
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Permanent() {
		if len(texts) == 1 {
			log.Warn().Err(err).Msg("Provider rejected input, skipping item")
			results[0].Err = err
			return nil
		}
		// The provider rejects whole requests; bisect to pin the
		// rejection on the offending items only.
		mid := len(texts) / 2
		if err := g.embedSlice(ctx, texts[:mid], results[:mid]); err != nil {
			return err
		}
		return g.embedSlice(ctx, texts[mid:], results[mid:])
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

func (g *Gateway) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		out, err := g.client.Embed(callCtx, texts)
		if err != nil {
			var providerErr *ProviderError
			if errors.As(err, &providerErr) && providerErr.Permanent() {
				return backoff.Permanent(err)
			}
			log.Debug().Err(err).Int("batch_size", len(texts)).Msg("Embedding attempt failed, will retry")
			return err
		}

		vectors = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.initialBackoff
	policy.MaxInterval = 5 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, g.maxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
