package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ppiankov/concordia/internal/metrics"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/worker"
	"github.com/sashabaranov/go-openai"
)

const defaultMaxRetries = 3

// guardSleepFunc waits between retries (injectable for tests)
var guardSleepFunc = func(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GuardedGenerator rate limits, retries and meters calls to another Generator.
// Final failures come back as model.Error of kind generation naming the backend.
type GuardedGenerator struct {
	inner      Generator
	limiter    *worker.Limiter
	maxRetries int
}

// Guard wraps g. A nil limiter disables rate limiting.
func Guard(g Generator, limiter *worker.Limiter, maxRetries int) *GuardedGenerator {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &GuardedGenerator{inner: g, limiter: limiter, maxRetries: maxRetries}
}

// Name returns the wrapped backend name
func (g *GuardedGenerator) Name() string {
	return g.inner.Name()
}

// Generate calls the wrapped Generate with limits and retries
func (g *GuardedGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return g.call(ctx, "generate", func(ctx context.Context) (string, error) {
		return g.inner.Generate(ctx, prompt, opts)
	})
}

// Chat calls the wrapped Chat with limits and retries
func (g *GuardedGenerator) Chat(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	return g.call(ctx, "chat", func(ctx context.Context) (string, error) {
		return g.inner.Chat(ctx, messages, opts)
	})
}

func (g *GuardedGenerator) call(ctx context.Context, operation string, fn func(context.Context) (string, error)) (string, error) {
	name := g.inner.Name()
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if err := guardSleepFunc(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx, name); err != nil {
				lastErr = err
				break
			}
		}

		started := time.Now()
		out, err := fn(ctx)
		metrics.ObserveBackendCall(name, operation, started, err)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			break
		}
		slog.Debug("retrying backend call", "backend", name, "operation", operation, "attempt", attempt+1, "error", err)
	}

	return "", model.BackendError(model.KindGeneration, name, lastErr)
}

// GuardedEmbedder meters calls to another Embedder and types its errors
type GuardedEmbedder struct {
	inner      Embedder
	maxRetries int
}

// GuardEmbedder wraps e
func GuardEmbedder(e Embedder, maxRetries int) *GuardedEmbedder {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &GuardedEmbedder{inner: e, maxRetries: maxRetries}
}

func (g *GuardedEmbedder) Name() string   { return g.inner.Name() }
func (g *GuardedEmbedder) Dimension() int { return g.inner.Dimension() }

// Embed calls the wrapped embedder with retries
func (g *GuardedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	name := g.inner.Name()
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if err := guardSleepFunc(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		started := time.Now()
		vectors, err := g.inner.Embed(ctx, texts)
		metrics.ObserveBackendCall(name, "embed", started, err)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			break
		}
	}

	return nil, model.BackendError(model.KindEmbedding, name, lastErr)
}

// IsRetryable reports whether err looks transient: timeouts, 429 and 5xx
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var status int
	var openaiErr *openai.APIError
	var openaiReqErr *openai.RequestError
	var anthropicErr *anthropic.Error
	var httpErr *HTTPStatusError
	switch {
	case errors.As(err, &openaiErr):
		status = openaiErr.HTTPStatusCode
	case errors.As(err, &openaiReqErr):
		status = openaiReqErr.HTTPStatusCode
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	case errors.As(err, &httpErr):
		status = httpErr.StatusCode
	default:
		return false
	}

	return status == 429 || status >= 500
}
