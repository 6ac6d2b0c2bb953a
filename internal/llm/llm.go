// Package llm is the text-generation collaborator used to draft and grade rules.
//
// Every provider implements TextGenerator. Callers treat providers as opaque,
// possibly slow, possibly failing oracles: a returned error is expected and
// is handled by degrading, never by aborting a batch.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrDisabled is returned by the disabled provider.
	ErrDisabled = errors.New("text generation is disabled")

	// ErrEmptyResponse indicates the provider returned no text.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// TextGenerator turns a prompt into text.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to TextGenerator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Disabled always fails with ErrDisabled.
type Disabled struct{}

// Generate returns ErrDisabled.
func (Disabled) Generate(context.Context, string) (string, error) {
	return "", ErrDisabled
}

type timeoutGenerator struct {
	next    TextGenerator
	timeout time.Duration
}

// WithTimeout bounds every call to gen by d. A non-positive d returns gen.
func WithTimeout(gen TextGenerator, d time.Duration) TextGenerator {
	if d <= 0 {
		return gen
	}
	return &timeoutGenerator{next: gen, timeout: d}
}

func (t *timeoutGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := t.next.Generate(ctx, prompt)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("generation timed out after %s: %w", t.timeout, ctx.Err())
	}
}

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// retryableError marks a transient failure worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// retrier applies rate limiting and exponential backoff around a call.
type retrier struct {
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newRetrier(maxRetries int) *retrier {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &retrier{
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:  maxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

func (r *retrier) do(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := call(ctx)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
