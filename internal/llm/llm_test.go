package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		ok   bool
		tier Tier
		want string
	}{
		{
			name: "direct object",
			text: `  {"score": 80}  `,
			ok:   true,
			tier: TierDirect,
			want: `{"score": 80}`,
		},
		{
			name: "direct array",
			text: `[{"title":"a"}]`,
			ok:   true,
			tier: TierDirect,
			want: `[{"title":"a"}]`,
		},
		{
			name: "fenced json block",
			text: "Here you go:\n```json\n{\"rules\": []}\n```\nThanks",
			ok:   true,
			tier: TierFenced,
			want: `{"rules": []}`,
		},
		{
			name: "bare fence",
			text: "```\n{\"a\":1}\n```",
			ok:   true,
			tier: TierFenced,
			want: `{"a":1}`,
		},
		{
			name: "brace span in prose",
			text: `The result is {"score": 72, "qualityLevel": "good"} as requested.`,
			ok:   true,
			tier: TierBraceSpan,
			want: `{"score": 72, "qualityLevel": "good"}`,
		},
		{
			name: "longest balanced span when first-to-last fails",
			text: `noise {"a": 1} more {"b": {"c": "}"}} end }`,
			ok:   true,
			tier: TierBraceSpan,
			want: `{"b": {"c": "}"}}`,
		},
		{
			name: "truncated reply",
			text: `{"rules": [{"title": "x"`,
			ok:   false,
		},
		{
			name: "no json",
			text: "I cannot help with that.",
			ok:   false,
		},
		{
			name: "empty",
			text: "   ",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ExtractJSON(tt.text)
			assert.Equal(t, tt.ok, res.OK)
			if !tt.ok {
				assert.NotEmpty(t, res.Reason)
				assert.Nil(t, res.Value)
				return
			}
			assert.Equal(t, tt.tier, res.Tier)
			assert.JSONEq(t, tt.want, string(res.Value))
		})
	}
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestWithTimeout(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	start := time.Now()
	_, err := WithTimeout(slow, 20*time.Millisecond).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	fast := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "ok:" + prompt, nil
	})
	text, err := WithTimeout(fast, time.Second).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok:p", text)

	assert.IsType(t, GeneratorFunc(nil), WithTimeout(fast, 0))
}

func TestNewGenerator(t *testing.T) {
	ctx := context.Background()

	gen, err := NewGenerator(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, gen)

	gen, err = NewGenerator(ctx, Config{Provider: "Disabled"})
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, gen)

	_, err = NewGenerator(ctx, Config{Provider: "cohere"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	for _, p := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini} {
		_, err = NewGenerator(ctx, Config{Provider: p})
		assert.Error(t, err, "provider %s without key", p)
	}

	gen, err = NewGenerator(ctx, Config{Provider: ProviderOpenAI, APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, gen)
}

func newTestAnthropic(t *testing.T, url string) *Anthropic {
	t.Helper()
	a, err := NewAnthropic(Config{APIKey: "test-key", BaseURL: url, MaxRetries: 2})
	require.NoError(t, err)
	a.retry.baseBackoff = time.Millisecond
	return a
}

func TestAnthropic_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))

		body, _ := io.ReadAll(r.Body)
		var req anthropicRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, defaultAnthropicModel, req.Model)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "hello", req.Messages[0].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":true}"}]}`))
	}))
	defer srv.Close()

	text, err := newTestAnthropic(t, srv.URL).Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
}

func TestAnthropic_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"done"}]}`))
	}))
	defer srv.Close()

	text, err := newTestAnthropic(t, srv.URL).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropic_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestAnthropic(t, srv.URL).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropic_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	_, err := newTestAnthropic(t, srv.URL).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, isRetryableError(err))
}

func TestAnthropic_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	_, err := newTestAnthropic(t, srv.URL).Generate(context.Background(), "p")
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}
