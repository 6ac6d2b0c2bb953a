package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"
)

// Provider names accepted by NewGenerator.
const (
	ProviderDisabled  = "disabled"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-2.0-flash"
	defaultMaxTokens   = 2048
	defaultTemperature = 0.3
	defaultTimeout     = 60 * time.Second
)

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxRetries  int
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// HTTPClient overrides the client used by the anthropic provider.
	HTTPClient *http.Client
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}

func (c Config) temperature() float64 {
	if c.Temperature > 0 {
		return c.Temperature
	}
	return defaultTemperature
}

// NewGenerator builds the provider named by cfg.Provider. An empty name
// means disabled.
func NewGenerator(ctx context.Context, cfg Config) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderDisabled:
		return Disabled{}, nil
	case ProviderAnthropic:
		return NewAnthropic(cfg)
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// OpenAI generates text through any OpenAI-compatible endpoint.
type OpenAI struct {
	llm         llms.Model
	maxTokens   int
	temperature float64
	retry       *retrier
}

// NewOpenAI creates an OpenAI-compatible client from cfg.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return &OpenAI{
		llm:         client,
		maxTokens:   cfg.maxTokens(),
		temperature: cfg.temperature(),
		retry:       newRetrier(cfg.MaxRetries),
	}, nil
}

// Generate sends prompt as a single user message.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	return o.retry.do(ctx, func(ctx context.Context) (string, error) {
		text, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
			llms.WithTemperature(o.temperature),
			llms.WithMaxTokens(o.maxTokens),
		)
		if err != nil {
			return "", fmt.Errorf("openai generate: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
}

// Gemini generates text through the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	retry       *retrier
}

// NewGemini creates a Gemini client from cfg.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client:      client,
		model:       model,
		maxTokens:   int32(cfg.maxTokens()),
		temperature: float32(cfg.temperature()),
		retry:       newRetrier(cfg.MaxRetries),
	}, nil
}

// Generate sends prompt as a single user turn.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	return g.retry.do(ctx, func(ctx context.Context) (string, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(g.temperature),
			MaxOutputTokens: g.maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("gemini generate: %w", err)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
}

var (
	_ TextGenerator = Disabled{}
	_ TextGenerator = (*Anthropic)(nil)
	_ TextGenerator = (*OpenAI)(nil)
	_ TextGenerator = (*Gemini)(nil)
)
