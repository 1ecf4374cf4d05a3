package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	// envMaxRPS caps outgoing LLM requests per second; 0 disables the cap.
	envMaxRPS     = "LLM_MAX_RPS"
	defaultMaxRPS = 2.0
)

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System   string
	Messages []Message
	// Images are attached to the last user message.
	Images      []Image
	Temperature float32
	MaxTokens   int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Image is an inline picture, usually a PNG screenshot.
type Image struct {
	MediaType string
	Data      []byte
}

type Response struct {
	Text string
}

// NewClient builds the client for provider using API keys and model
// overrides from the environment. An empty provider means anthropic.
func NewClient(provider string, logger zerolog.Logger) (Client, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderAnthropic
	}
	logger = logger.With().Str("comp", "llm").Str("provider", provider).Logger()
	limiter := limiterFromEnv()

	switch provider {
	case ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:  os.Getenv(envOpenAIAPIKey),
			Model:   os.Getenv(envOpenAIModel),
			BaseURL: os.Getenv(envOpenAIBaseURL),
			Limiter: limiter,
		}, logger)
	case ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:  os.Getenv(envAPIKey),
			Model:   os.Getenv(envModel),
			Limiter: limiter,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

func cleanModel(model, def string) string {
	model = strings.Trim(strings.TrimSpace(model), "\"'")
	if model == "" {
		return def
	}
	return model
}

// truncateContent caps s at limit bytes without splitting a UTF-8 sequence.
func truncateContent(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... [truncated]"
}

func limiterFromEnv() *rate.Limiter {
	rps := defaultMaxRPS
	if raw := strings.TrimSpace(os.Getenv(envMaxRPS)); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 {
			rps = v
		}
	}
	if rps == 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// throttle blocks until l admits one request. A nil limiter never blocks.
func throttle(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
