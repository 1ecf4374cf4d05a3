package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	envOpenAIModel     = "OPENAI_MODEL"
	envOpenAIBaseURL   = "OPENAI_BASE_URL"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIConfig also covers OpenAI-compatible gateways through BaseURL.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	RetryDelay time.Duration
	Limiter    *rate.Limiter
}

type openAIClient struct {
	client     *openai.Client
	model      string
	retryDelay time.Duration
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger zerolog.Logger) (Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIAPIKey)
	}
	config := openai.DefaultConfig(key)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		config.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: timeoutSecs * time.Second}
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = retryBaseDelay
	}
	return &openAIClient{
		client:     openai.NewClientWithConfig(config),
		model:      cleanModel(cfg.Model, defaultOpenAIModel),
		retryDelay: delay,
		limiter:    cfg.Limiter,
		logger:     logger,
	}, nil
}

func (c *openAIClient) Name() string { return c.model }

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    c.messages(req),
		MaxTokens:   max(req.MaxTokens, maxTokens),
		Temperature: req.Temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("retrying OpenAI API call")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := throttle(ctx, c.limiter); err != nil {
			return Response{}, err
		}
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			lastErr = fmt.Errorf("chat completion: %w", err)
			c.logger.Error().Err(err).Int("attempt", attempt).Msg("OpenAI API error")
			if retryable(err) {
				continue
			}
			return Response{}, lastErr
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("no choices in response")
			continue
		}
		c.logger.Debug().
			Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens).
			Msg("OpenAI API success")
		return Response{Text: resp.Choices[0].Message.Content}, nil
	}
	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *openAIClient) messages(req Request) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: truncateContent(req.System, maxRequestSize),
		})
	}
	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == openai.ChatMessageRoleUser {
			lastUser = i
		}
	}
	for i, m := range req.Messages {
		text := truncateContent(m.Content, maxRequestSize)
		if i != lastUser || len(req.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: text})
			continue
		}
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
		for _, img := range req.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
					Detail: openai.ImageURLDetailLow,
				},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
	}
	return out
}

// retryable reports whether err is a rate limit, a server error or a
// transport failure.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
