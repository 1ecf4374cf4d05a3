package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	envAPIKey    = "ANTHROPIC_API_KEY"
	envModel     = "ANTHROPIC_MODEL"
	defaultModel = "claude-sonnet-4-5-20250929"

	apiURL      = "https://api.anthropic.com/v1/messages"
	apiVersion  = "2023-06-01"
	maxTokens   = 900
	timeoutSecs = 60

	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	maxRequestSize = 200000 // ~200KB limit for safety
)

type AnthropicConfig struct {
	APIKey string
	Model  string
	// Endpoint overrides the messages URL.
	Endpoint   string
	HTTPClient *http.Client
	RetryDelay time.Duration
	// Limiter throttles requests, retries included. Nil means unlimited.
	Limiter *rate.Limiter
}

type anthropicClient struct {
	apiKey     string
	model      string
	endpoint   string
	http       *http.Client
	retryDelay time.Duration
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewAnthropic(cfg AnthropicConfig, logger zerolog.Logger) (Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("missing %s", envAPIKey)
	}
	c := &anthropicClient{
		apiKey:     key,
		model:      cleanModel(cfg.Model, defaultModel),
		endpoint:   cfg.Endpoint,
		http:       cfg.HTTPClient,
		retryDelay: cfg.RetryDelay,
		limiter:    cfg.Limiter,
		logger:     logger,
	}
	if c.endpoint == "" {
		c.endpoint = apiURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: timeoutSecs * time.Second}
	}
	if c.retryDelay <= 0 {
		c.retryDelay = retryBaseDelay
	}
	return c, nil
}

func (c *anthropicClient) Name() string { return c.model }

func (c *anthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}

	body, err := json.Marshal(c.payload(req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying Anthropic API call")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := throttle(ctx, c.limiter); err != nil {
			return Response{}, err
		}
		c.logger.Debug().
			Str("model", c.model).
			Int("messages", len(req.Messages)).
			Int("images", len(req.Images)).
			Int("payload_size", len(body)).
			Msg("Anthropic API request")

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return Response{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", apiVersion)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		c.logger.Debug().
			Int("status", resp.StatusCode).
			Int("response_size", len(data)).
			Msg("Anthropic API response")

		if resp.StatusCode >= 400 {
			var envelope struct {
				Error anthropicError `json:"error"`
			}
			_ = json.Unmarshal(data, &envelope)
			apiErr := envelope.Error
			msg := apiErr.Error()
			if msg == "" {
				msg = truncateContent(string(data), 500)
			}
			lastErr = fmt.Errorf("anthropic %d: %s", resp.StatusCode, msg)

			c.logger.Error().
				Int("status", resp.StatusCode).
				Str("error_type", apiErr.Type).
				Str("error_msg", apiErr.Message).
				Int("attempt", attempt).
				Msg("Anthropic API error")

			// retry only rate limits and server errors
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return Response{}, lastErr
		}

		var ar anthropicResponse
		if err := json.Unmarshal(data, &ar); err != nil {
			lastErr = fmt.Errorf("parse response: %w", err)
			continue
		}

		var buf bytes.Buffer
		for _, content := range ar.Content {
			if content.Type == "text" {
				buf.WriteString(content.Text)
			}
		}
		return Response{Text: buf.String()}, nil
	}

	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *anthropicClient) payload(req Request) anthropicPayload {
	p := anthropicPayload{
		Model:       c.model,
		MaxTokens:   max(req.MaxTokens, maxTokens),
		Temperature: float64(req.Temperature),
		System:      truncateContent(req.System, maxRequestSize),
	}
	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == "user" {
			lastUser = i
		}
	}
	for i, m := range req.Messages {
		msg := anthropicMessage{Role: m.Role}
		if i == lastUser {
			for _, img := range req.Images {
				msg.Content = append(msg.Content, anthropicContent{
					Type: "image",
					Source: &anthropicSource{
						Type:      "base64",
						MediaType: img.MediaType,
						Data:      base64.StdEncoding.EncodeToString(img.Data),
					},
				})
			}
		}
		msg.Content = append(msg.Content, anthropicContent{Type: "text", Text: truncateContent(m.Content, maxRequestSize)})
		p.Messages = append(p.Messages, msg)
	}
	return p
}

type anthropicPayload struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e anthropicError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}
