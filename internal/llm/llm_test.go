package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAnthropicGenerateSendsImagesAndReadsText(t *testing.T) {
	var got anthropicPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":"},{"type":"text","text":"true}"}]}`))
	}))
	defer srv.Close()

	c, err := NewAnthropic(AnthropicConfig{APIKey: "secret", Model: `"claude-test"`, Endpoint: srv.URL}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "claude-test", c.Name())

	resp, err := c.Generate(context.Background(), Request{
		System:   "rules",
		Messages: []Message{{Role: "user", Content: "state"}},
		Images:   []Image{{MediaType: "image/png", Data: []byte{1, 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)

	assert.Equal(t, "rules", got.System)
	require.Len(t, got.Messages, 1)
	content := got.Messages[0].Content
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].Type)
	assert.Equal(t, "AQI=", content[0].Source.Data)
	assert.Equal(t, "text", content[1].Type)
	assert.Equal(t, maxTokens, got.MaxTokens)
}

func TestAnthropicRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"done"}]}`))
	}))
	defer srv.Close()

	c, err := NewAnthropic(AnthropicConfig{APIKey: "k", Endpoint: srv.URL, RetryDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	resp, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestAnthropicDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropic(AnthropicConfig{APIKey: "k", Endpoint: srv.URL, RetryDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestOpenAIGenerateUsesMultiContentForImages(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"planned"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, c.Name())

	resp, err := c.Generate(context.Background(), Request{
		System:   "rules",
		Messages: []Message{{Role: "user", Content: "state"}},
		Images:   []Image{{MediaType: "image/png", Data: []byte{1, 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "planned", resp.Text)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,AQI=", img["url"])
}

func TestNewClientRequiresKeys(t *testing.T) {
	t.Setenv(envAPIKey, "")
	t.Setenv(envOpenAIAPIKey, "")
	t.Setenv(envOpenAIModel, "")

	_, err := NewClient("", zerolog.Nop())
	assert.ErrorContains(t, err, envAPIKey)
	_, err = NewClient("openai", zerolog.Nop())
	assert.ErrorContains(t, err, envOpenAIAPIKey)
	_, err = NewClient("gemini", zerolog.Nop())
	assert.ErrorContains(t, err, "unknown LLM provider")

	t.Setenv(envOpenAIAPIKey, "sk")
	c, err := NewClient("OpenAI", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, c.Name())
}

func TestLimiterFromEnv(t *testing.T) {
	t.Setenv(envMaxRPS, "")
	l := limiterFromEnv()
	require.NotNil(t, l)
	assert.InDelta(t, defaultMaxRPS, float64(l.Limit()), 1e-9)

	t.Setenv(envMaxRPS, "0.5")
	assert.InDelta(t, 0.5, float64(limiterFromEnv().Limit()), 1e-9)

	t.Setenv(envMaxRPS, "0")
	assert.Nil(t, limiterFromEnv())

	t.Setenv(envMaxRPS, "fast")
	assert.InDelta(t, defaultMaxRPS, float64(limiterFromEnv().Limit()), 1e-9)
}

func TestThrottleHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, throttle(ctx, nil))

	l := rate.NewLimiter(rate.Limit(0.001), 1)
	require.True(t, l.Allow())
	assert.Error(t, throttle(ctx, l))
}

func TestTruncateContentKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncateContent("short", 10))

	// "é" is two bytes; a cut at byte 2 would land inside it
	got := truncateContent("aéb", 2)
	assert.Equal(t, "a... [truncated]", got)
	assert.True(t, utf8.ValidString(got))

	got = truncateContent("日本語テキスト", 7)
	assert.Equal(t, "日本... [truncated]", got)
	assert.True(t, utf8.ValidString(got))
}
