package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.CompletionConfig{
		BaseURL:     srv.URL,
		APIKey:      "gsk_test",
		Model:       "llama-3.3-70b-versatile",
		Temperature: 0.2,
		MaxTokens:   1024,
		MaxRetries:  2,
	}, WithBackoff(time.Millisecond))
	require.NoError(t, err)
	return c
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "llama-3.3-70b-versatile",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":{"message":"rate limit reached","type":"tokens"}}`))
}

type capturedRequest struct {
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	Stream         bool    `json:"stream"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestClient_Complete(t *testing.T) {
	var got capturedRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, `{"contract_type":"NDA"}`)
	})

	out, err := c.Complete(context.Background(), Request{
		System: "You are a senior contract attorney.",
		Messages: []models.ChatTurn{
			{Role: models.RoleUser, Content: "Analyze"},
			{Role: models.RoleAssistant, Content: "Sure"},
			{Role: models.RoleUser, Content: "Go"},
		},
		JSON: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"contract_type":"NDA"}`, out)

	assert.Equal(t, "llama-3.3-70b-versatile", got.Model)
	assert.InDelta(t, 0.2, got.Temperature, 1e-9)
	assert.Equal(t, 1024, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestClient_CompleteOverrides(t *testing.T) {
	var got capturedRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "ok")
	})
	temp := 0.0
	_, err := c.Complete(context.Background(), Request{
		Messages:    []models.ChatTurn{{Role: models.RoleUser, Content: "hi"}},
		Model:       "llama-3.1-8b-instant",
		Temperature: &temp,
		MaxTokens:   4000,
	})
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
	assert.Equal(t, 0.0, got.Temperature)
	assert.Equal(t, 4000, got.MaxTokens)
	assert.Nil(t, got.ResponseFormat)
}

func TestClient_CompleteRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeRateLimited(w)
			return
		}
		writeCompletion(w, "done")
	})
	out, err := c.Complete(context.Background(), Request{Messages: []models.ChatTurn{{Role: models.RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_CompleteRateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeRateLimited(w)
	})
	_, err := c.Complete(context.Background(), Request{Messages: []models.ChatTurn{{Role: models.RoleUser, Content: "x"}}})
	assert.True(t, errors.Is(err, ErrRateLimited), "got %v", err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_CompleteServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})
	_, err := c.Complete(context.Background(), Request{Messages: []models.ChatTurn{{Role: models.RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, int32(1), calls.Load(), "only rate limiting is retried")
}

func writeStream(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		chunk := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion.chunk",
			"created": 1,
			"model":   "llama-3.3-70b-versatile",
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": d}}},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestClient_Stream(t *testing.T) {
	var got capturedRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeStream(w, "The liability ", "", "is capped ", "(§2).")
	})
	var deltas []string
	text, err := c.Stream(context.Background(), Request{
		System:   "ctx",
		Messages: []models.ChatTurn{{Role: models.RoleUser, Content: "Is liability capped?"}},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, got.Stream)
	assert.Equal(t, "The liability is capped (§2).", text)
	assert.Equal(t, []string{"The liability ", "is capped ", "(§2)."}, deltas)
}

func TestClient_StreamRetriesBeforeFirstDelta(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeRateLimited(w)
			return
		}
		writeStream(w, "ok")
	})
	text, err := c.Stream(context.Background(), Request{Messages: []models.ChatTurn{{Role: models.RoleUser, Content: "x"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_StreamCallbackError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, "a", "b", "c")
	})
	stop := errors.New("client went away")
	var n int
	_, err := c.Stream(context.Background(), Request{Messages: []models.ChatTurn{{Role: models.RoleUser, Content: "x"}}}, func(string) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.CompletionConfig{Model: "m"})
	assert.Error(t, err)
}

func TestClient_backoffDelay(t *testing.T) {
	c := &Client{backoff: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, maxBackoff},
		{35, maxBackoff},  // shift overflows to a negative duration
		{56, maxBackoff},  // shift overflows to zero
		{100, maxBackoff}, // shift wider than the type
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.backoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
	assert.Equal(t, time.Duration(0), (&Client{}).backoffDelay(3))
}
