// Package llm is the chat-completion client for OpenAI-compatible endpoints (Groq by default).
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited is returned when the provider keeps answering 429 after all retries.
	ErrRateLimited = errors.New("completion rate limited")
	// ErrEmptyCompletion is returned when the provider answers without any choice.
	ErrEmptyCompletion = errors.New("empty completion")
)

const (
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 8 * time.Second
)

// Request is a single chat completion call. Zero Model, Temperature and MaxTokens fall back to
// the client defaults.
type Request struct {
	System      string
	Messages    []models.ChatTurn
	Model       string
	Temperature *float64
	MaxTokens   int
	// JSON asks the provider for a single JSON object.
	JSON bool
}

// ChatModel completes chat requests. Implemented by Client; faked in tests.
type ChatModel interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error)
}

// Client calls the chat completions API and retries rate-limited requests with
// exponential backoff.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	backoff     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBackoff sets the base delay between rate-limited attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg config.CompletionConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("completion api key is not set (GROQ_API_KEY)")
	}
	c := &Client{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		backoff:     baseBackoff,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Retries are handled here so that rate limiting surfaces as ErrRateLimited.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.TimeoutSeconds > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	if c.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.httpClient))
	}
	c.client = openai.NewClient(reqOpts...)
	return c, nil
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.model
}

// Complete returns the full completion text for req.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	params := c.params(req)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.wait(ctx, attempt); err != nil {
			return "", err
		}
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				lastErr = err
				c.logger.Warn("completion rate limited", zap.Int("attempt", attempt+1), zap.String("model", string(params.Model)))
				continue
			}
			return "", fmt.Errorf("completion request failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", ErrEmptyCompletion
		}
		c.logger.Debug("completion done",
			zap.String("model", completion.Model),
			zap.Int64("total_tokens", completion.Usage.TotalTokens))
		return completion.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
}

// Stream streams the completion for req, calling onDelta with every non-empty content delta,
// and returns the concatenated text. A rate-limited request is retried only while nothing has
// been delivered to onDelta. An error from onDelta aborts the stream and is returned.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	params := c.params(req)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.wait(ctx, attempt); err != nil {
			return "", err
		}
		text, delivered, err := c.streamOnce(ctx, params, onDelta)
		if err == nil {
			return text, nil
		}
		if delivered || !isRateLimitError(err) {
			return text, err
		}
		lastErr = err
		c.logger.Warn("completion stream rate limited", zap.Int("attempt", attempt+1), zap.String("model", string(params.Model)))
	}
	return "", fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
}

func (c *Client) streamOnce(ctx context.Context, params openai.ChatCompletionNewParams, onDelta func(string) error) (string, bool, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text      []byte
		delivered bool
	)
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text = append(text, delta...)
		delivered = true
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return string(text), delivered, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if isRateLimitError(err) {
			return string(text), delivered, err
		}
		return string(text), delivered, fmt.Errorf("completion stream failed: %w", err)
	}
	return string(text), delivered, nil
}

func (c *Client) params(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// wait sleeps before retry attempt n (no delay for the first attempt).
func (c *Client) wait(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.backoffDelay(attempt)):
		return nil
	}
}

// backoffDelay doubles the base delay per attempt, capped at maxBackoff. Shifts that overflow
// also get the cap.
func (c *Client) backoffDelay(attempt int) time.Duration {
	if attempt <= 0 || c.backoff <= 0 {
		return 0
	}
	if attempt > 62 {
		return maxBackoff
	}
	d := c.backoff << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
