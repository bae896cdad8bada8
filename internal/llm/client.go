package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/pkg/logger"
)

const DefaultTimeout = 120 * time.Second

var (
	ErrConfiguration = errors.New("llm endpoint or api key not configured")
	ErrEmptyResponse = errors.New("llm returned no completion choices")
)

// TransportError carries the remote status and body of a failed exchange.
// StatusCode is zero for network-level failures.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("llm transport error: %v", e.Err)
	}
	return fmt.Sprintf("llm transport error: status %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text  string
	Model string
	Usage Usage
}

type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client performs one chat completion per call. It does not retry.
type Client struct {
	client *openai.Client
	cfg    Config
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrConfiguration
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger.Info("LLM client initialized",
		zap.String("endpoint", oc.BaseURL),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &Client{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
	}, nil
}

func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	if c == nil || c.client == nil {
		return nil, ErrConfiguration
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	metrics.LLMDuration.WithLabelValues(req.Model).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LLMRequests.WithLabelValues(req.Model, "error").Inc()
		return nil, toTransportError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(req.Model, "empty").Inc()
		return nil, ErrEmptyResponse
	}

	metrics.LLMRequests.WithLabelValues(req.Model, "success").Inc()
	metrics.LLMTokensUsed.WithLabelValues(req.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(req.Model, "completion").Add(float64(resp.Usage.CompletionTokens))

	logger.Debug("LLM completion generated",
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toTransportError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &TransportError{StatusCode: reqErr.HTTPStatusCode, Body: body, Err: err}
	}
	return &TransportError{Err: err}
}
