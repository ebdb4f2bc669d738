package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/carelink/carelink-ai/internal/config"
)

// Message is a single chat message sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries one chat completion call. Temperature and MaxTokens
// override the client defaults when non-nil.
type ChatRequest struct {
	Messages    []Message
	Temperature *float32
	MaxTokens   *int
}

// Response is the completed model output.
type Response struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	Requests         int `json:"requests"`
}

// Client talks to a DeepSeek-compatible chat completion endpoint through the
// OpenAI wire protocol. Timeouts and rate limits are retried with backoff;
// every other failure propagates immediately.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
	log         *logrus.Entry

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	requests         atomic.Int64

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a chat completion client.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		log:         logrus.WithField("component", "llm"),
		sleep:       sleepCtx,
	}, nil
}

// Chat sends the messages and returns the completed response. Timeout and
// rate-limit errors are retried up to the configured count with exponential
// backoff; the caller's context cancels both the call and any backoff wait.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	openAIReq := c.buildRequest(req)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}

		resp, err := c.client.CreateChatCompletion(callCtx, openAIReq)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, fmt.Errorf("%w: empty choices", ErrUpstream)
			}
			c.recordUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			return &Response{
				Content:      resp.Choices[0].Message.Content,
				FinishReason: string(resp.Choices[0].FinishReason),
				Model:        resp.Model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}, nil
		}

		// The caller gave up; don't keep burning backend capacity.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}

		lastErr = classifyError(err)
		if !isRetryable(lastErr) || attempt == c.maxRetries {
			break
		}

		wait := backoff(lastErr, attempt)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"wait":    wait,
			"error":   err.Error(),
		}).Warn("chat completion failed, retrying")

		if err := c.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	return nil, lastErr
}

// UsageStats returns cumulative token usage across all calls.
func (c *Client) UsageStats() Usage {
	return Usage{
		PromptTokens:     int(c.promptTokens.Load()),
		CompletionTokens: int(c.completionTokens.Load()),
		TotalTokens:      int(c.promptTokens.Load() + c.completionTokens.Load()),
		Requests:         int(c.requests.Load()),
	}
}

// ResetUsageStats zeroes the cumulative counters.
func (c *Client) ResetUsageStats() {
	c.promptTokens.Store(0)
	c.completionTokens.Store(0)
	c.requests.Store(0)
}

func (c *Client) buildRequest(req ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	openAIReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if req.Temperature != nil {
		openAIReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openAIReq.MaxTokens = *req.MaxTokens
	}

	return openAIReq
}

func (c *Client) recordUsage(prompt, completion int) {
	c.promptTokens.Add(int64(prompt))
	c.completionTokens.Add(int64(completion))
	c.requests.Add(1)
}

// backoff returns the wait before the next attempt. Rate limits wait longer
// than timeouts, mirroring upstream guidance.
func backoff(err error, attempt int) time.Duration {
	if errors.Is(err, ErrRateLimited) {
		return time.Duration(5*(attempt+1)) * time.Second
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Temperature is a convenience for building ChatRequest literals.
func Temperature(t float32) *float32 { return &t }

// MaxTokens is a convenience for building ChatRequest literals.
func MaxTokens(n int) *int { return &n }
