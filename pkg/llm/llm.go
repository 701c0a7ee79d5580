package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/overcast-dev/research_panel/pkg/config"
)

// Service is the narrow language-model contract the core depends on.
// Complete is free-text mode; CompleteJSON is the schema-constrained mode
// that decodes the reply into out.
type Service interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
	CompleteJSON(ctx context.Context, messages []*schema.Message, out any) error
}

// maxRetries bounds retries for transient provider failures. Together with
// the initial attempt this gives at most 3 calls.
const maxRetries = 2

const baseDelay = 2 * time.Second

// Client implements Service on top of an eino ChatModel with a shared rate
// limiter across all callers.
type Client struct {
	chatModel model.ChatModel
	limiter   *rate.Limiter
}

var _ Service = (*Client)(nil)

// NewClient builds the chat model and limiter from config.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("chat model init failed: %w", err)
	}

	limit := rate.Limit(float64(cfg.Concurrency.RPM) / 60.0)
	limiter := rate.NewLimiter(limit, cfg.Concurrency.QPS)

	return &Client{chatModel: chatModel, limiter: limiter}, nil
}

// NewClientWithModel wraps an existing chat model. Used by tests and by
// callers that manage their own model lifecycle.
func NewClientWithModel(cm model.ChatModel, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{chatModel: cm, limiter: limiter}
}

// Complete implements Service.
func (c *Client) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		resp, err := c.chatModel.Generate(ctx, messages)
		if err != nil {
			lastErr = err
			if isTransient(err) && i < maxRetries {
				time.Sleep(baseDelay * time.Duration(1<<i))
				continue
			}
			return "", err
		}
		return resp.Content, nil
	}
	return "", lastErr
}

// CompleteJSON implements Service. The reply is stripped of markdown fences
// before decoding; a decode failure counts as a retryable attempt.
func (c *Client) CompleteJSON(ctx context.Context, messages []*schema.Message, out any) error {
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		content, err := c.Complete(ctx, messages)
		if err != nil {
			return err
		}

		if err := json.Unmarshal([]byte(StripFences(content)), out); err != nil {
			lastErr = fmt.Errorf("json unmarshal: %w", err)
			continue
		}
		return nil
	}
	return lastErr
}

// StripFences removes the ```json fences some models wrap replies in.
func StripFences(content string) string {
	clean := strings.TrimSpace(content)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset")
}
