package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
)

// AnthropicClient implements Client using the Anthropic API.
type AnthropicClient struct {
	client     anthropic.Client
	model      anthropic.Model
	maxTokens  int64
	maxElapsed time.Duration
	log        *slog.Logger
}

// NewAnthropicClient creates an Anthropic-backed client. API credentials come
// from the environment, per the SDK.
func NewAnthropicClient(model anthropic.Model, maxTokens int64, log *slog.Logger) *AnthropicClient {
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		client:     anthropic.NewClient(),
		model:      model,
		maxTokens:  maxTokens,
		maxElapsed: 30 * time.Second,
		log:        log,
	}
}

// Complete sends a prompt and returns the response text. Transient API
// failures are retried with capped exponential backoff before surfacing as
// ErrUnavailable.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	user := req.User
	if req.ReasoningHint != "" {
		user = fmt.Sprintf("Reasoning effort: %s\n\n%s", req.ReasoningHint, req.User)
	}

	var msg *anthropic.Message
	operation := func() error {
		var err error
		msg, err = c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System: []anthropic.TextBlockParam{
				{Type: "text", Text: req.System},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		return err
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(c.maxElapsed),
	), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if c.log != nil {
			c.log.Error("anthropic call failed", "duration", time.Since(start), "error", err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if c.log != nil {
		c.log.Debug("anthropic call completed",
			"duration", time.Since(start),
			"stopReason", msg.StopReason)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text content in response", ErrMalformed)
}
