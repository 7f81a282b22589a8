package ollama

import (
	"context"
	"errors"
	"time"

	"github.com/sefton37/triage/internal/inference"
)

// Completer adapts a Client to the inference.Service capability: one system
// prompt, one user prompt, optional structured-output schema.
type Completer struct {
	client *Client
}

// NewCompleter wraps c as an inference.Service.
func NewCompleter(c *Client) *Completer {
	return &Completer{client: c}
}

// Complete issues a single chat call. A context deadline hit surfaces as
// *inference.TimeoutError; everything else keeps the Client's backend
// error classification.
func (c *Completer) Complete(ctx context.Context, req inference.Request) (string, error) {
	var messages []Message
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	var format any
	if req.Schema != nil {
		format = req.Schema
	}

	start := time.Now()
	out, err := c.client.Chat(ctx, req.Model, messages, format)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &inference.TimeoutError{
				Model:   req.Model,
				Timeout: time.Since(start),
				Err:     context.DeadlineExceeded,
			}
		}
		return "", err
	}
	return out, nil
}
