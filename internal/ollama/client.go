// Package ollama talks to a local Ollama instance over HTTP and adapts it to
// the inference.Service capability.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sefton37/triage/internal/inference"
)

// Message is one turn in an Ollama chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client issues requests against one Ollama base URL.
type Client struct {
	host string
	hc   *http.Client
}

func New(host string) *Client {
	return &Client{
		host: strings.TrimRight(host, "/"),
		// No client-level timeout; every call carries its own deadline
		// through the context.
		hc: &http.Client{},
	}
}

// do issues a request against the Ollama API. A non-nil body is sent as
// JSON. Deadlines are the caller's responsibility.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, rd)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.hc.Do(req)
}

type tagsPayload struct {
	Models []taggedModel `json:"models"`
}

type taggedModel struct {
	Name string `json:"name"`
}

// IsRunning reports whether the Ollama daemon answers GET /api/tags.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels names every model the local instance has pulled.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("model list request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing models: unexpected status %d", resp.StatusCode)
	}

	var tags tagsPayload
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether name is pulled locally. Installed models come
// back as "phi3.5:latest", so a bare name matches any tag of itself.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	tagged := name + ":"
	for _, m := range models {
		if m == name || strings.HasPrefix(m, tagged) {
			return true
		}
	}
	return false
}

type pullParams struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullProgress is one line of the streamed /api/pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// PullModel downloads a model, consuming the progress stream until the
// pull finishes. onProgress may be nil.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	body, err := json.Marshal(pullParams{Name: name, Stream: true})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/pull", body)
	if err != nil {
		return fmt.Errorf("pull request for %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull %s: status %d", name, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding pull stream: %w", err)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

type chatParams struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   any       `json:"format,omitempty"`
}

type chatReply struct {
	Message Message `json:"message"`
}

// Chat sends messages to the given model and returns the assistant's
// response. When format is non-nil it is forwarded as the structured-output
// schema. Failures come back as *inference.BackendError so callers can tell
// transient trouble (connection loss, 429, 5xx) from fatal trouble.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, format any) (string, error) {
	body, err := json.Marshal(chatParams{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Format:   format,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return "", &inference.BackendError{Provider: "ollama", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &inference.BackendError{
			Provider:  "ollama",
			Status:    resp.StatusCode,
			Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:       errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	var reply chatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", &inference.BackendError{Provider: "ollama", Err: fmt.Errorf("decoding chat response: %w", err)}
	}

	return reply.Message.Content, nil
}
