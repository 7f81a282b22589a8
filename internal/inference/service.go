// Package inference abstracts the language-model backend consumed by the
// classifier and the intent judge. The backend is a capability: callers get
// one blocking Complete call per invocation, a per-call timeout through the
// context, and distinguishable error kinds. Nothing else is promised.
package inference

import "context"

// Request is a single completion request.
type Request struct {
	// System is the system prompt framing the task.
	System string
	// Prompt is the user-turn content.
	Prompt string
	// Model names the backend model to use.
	Model string
	// Schema, when set, asks the backend for structured JSON output
	// conforming to the schema.
	Schema *Schema
}

// Schema describes the JSON object the backend must produce.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single schema field.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Service is the inference capability. Implementations must honor context
// cancellation and deadlines; a deadline hit must surface as *TimeoutError.
type Service interface {
	Complete(ctx context.Context, req Request) (string, error)
}
