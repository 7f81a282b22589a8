// Package classifier turns raw request text into a three-axis
// classification using a local model, teaching the model from past user
// corrections on every call.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/inference"
	"github.com/sefton37/triage/internal/ratelimit"
	"github.com/sefton37/triage/internal/taxonomy"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultExemplarLimit = 5
)

// Config tunes a Classifier. Zero values fall back to defaults.
type Config struct {
	Model         string
	Timeout       time.Duration
	ExemplarLimit int
}

// Result is one classification outcome.
type Result struct {
	Classification taxonomy.Classification `json:"classification"`
	Reasoning      string                  `json:"reasoning,omitempty"`
	Model          string                  `json:"model,omitempty"`
}

// ParseError reports a model response that could not be turned into a
// classification, even after the repair pass.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable classification response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Classifier drives classification calls against an inference backend.
type Classifier struct {
	svc       inference.Service
	exemplars *exemplar.Context
	limiter   ratelimit.Limiter
	cfg       Config
}

// New creates a Classifier. limiter may be nil when no rate limit applies.
func New(svc inference.Service, exemplars *exemplar.Context, limiter ratelimit.Limiter, cfg Config) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ExemplarLimit <= 0 {
		cfg.ExemplarLimit = defaultExemplarLimit
	}
	if limiter == nil {
		limiter = ratelimit.NopLimiter{}
	}
	return &Classifier{svc: svc, exemplars: exemplars, limiter: limiter, cfg: cfg}
}

// Classify runs one classification. The rate limiter is consulted before
// any inference work happens, so a refused call costs nothing. Backend
// failures surface as the inference package's error kinds; a response the
// repair pass cannot salvage surfaces as *ParseError.
func (c *Classifier) Classify(ctx context.Context, request string) (Result, error) {
	if err := c.limiter.Allow(); err != nil {
		return Result{}, err
	}

	corrections, err := c.exemplars.GetCorrections(c.cfg.ExemplarLimit)
	if err != nil {
		// Classification still works without memory; log and move on.
		slog.Warn("loading correction exemplars failed", "error", err)
		corrections = nil
	}

	system, user := BuildPrompt(request, corrections)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := c.svc.Complete(ctx, inference.Request{
		System: system,
		Prompt: user,
		Model:  c.cfg.Model,
		Schema: classificationSchema(),
	})
	if err != nil {
		return Result{}, err
	}

	cls, reasoning, err := parseResponse(raw)
	if err != nil {
		return Result{}, err
	}

	slog.Debug("request classified",
		"destination", cls.Destination,
		"consumer", cls.Consumer,
		"semantics", cls.Semantics,
		"confident", cls.Confident)

	return Result{Classification: cls, Reasoning: reasoning, Model: c.cfg.Model}, nil
}

type wireClassification struct {
	Destination string `json:"destination"`
	Consumer    string `json:"consumer"`
	Semantics   string `json:"semantics"`
	Confident   bool   `json:"confident"`
	Reasoning   string `json:"reasoning"`
}

// parseResponse parses the model output strictly, applies one repair pass
// on failure, and validates axis values against the taxonomy.
func parseResponse(raw string) (taxonomy.Classification, string, error) {
	var w wireClassification
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		repaired := inference.ExtractJSON(raw)
		if repaired == "" {
			return taxonomy.Classification{}, "", &ParseError{Raw: raw, Err: err}
		}
		if rerr := json.Unmarshal([]byte(repaired), &w); rerr != nil {
			return taxonomy.Classification{}, "", &ParseError{Raw: raw, Err: rerr}
		}
	}

	cls, err := taxonomy.Parse(w.Destination, w.Consumer, w.Semantics, w.Confident)
	if err != nil {
		return taxonomy.Classification{}, "", &ParseError{Raw: raw, Err: err}
	}
	return cls, w.Reasoning, nil
}
