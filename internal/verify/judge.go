package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sefton37/triage/internal/inference"
)

const (
	defaultJudgeTimeout = 20 * time.Second
	// maxJudgeChars caps how much action material is sent to the judge so
	// a large file write cannot blow the model's context window.
	maxJudgeChars = 4000
)

const judgeSystemPrompt = `You are an intent verification judge. You are given a user's original request and an action a system proposes to take in response. Decide whether the action matches what the user actually asked for.

Response format (JSON only, no markdown):
{"judgment": "aligned", "rationale": "one short sentence"}

judgment must be exactly one of:
- "aligned" - the action does what the request asked, no more.
- "misaligned" - the action does something different, or materially more, than the request asked.
- "uncertain" - the request is too ambiguous to judge.

Only return the JSON object.`

// IntentJudge is the final pipeline stage: a model-backed comparison of
// the proposed action against the original request. It is the only stage
// that consults the inference service. Infrastructure failures (timeout,
// backend error, unparseable judgment) mark the stage skipped rather than
// failed, so an unreachable judge is never mistaken for misalignment.
type IntentJudge struct {
	svc     inference.Service
	model   string
	timeout time.Duration
}

// NewIntentJudge builds the judge stage. A non-positive timeout falls
// back to the default.
func NewIntentJudge(svc inference.Service, model string, timeout time.Duration) *IntentJudge {
	if timeout <= 0 {
		timeout = defaultJudgeTimeout
	}
	return &IntentJudge{svc: svc, model: model, timeout: timeout}
}

func (j *IntentJudge) Stage() Stage { return StageIntent }

func (j *IntentJudge) Verify(ctx context.Context, vctx Context) StageResult {
	judgment, rationale, err := j.judge(ctx, vctx)
	if err != nil {
		infra := &InfraError{Stage: StageIntent, Err: err}
		return StageResult{
			Outcome: OutcomeSkipped,
			Message: "intent judgment unavailable",
			Err:     infra.Error(),
		}
	}

	res := StageResult{Judgment: judgment, Message: rationale}
	if judgment == JudgmentAligned {
		res.Outcome = OutcomePass
	} else {
		res.Outcome = OutcomeFail
	}
	return res
}

func (j *IntentJudge) judge(ctx context.Context, vctx Context) (Judgment, string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	raw, err := j.svc.Complete(ctx, inference.Request{
		System: judgeSystemPrompt,
		Prompt: judgeUserPrompt(vctx),
		Model:  j.model,
		Schema: judgeSchema(),
	})
	if err != nil {
		return "", "", err
	}
	return parseJudgment(raw)
}

// judgeUserPrompt lays out the request and the proposed action. Only the
// fields the action kind actually uses are included.
func judgeUserPrompt(vctx Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User request:\n%s\n\nProposed action (%s)", vctx.Request, vctx.Action.Kind)
	if vctx.Action.Summary != "" {
		fmt.Fprintf(&sb, ": %s", vctx.Action.Summary)
	}
	sb.WriteString("\n")
	if vctx.Action.Command != "" {
		fmt.Fprintf(&sb, "Command: %s\n", truncateForJudge(vctx.Action.Command))
	}
	if vctx.Action.Path != "" {
		fmt.Fprintf(&sb, "Path: %s\n", vctx.Action.Path)
	}
	if vctx.Action.Content != "" {
		fmt.Fprintf(&sb, "Content:\n%s\n", truncateForJudge(vctx.Action.Content))
	}
	if len(vctx.Action.Payload) > 0 {
		fmt.Fprintf(&sb, "Payload:\n%s\n", truncateForJudge(string(vctx.Action.Payload)))
	}
	sb.WriteString("\nDoes the action match the request?")
	return sb.String()
}

func truncateForJudge(s string) string {
	if len(s) <= maxJudgeChars {
		return s
	}
	return s[:maxJudgeChars] + "\n[truncated]"
}

func judgeSchema() *inference.Schema {
	return &inference.Schema{
		Type: "object",
		Properties: map[string]inference.Property{
			"judgment": {
				Type:        "string",
				Enum:        []string{string(JudgmentAligned), string(JudgmentMisaligned), string(JudgmentUncertain)},
				Description: "Whether the action matches the request",
			},
			"rationale": {Type: "string", Description: "One short sentence"},
		},
		Required: []string{"judgment", "rationale"},
	}
}

type wireJudgment struct {
	Judgment  string `json:"judgment"`
	Rationale string `json:"rationale"`
}

// parseJudgment parses the judge output strictly, applies one repair pass,
// and validates the judgment value. Anything it cannot salvage is an
// infrastructure failure, not a verdict.
func parseJudgment(raw string) (Judgment, string, error) {
	var w wireJudgment
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		repaired := inference.ExtractJSON(raw)
		if repaired == "" {
			return "", "", fmt.Errorf("malformed judgment: %w", err)
		}
		if rerr := json.Unmarshal([]byte(repaired), &w); rerr != nil {
			return "", "", fmt.Errorf("malformed judgment: %w", rerr)
		}
	}
	switch Judgment(w.Judgment) {
	case JudgmentAligned, JudgmentMisaligned, JudgmentUncertain:
		return Judgment(w.Judgment), w.Rationale, nil
	}
	return "", "", fmt.Errorf("unknown judgment %q", w.Judgment)
}
