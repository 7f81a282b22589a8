// Package verify decides whether a proposed action is acceptable by
// running it through an ordered set of independent checks: syntax,
// semantic, behavioral, safety, intent. The first four are local and
// deterministic; intent asks a judge model whether the action matches
// what the user actually wanted.
package verify

import (
	"context"
	"fmt"
)

// Stage identifies one verifier in the fixed pipeline order.
type Stage string

const (
	StageSyntax     Stage = "syntax"
	StageSemantic   Stage = "semantic"
	StageBehavioral Stage = "behavioral"
	StageSafety     Stage = "safety"
	StageIntent     Stage = "intent"
)

// Outcome is a single stage's result.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeSkipped Outcome = "skipped"
)

// Judgment is the intent stage's qualitative verdict.
type Judgment string

const (
	JudgmentAligned    Judgment = "aligned"
	JudgmentMisaligned Judgment = "misaligned"
	JudgmentUncertain  Judgment = "uncertain"
)

// StageResult records what one verifier concluded. Judgment is set only
// by the intent stage. Err carries an infrastructure error annotation
// when a stage was skipped because its external dependency failed; it is
// never set for a content failure.
type StageResult struct {
	Stage      Stage    `json:"stage"`
	Outcome    Outcome  `json:"outcome"`
	Message    string   `json:"message,omitempty"`
	Judgment   Judgment `json:"judgment,omitempty"`
	Err        string   `json:"error,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// Verifier is one stage of the pipeline. Verify must be side-effect free
// with respect to the operation under review: it reads the Context and
// returns a result, nothing else. The pipeline stamps Stage and duration
// on the returned result.
type Verifier interface {
	Stage() Stage
	Verify(ctx context.Context, vctx Context) StageResult
}

// InfraError reports that a stage's external dependency failed, as
// opposed to the stage reaching a content verdict. Only stages that
// consult external services produce it.
type InfraError struct {
	Stage Stage
	Err   error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s stage infrastructure failure: %v", e.Stage, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

func pass(msg string) StageResult {
	return StageResult{Outcome: OutcomePass, Message: msg}
}

func fail(msg string) StageResult {
	return StageResult{Outcome: OutcomeFail, Message: msg}
}
