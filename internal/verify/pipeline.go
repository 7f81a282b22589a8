package verify

import (
	"context"
	"fmt"
	"time"
)

// Mode selects how stage results aggregate into a verdict.
type Mode string

const (
	// ModeStrict requires every executed stage to pass and halts on the
	// first failure.
	ModeStrict Mode = "strict"
	// ModeLenient keeps running past non-fatal failures and approves when
	// enough stages passed, as long as safety did.
	ModeLenient Mode = "lenient"
)

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeStrict, ModeLenient:
		return Mode(raw), nil
	}
	return "", fmt.Errorf("unknown verification mode %q", raw)
}

// Verdict is the pipeline's aggregate decision.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// PipelineResult is the outcome of one full pipeline run. Stages always
// holds one entry per configured verifier, in pipeline order, including
// the ones recorded as skipped.
type PipelineResult struct {
	Stages     []StageResult `json:"stages"`
	Verdict    Verdict       `json:"verdict"`
	Mode       Mode          `json:"mode"`
	DurationMs int64         `json:"duration_ms"`
}

// SafetyFailed reports whether the safety stage executed and failed.
func (r PipelineResult) SafetyFailed() bool {
	for _, s := range r.Stages {
		if s.Stage == StageSafety {
			return s.Outcome == OutcomeFail
		}
	}
	return false
}

// IntentUncertain reports whether the intent stage failed with an
// uncertain judgment, the signal for routing to manual review instead of
// outright rejection.
func (r PipelineResult) IntentUncertain() bool {
	for _, s := range r.Stages {
		if s.Stage == StageIntent {
			return s.Outcome == OutcomeFail && s.Judgment == JudgmentUncertain
		}
	}
	return false
}

// Stage returns the result for one stage, if present.
func (r PipelineResult) Stage(stage Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

const defaultLenientMinPass = 3

// Pipeline runs verifiers in a fixed order and aggregates their results.
// The order is set at construction and never changes between runs:
// syntax, semantic, behavioral, safety, intent.
type Pipeline struct {
	verifiers      []Verifier
	defaultMode    Mode
	lenientMinPass int
}

// NewPipeline assembles the standard five-stage pipeline around the given
// intent judge. defaultMode applies when Run is called with an empty
// mode; lenientMinPass <= 0 falls back to the default threshold.
func NewPipeline(judge *IntentJudge, defaultMode Mode, lenientMinPass int) *Pipeline {
	if defaultMode == "" {
		defaultMode = ModeStrict
	}
	if lenientMinPass <= 0 {
		lenientMinPass = defaultLenientMinPass
	}
	return &Pipeline{
		verifiers: []Verifier{
			SyntaxVerifier{},
			SemanticVerifier{},
			BehavioralVerifier{},
			SafetyVerifier{},
			judge,
		},
		defaultMode:    defaultMode,
		lenientMinPass: lenientMinPass,
	}
}

// Run executes the pipeline against one verification context. An empty
// mode selects the pipeline's default. Run never returns an error: every
// failure shows up inside the result, and a stage whose infrastructure
// broke is recorded as skipped with an annotation.
//
// A safety failure halts the run in both modes and forces rejection. In
// strict mode any failure halts the run; stages that never started are
// recorded as skipped. In lenient mode non-fatal failures are recorded
// and the run continues.
func (p *Pipeline) Run(ctx context.Context, vctx Context, mode Mode) PipelineResult {
	if mode == "" {
		mode = p.defaultMode
	}
	start := time.Now()

	stages := make([]StageResult, 0, len(p.verifiers))
	var halted bool
	var haltReason string
	for _, v := range p.verifiers {
		if halted {
			stages = append(stages, StageResult{
				Stage:   v.Stage(),
				Outcome: OutcomeSkipped,
				Message: haltReason,
			})
			continue
		}

		stageStart := time.Now()
		res := v.Verify(ctx, vctx)
		res.Stage = v.Stage()
		res.DurationMs = time.Since(stageStart).Milliseconds()
		stages = append(stages, res)

		if res.Outcome != OutcomeFail {
			continue
		}
		switch {
		case v.Stage() == StageSafety:
			halted = true
			haltReason = "not run: safety gate failed"
		case mode == ModeStrict:
			halted = true
			haltReason = fmt.Sprintf("not run: %s stage failed", v.Stage())
		}
	}

	return PipelineResult{
		Stages:     stages,
		Verdict:    p.verdict(mode, stages),
		Mode:       mode,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// verdict aggregates stage outcomes. Strict approval means no executed
// stage failed. Lenient approval means safety passed and at least
// lenientMinPass stages passed; a skipped stage never counts as a pass.
func (p *Pipeline) verdict(mode Mode, stages []StageResult) Verdict {
	passed := 0
	safetyPassed := false
	for _, s := range stages {
		switch s.Outcome {
		case OutcomeFail:
			if mode == ModeStrict || s.Stage == StageSafety {
				return VerdictRejected
			}
		case OutcomePass:
			passed++
			if s.Stage == StageSafety {
				safetyPassed = true
			}
		}
	}
	if mode == ModeStrict {
		return VerdictApproved
	}
	if safetyPassed && passed >= p.lenientMinPass {
		return VerdictApproved
	}
	return VerdictRejected
}
