package verify

import (
	"testing"

	"github.com/sefton37/triage/internal/inference"
)

var stageOrder = []Stage{StageSyntax, StageSemantic, StageBehavioral, StageSafety, StageIntent}

func alignedService() *stubService {
	return &stubService{resp: `{"judgment":"aligned","rationale":"action matches the request"}`}
}

func newTestPipeline(svc inference.Service, mode Mode, minPass int) *Pipeline {
	return NewPipeline(newTestJudge(svc), mode, minPass)
}

func assertStageOrder(t *testing.T, res PipelineResult) {
	t.Helper()
	if len(res.Stages) != len(stageOrder) {
		t.Fatalf("got %d stages, want %d", len(res.Stages), len(stageOrder))
	}
	for i, want := range stageOrder {
		if res.Stages[i].Stage != want {
			t.Fatalf("stage[%d] = %s, want %s", i, res.Stages[i].Stage, want)
		}
	}
}

func TestPipelineAllPassStrict(t *testing.T) {
	p := newTestPipeline(alignedService(), ModeStrict, 0)
	res := p.Run(testCtx, commandContext(), ModeStrict)

	assertStageOrder(t, res)
	if res.Verdict != VerdictApproved {
		t.Fatalf("verdict = %s, want approved", res.Verdict)
	}
	for _, s := range res.Stages {
		if s.Outcome != OutcomePass {
			t.Errorf("stage %s outcome = %s (%s)", s.Stage, s.Outcome, s.Message)
		}
	}
	if res.Mode != ModeStrict {
		t.Errorf("mode = %s", res.Mode)
	}
}

// A safety failure rejects and skips the rest no matter the mode.
func TestPipelineSafetyFailureShortCircuits(t *testing.T) {
	for _, mode := range []Mode{ModeStrict, ModeLenient} {
		t.Run(string(mode), func(t *testing.T) {
			svc := alignedService()
			p := newTestPipeline(svc, mode, 3)

			vctx := commandContext()
			vctx.Action.Command = "pytest && reboot"
			res := p.Run(testCtx, vctx, mode)

			assertStageOrder(t, res)
			if res.Verdict != VerdictRejected {
				t.Fatalf("verdict = %s, want rejected", res.Verdict)
			}
			safety, _ := res.Stage(StageSafety)
			if safety.Outcome != OutcomeFail {
				t.Fatalf("safety outcome = %s, want fail", safety.Outcome)
			}
			intent, _ := res.Stage(StageIntent)
			if intent.Outcome != OutcomeSkipped {
				t.Errorf("intent outcome = %s, want skipped after safety failure", intent.Outcome)
			}
			if !res.SafetyFailed() {
				t.Error("SafetyFailed() = false")
			}
			if svc.calls != 0 {
				t.Errorf("judge was called %d times after safety failed", svc.calls)
			}
		})
	}
}

// One non-fatal failure rejects in strict mode but not in lenient mode
// when the pass threshold still holds.
func TestPipelineSingleNonFatalFailureByMode(t *testing.T) {
	brokenReply := replyContext()
	brokenReply.Action.Content = "" // fails syntax only

	t.Run("lenient approves at threshold", func(t *testing.T) {
		p := newTestPipeline(alignedService(), ModeLenient, 3)
		res := p.Run(testCtx, brokenReply, ModeLenient)

		assertStageOrder(t, res)
		syntax, _ := res.Stage(StageSyntax)
		if syntax.Outcome != OutcomeFail {
			t.Fatalf("syntax outcome = %s, want fail", syntax.Outcome)
		}
		if res.Verdict != VerdictApproved {
			t.Fatalf("verdict = %s, want approved with 4 of 5 passing", res.Verdict)
		}
	})

	t.Run("strict rejects and halts", func(t *testing.T) {
		svc := alignedService()
		p := newTestPipeline(svc, ModeStrict, 3)
		res := p.Run(testCtx, brokenReply, ModeStrict)

		assertStageOrder(t, res)
		if res.Verdict != VerdictRejected {
			t.Fatalf("verdict = %s, want rejected", res.Verdict)
		}
		for _, stage := range stageOrder[1:] {
			s, _ := res.Stage(stage)
			if s.Outcome != OutcomeSkipped {
				t.Errorf("stage %s outcome = %s, want skipped after strict halt", stage, s.Outcome)
			}
		}
		if svc.calls != 0 {
			t.Errorf("judge was called %d times after strict halt", svc.calls)
		}
	})
}

// Judge infrastructure failure is a skip, not a verdict: strict mode still
// approves when every executed stage passed, and the skip never counts as
// a pass toward a lenient threshold.
func TestPipelineJudgeInfrastructureFailure(t *testing.T) {
	broken := &stubService{err: &inference.BackendError{Provider: "ollama", Status: 503, Transient: true}}

	t.Run("strict approves on executed stages", func(t *testing.T) {
		p := newTestPipeline(broken, ModeStrict, 0)
		res := p.Run(testCtx, commandContext(), ModeStrict)

		if res.Verdict != VerdictApproved {
			t.Fatalf("verdict = %s, want approved when only the judge is down", res.Verdict)
		}
		intent, _ := res.Stage(StageIntent)
		if intent.Outcome != OutcomeSkipped {
			t.Fatalf("intent outcome = %s, want skipped", intent.Outcome)
		}
		if intent.Err == "" {
			t.Error("skipped intent stage carries no error annotation")
		}
	})

	t.Run("skip does not count toward lenient threshold", func(t *testing.T) {
		p := newTestPipeline(broken, ModeLenient, 5)
		res := p.Run(testCtx, commandContext(), ModeLenient)

		if res.Verdict != VerdictRejected {
			t.Fatalf("verdict = %s, want rejected with 4 passes below threshold 5", res.Verdict)
		}
	})
}

func TestPipelineLenientRequiresSafety(t *testing.T) {
	// Even with the threshold met by other stages, lenient mode never
	// approves past a safety failure.
	p := newTestPipeline(alignedService(), ModeLenient, 1)
	vctx := commandContext()
	vctx.Action.Command = "shutdown -h now"
	res := p.Run(testCtx, vctx, ModeLenient)

	if res.Verdict != VerdictRejected {
		t.Fatalf("verdict = %s, want rejected", res.Verdict)
	}
}

func TestPipelineUncertainJudgment(t *testing.T) {
	svc := &stubService{resp: `{"judgment":"uncertain","rationale":"ambiguous request"}`}
	p := newTestPipeline(svc, ModeStrict, 0)
	res := p.Run(testCtx, commandContext(), ModeStrict)

	if res.Verdict != VerdictRejected {
		t.Fatalf("verdict = %s, want rejected", res.Verdict)
	}
	if !res.IntentUncertain() {
		t.Error("IntentUncertain() = false for an uncertain judgment")
	}
	if res.SafetyFailed() {
		t.Error("SafetyFailed() = true without a safety failure")
	}
}

func TestPipelineDefaultsMode(t *testing.T) {
	p := newTestPipeline(alignedService(), ModeLenient, 3)
	res := p.Run(testCtx, commandContext(), "")
	if res.Mode != ModeLenient {
		t.Fatalf("mode = %s, want pipeline default lenient", res.Mode)
	}
}

func TestParseMode(t *testing.T) {
	if _, err := ParseMode("strict"); err != nil {
		t.Errorf("ParseMode(strict): %v", err)
	}
	if _, err := ParseMode("lenient"); err != nil {
		t.Errorf("ParseMode(lenient): %v", err)
	}
	if _, err := ParseMode("permissive"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}
