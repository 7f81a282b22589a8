package verify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sefton37/triage/internal/inference"
)

type stubService struct {
	resp  string
	err   error
	calls int
	last  inference.Request
}

func (s *stubService) Complete(_ context.Context, req inference.Request) (string, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return "", s.err
	}
	return s.resp, nil
}

func newTestJudge(svc inference.Service) *IntentJudge {
	return NewIntentJudge(svc, "judge-model", time.Second)
}

func TestIntentJudgeAligned(t *testing.T) {
	svc := &stubService{resp: `{"judgment":"aligned","rationale":"the reply greets the user as asked"}`}
	judge := newTestJudge(svc)

	res := judge.Verify(testCtx, replyContext())
	if res.Outcome != OutcomePass {
		t.Fatalf("outcome = %s (%s), want pass", res.Outcome, res.Message)
	}
	if res.Judgment != JudgmentAligned {
		t.Errorf("judgment = %s, want aligned", res.Judgment)
	}
	if res.Message == "" {
		t.Error("rationale not carried into the message")
	}
	if svc.last.Model != "judge-model" {
		t.Errorf("model = %q", svc.last.Model)
	}
	if svc.last.Schema == nil {
		t.Error("judge call carries no schema")
	}
}

func TestIntentJudgeMisaligned(t *testing.T) {
	svc := &stubService{resp: `{"judgment":"misaligned","rationale":"user asked for a greeting, action deletes files"}`}
	judge := newTestJudge(svc)

	res := judge.Verify(testCtx, replyContext())
	if res.Outcome != OutcomeFail {
		t.Fatalf("outcome = %s, want fail", res.Outcome)
	}
	if res.Judgment != JudgmentMisaligned {
		t.Errorf("judgment = %s, want misaligned", res.Judgment)
	}
	if res.Err != "" {
		t.Errorf("content failure carries error annotation %q", res.Err)
	}
}

func TestIntentJudgeUncertain(t *testing.T) {
	svc := &stubService{resp: `{"judgment":"uncertain","rationale":"the request could mean two things"}`}
	judge := newTestJudge(svc)

	res := judge.Verify(testCtx, replyContext())
	if res.Outcome != OutcomeFail {
		t.Fatalf("outcome = %s, want fail", res.Outcome)
	}
	if res.Judgment != JudgmentUncertain {
		t.Errorf("judgment = %s, want uncertain", res.Judgment)
	}
}

func TestIntentJudgeBackendFailureSkips(t *testing.T) {
	svc := &stubService{err: &inference.BackendError{Provider: "ollama", Status: 502, Transient: true}}
	judge := newTestJudge(svc)

	res := judge.Verify(testCtx, replyContext())
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped on backend failure", res.Outcome)
	}
	if res.Err == "" {
		t.Fatal("skipped stage carries no error annotation")
	}
	if !strings.Contains(res.Err, "intent stage infrastructure failure") {
		t.Errorf("annotation %q does not name the intent stage", res.Err)
	}
	if res.Judgment != "" {
		t.Errorf("skipped stage carries judgment %q", res.Judgment)
	}
}

func TestIntentJudgeRepairsFencedResponse(t *testing.T) {
	svc := &stubService{resp: "```json\n{\"judgment\": \"aligned\", \"rationale\": \"fine\"}\n```"}
	judge := newTestJudge(svc)

	res := judge.Verify(testCtx, replyContext())
	if res.Outcome != OutcomePass {
		t.Fatalf("outcome = %s (%s), want pass after repair", res.Outcome, res.Err)
	}
}

func TestIntentJudgeMalformedJudgmentSkips(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{name: "not json at all", resp: "I think it is fine."},
		{name: "unknown judgment value", resp: `{"judgment":"plausible","rationale":"?"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := newTestJudge(&stubService{resp: tt.resp})
			res := judge.Verify(testCtx, replyContext())
			if res.Outcome != OutcomeSkipped {
				t.Fatalf("outcome = %s, want skipped for unusable judgment", res.Outcome)
			}
			if res.Err == "" {
				t.Error("no error annotation")
			}
		})
	}
}

func TestJudgeUserPromptCarriesActionDetail(t *testing.T) {
	svc := &stubService{resp: `{"judgment":"aligned","rationale":"ok"}`}
	judge := newTestJudge(svc)

	vctx := commandContext()
	judge.Verify(testCtx, vctx)

	if !strings.Contains(svc.last.Prompt, vctx.Request) {
		t.Error("prompt does not carry the original request")
	}
	if !strings.Contains(svc.last.Prompt, "pytest -q") {
		t.Error("prompt does not carry the command")
	}
	if !strings.Contains(svc.last.System, "JSON only") {
		t.Error("system prompt does not demand JSON output")
	}
}

func TestTruncateForJudge(t *testing.T) {
	long := strings.Repeat("x", maxJudgeChars+100)
	got := truncateForJudge(long)
	if len(got) >= len(long) {
		t.Fatal("long input not truncated")
	}
	if !strings.HasSuffix(got, "[truncated]") {
		t.Errorf("truncated output does not say so: %q", got[len(got)-20:])
	}
	if short := truncateForJudge("short"); short != "short" {
		t.Errorf("short input altered: %q", short)
	}
}
