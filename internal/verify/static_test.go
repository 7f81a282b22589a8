package verify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sefton37/triage/internal/taxonomy"
)

var testCtx = context.Background()

func classified(d taxonomy.Destination, c taxonomy.Consumer, s taxonomy.Semantics) taxonomy.Classification {
	return taxonomy.Classification{Destination: d, Consumer: c, Semantics: s, Confident: true}
}

// replyContext is a context every static stage accepts.
func replyContext() Context {
	return Context{
		OperationID:    "op-reply",
		Request:        "good morning",
		Classification: classified(taxonomy.DestinationStream, taxonomy.ConsumerHuman, taxonomy.SemanticsInterpret),
		Action:         Action{Kind: ActionReply, Summary: "greet the user", Content: "Good morning!"},
	}
}

// commandContext is a side-effecting context every static stage accepts.
func commandContext() Context {
	return Context{
		OperationID:    "op-cmd",
		Request:        "run the test suite",
		Classification: classified(taxonomy.DestinationProcess, taxonomy.ConsumerMachine, taxonomy.SemanticsExecute),
		Action:         Action{Kind: ActionCommand, Command: "pytest -q", Summary: "run tests"},
		Env: Environment{
			DeclaredEffects: []string{"spawn:pytest"},
			ObservedEffects: []string{"spawn:pytest"},
		},
	}
}

func TestSyntaxVerifier(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Context)
		outcome Outcome
		msgPart string
	}{
		{name: "valid reply passes", mutate: func(*Context) {}, outcome: OutcomePass},
		{
			name:    "unknown kind fails",
			mutate:  func(c *Context) { c.Action.Kind = "teleport" },
			outcome: OutcomeFail,
			msgPart: "unknown action kind",
		},
		{
			name:    "reply without content fails",
			mutate:  func(c *Context) { c.Action.Content = "" },
			outcome: OutcomeFail,
			msgPart: "no content",
		},
		{
			name: "file write without path fails",
			mutate: func(c *Context) {
				c.Action = Action{Kind: ActionFileWrite, Content: "notes"}
			},
			outcome: OutcomeFail,
			msgPart: "no path",
		},
		{
			name: "command with unbalanced quotes fails",
			mutate: func(c *Context) {
				c.Action = Action{Kind: ActionCommand, Command: `echo "unterminated`}
			},
			outcome: OutcomeFail,
			msgPart: "unbalanced quotes",
		},
		{
			name: "export with invalid payload fails",
			mutate: func(c *Context) {
				c.Action = Action{Kind: ActionDataExport, Payload: json.RawMessage(`{"broken":`)}
			},
			outcome: OutcomeFail,
			msgPart: "well-formed JSON",
		},
		{
			name: "export with valid payload passes",
			mutate: func(c *Context) {
				c.Action = Action{Kind: ActionDataExport, Payload: json.RawMessage(`{"rows":[1,2]}`)}
			},
			outcome: OutcomePass,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vctx := replyContext()
			tt.mutate(&vctx)
			res := SyntaxVerifier{}.Verify(testCtx, vctx)
			if res.Outcome != tt.outcome {
				t.Fatalf("outcome = %s (%s), want %s", res.Outcome, res.Message, tt.outcome)
			}
			if tt.msgPart != "" && !strings.Contains(res.Message, tt.msgPart) {
				t.Errorf("message %q does not mention %q", res.Message, tt.msgPart)
			}
		})
	}
}

func TestSyntaxVerifierAcceptsBalancedQuoting(t *testing.T) {
	vctx := commandContext()
	vctx.Action.Command = `grep -r "hello world" src/ && echo 'done'`
	res := SyntaxVerifier{}.Verify(testCtx, vctx)
	if res.Outcome != OutcomePass {
		t.Fatalf("outcome = %s (%s), want pass", res.Outcome, res.Message)
	}
}

func TestSemanticVerifier(t *testing.T) {
	tests := []struct {
		name    string
		vctx    Context
		outcome Outcome
		msgPart string
	}{
		{name: "reply to human passes", vctx: replyContext(), outcome: OutcomePass},
		{name: "command under process execute passes", vctx: commandContext(), outcome: OutcomePass},
		{
			name: "command under stream destination fails",
			vctx: func() Context {
				c := commandContext()
				c.Classification = classified(taxonomy.DestinationStream, taxonomy.ConsumerMachine, taxonomy.SemanticsExecute)
				return c
			}(),
			outcome: OutcomeFail,
			msgPart: "want process",
		},
		{
			name: "command under read semantics fails",
			vctx: func() Context {
				c := commandContext()
				c.Classification = classified(taxonomy.DestinationProcess, taxonomy.ConsumerMachine, taxonomy.SemanticsRead)
				return c
			}(),
			outcome: OutcomeFail,
			msgPart: "want execute",
		},
		{
			name: "reply to machine consumer fails",
			vctx: func() Context {
				c := replyContext()
				c.Classification = classified(taxonomy.DestinationStream, taxonomy.ConsumerMachine, taxonomy.SemanticsInterpret)
				return c
			}(),
			outcome: OutcomeFail,
			msgPart: "want human",
		},
		{
			name: "file write with empty content fails",
			vctx: Context{
				Classification: classified(taxonomy.DestinationFile, taxonomy.ConsumerHuman, taxonomy.SemanticsExecute),
				Action:         Action{Kind: ActionFileWrite, Path: "notes/today.md"},
			},
			outcome: OutcomeFail,
			msgPart: "empty content",
		},
		{
			name: "absolute path fails",
			vctx: Context{
				Classification: classified(taxonomy.DestinationFile, taxonomy.ConsumerHuman, taxonomy.SemanticsExecute),
				Action:         Action{Kind: ActionFileWrite, Path: "/home/user/notes.md", Content: "x"},
			},
			outcome: OutcomeFail,
			msgPart: "workspace-relative",
		},
		{
			name: "relative file write passes",
			vctx: Context{
				Classification: classified(taxonomy.DestinationFile, taxonomy.ConsumerHuman, taxonomy.SemanticsExecute),
				Action:         Action{Kind: ActionFileWrite, Path: "notes/today.md", Content: "remember the milk"},
			},
			outcome: OutcomePass,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := SemanticVerifier{}.Verify(testCtx, tt.vctx)
			if res.Outcome != tt.outcome {
				t.Fatalf("outcome = %s (%s), want %s", res.Outcome, res.Message, tt.outcome)
			}
			if tt.msgPart != "" && !strings.Contains(res.Message, tt.msgPart) {
				t.Errorf("message %q does not mention %q", res.Message, tt.msgPart)
			}
		})
	}
}

func TestBehavioralVerifier(t *testing.T) {
	tests := []struct {
		name    string
		vctx    Context
		outcome Outcome
		msgPart string
	}{
		{name: "no effects passes", vctx: replyContext(), outcome: OutcomePass},
		{name: "declared and observed match passes", vctx: commandContext(), outcome: OutcomePass},
		{
			name: "undeclared observed effect fails",
			vctx: func() Context {
				c := commandContext()
				c.Env.ObservedEffects = []string{"spawn:pytest", "write:coverage.xml"}
				return c
			}(),
			outcome: OutcomeFail,
			msgPart: "undeclared effect",
		},
		{
			name: "mutating effect under read semantics fails",
			vctx: Context{
				Classification: classified(taxonomy.DestinationFile, taxonomy.ConsumerHuman, taxonomy.SemanticsRead),
				Action:         Action{Kind: ActionFileRead, Path: "notes/today.md"},
				Env:            Environment{DeclaredEffects: []string{"write:notes/today.md"}},
			},
			outcome: OutcomeFail,
			msgPart: "mutates state under read semantics",
		},
		{
			name: "effect outside kind class fails",
			vctx: func() Context {
				c := commandContext()
				c.Env.DeclaredEffects = []string{"net:example.com"}
				c.Env.ObservedEffects = nil
				return c
			}(),
			outcome: OutcomeFail,
			msgPart: "outside what a command action may do",
		},
		{
			name: "malformed effect fails",
			vctx: func() Context {
				c := commandContext()
				c.Env.DeclaredEffects = []string{"spawned pytest"}
				return c
			}(),
			outcome: OutcomeFail,
			msgPart: "malformed effect",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := BehavioralVerifier{}.Verify(testCtx, tt.vctx)
			if res.Outcome != tt.outcome {
				t.Fatalf("outcome = %s (%s), want %s", res.Outcome, res.Message, tt.outcome)
			}
			if tt.msgPart != "" && !strings.Contains(res.Message, tt.msgPart) {
				t.Errorf("message %q does not mention %q", res.Message, tt.msgPart)
			}
		})
	}
}

func TestParseEffect(t *testing.T) {
	eff, err := ParseEffect("write:notes/today.md")
	if err != nil {
		t.Fatalf("ParseEffect: %v", err)
	}
	if eff.Verb != "write" || eff.Target != "notes/today.md" {
		t.Errorf("effect = %+v", eff)
	}
	if !eff.Mutating() {
		t.Error("write effect not marked mutating")
	}

	read, err := ParseEffect("read:config:v2.json")
	if err != nil {
		t.Fatalf("ParseEffect with colon target: %v", err)
	}
	if read.Target != "config:v2.json" {
		t.Errorf("target = %q, colons after the first should survive", read.Target)
	}
	if read.Mutating() {
		t.Error("read effect marked mutating")
	}

	if _, err := ParseEffect("levitate:desk"); err == nil {
		t.Error("unknown verb accepted")
	}
	if _, err := ParseEffect("write:"); err == nil {
		t.Error("empty target accepted")
	}
}
