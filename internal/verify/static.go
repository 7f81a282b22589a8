package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sefton37/triage/internal/taxonomy"
)

// SyntaxVerifier checks structural validity of the action: the kind is
// known, the fields that kind requires are present, a payload (when set)
// is well-formed JSON, and command strings tokenize cleanly.
type SyntaxVerifier struct{}

func (SyntaxVerifier) Stage() Stage { return StageSyntax }

func (SyntaxVerifier) Verify(_ context.Context, vctx Context) StageResult {
	a := vctx.Action
	if !a.Kind.Valid() {
		return fail(fmt.Sprintf("unknown action kind %q", a.Kind))
	}

	switch a.Kind {
	case ActionReply:
		if a.Content == "" {
			return fail("reply action has no content")
		}
	case ActionFileWrite, ActionFileRead:
		if a.Path == "" {
			return fail(fmt.Sprintf("%s action has no path", a.Kind))
		}
	case ActionCommand:
		if strings.TrimSpace(a.Command) == "" {
			return fail("command action has no command")
		}
		if err := checkCommandTokens(a.Command); err != nil {
			return fail(err.Error())
		}
	case ActionDataExport:
		if len(a.Payload) == 0 {
			return fail("data_export action has no payload")
		}
	}

	if len(a.Payload) > 0 && !json.Valid(a.Payload) {
		return fail("payload is not well-formed JSON")
	}
	return pass("action is structurally valid")
}

// checkCommandTokens walks the command string tracking quote state. It
// rejects unterminated quoting, the most common way a generated command
// fails to parse in a shell.
func checkCommandTokens(cmd string) error {
	var inSingle, inDouble, escaped bool
	for _, r := range cmd {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		}
	}
	if inSingle || inDouble {
		return fmt.Errorf("command has unbalanced quotes")
	}
	if escaped {
		return fmt.Errorf("command ends with a dangling escape")
	}
	return nil
}

// SemanticVerifier checks that the action is consistent with the
// operation's classification and that its arguments type-check: commands
// belong to process/execute operations, file writes to file/execute,
// replies to human consumers, exports to machine consumers, and paths
// stay relative to the workspace.
type SemanticVerifier struct{}

func (SemanticVerifier) Stage() Stage { return StageSemantic }

func (SemanticVerifier) Verify(_ context.Context, vctx Context) StageResult {
	a := vctx.Action
	c := vctx.Classification

	switch a.Kind {
	case ActionCommand:
		if c.Destination != taxonomy.DestinationProcess {
			return fail(fmt.Sprintf("command action under %s destination, want process", c.Destination))
		}
		if c.Semantics != taxonomy.SemanticsExecute {
			return fail(fmt.Sprintf("command action under %s semantics, want execute", c.Semantics))
		}
	case ActionFileWrite:
		if c.Destination != taxonomy.DestinationFile {
			return fail(fmt.Sprintf("file_write action under %s destination, want file", c.Destination))
		}
		if c.Semantics != taxonomy.SemanticsExecute {
			return fail(fmt.Sprintf("file_write action under %s semantics, want execute", c.Semantics))
		}
	case ActionFileRead:
		if c.Destination != taxonomy.DestinationFile {
			return fail(fmt.Sprintf("file_read action under %s destination, want file", c.Destination))
		}
	case ActionReply:
		if c.Consumer != taxonomy.ConsumerHuman {
			return fail(fmt.Sprintf("reply action for %s consumer, want human", c.Consumer))
		}
	case ActionDataExport:
		if c.Consumer != taxonomy.ConsumerMachine {
			return fail(fmt.Sprintf("data_export action for %s consumer, want machine", c.Consumer))
		}
	}

	if a.Path != "" {
		if strings.HasPrefix(a.Path, "/") || strings.HasPrefix(a.Path, "~") {
			return fail(fmt.Sprintf("path %q is not workspace-relative", a.Path))
		}
	}
	if a.Kind == ActionFileWrite && a.Content == "" {
		return fail("file_write action has empty content")
	}
	return pass("action is consistent with its classification")
}

// BehavioralVerifier checks the action's effects against expectations:
// everything observed was declared, nothing mutates under read or
// interpret semantics, and no effect falls outside what the action kind
// may plausibly do. With no effects supplied there is nothing to check
// and the stage passes.
type BehavioralVerifier struct{}

func (BehavioralVerifier) Stage() Stage { return StageBehavioral }

// allowedEffectVerbs maps an action kind to the effect verbs it may
// legitimately produce.
var allowedEffectVerbs = map[ActionKind]map[string]bool{
	ActionReply:      {},
	ActionFileRead:   {"read": true},
	ActionFileWrite:  {"read": true, "write": true},
	ActionCommand:    {"read": true, "write": true, "spawn": true},
	ActionDataExport: {"read": true, "net": true},
}

func (BehavioralVerifier) Verify(_ context.Context, vctx Context) StageResult {
	env := vctx.Env
	if len(env.DeclaredEffects) == 0 && len(env.ObservedEffects) == 0 {
		return pass("no effects to check")
	}

	declared := make(map[string]bool, len(env.DeclaredEffects))
	for _, raw := range env.DeclaredEffects {
		eff, err := ParseEffect(raw)
		if err != nil {
			return fail("declared effect: " + err.Error())
		}
		if res, bad := checkEffect(vctx, eff, raw, "declared"); bad {
			return res
		}
		declared[raw] = true
	}

	for _, raw := range env.ObservedEffects {
		if _, err := ParseEffect(raw); err != nil {
			return fail("observed effect: " + err.Error())
		}
		// A declared effect has already been vetted, so an observed one
		// only needs to match a declaration.
		if !declared[raw] {
			return fail(fmt.Sprintf("undeclared effect observed: %s", raw))
		}
	}
	return pass("observed effects match declarations")
}

func checkEffect(vctx Context, eff Effect, raw, origin string) (StageResult, bool) {
	sem := vctx.Classification.Semantics
	if eff.Mutating() && (sem == taxonomy.SemanticsRead || sem == taxonomy.SemanticsInterpret) {
		return fail(fmt.Sprintf("%s effect %s mutates state under %s semantics", origin, raw, sem)), true
	}
	if !allowedEffectVerbs[vctx.Action.Kind][eff.Verb] {
		return fail(fmt.Sprintf("%s effect %s outside what a %s action may do", origin, raw, vctx.Action.Kind)), true
	}
	return StageResult{}, false
}
