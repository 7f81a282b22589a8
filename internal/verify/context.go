package verify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sefton37/triage/internal/taxonomy"
)

// ActionKind names the shape of a proposed action.
type ActionKind string

const (
	// ActionReply is conversational text for the requesting person.
	ActionReply ActionKind = "reply"
	// ActionFileWrite creates or overwrites a file under the workspace.
	ActionFileWrite ActionKind = "file_write"
	// ActionFileRead reads an existing file.
	ActionFileRead ActionKind = "file_read"
	// ActionCommand runs an external program.
	ActionCommand ActionKind = "command"
	// ActionDataExport emits structured data for another program.
	ActionDataExport ActionKind = "data_export"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionReply, ActionFileWrite, ActionFileRead, ActionCommand, ActionDataExport:
		return true
	}
	return false
}

// Action is the proposed or already-executed action under verification.
// Which fields are meaningful depends on Kind: replies carry Content,
// file actions carry Path (writes also Content), commands carry Command,
// exports carry Payload.
type Action struct {
	Kind    ActionKind      `json:"kind"`
	Summary string          `json:"summary,omitempty"`
	Command string          `json:"command,omitempty"`
	Path    string          `json:"path,omitempty"`
	Content string          `json:"content,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Environment carries caller-supplied facts about the action's effects.
// Effects are strings of the form "verb:target" where verb is one of
// read, write, delete, spawn, net. DeclaredEffects is what the producing
// agent said the action would do; ObservedEffects is what a sandbox or
// dry run actually saw. Either list may be empty.
type Environment struct {
	DeclaredEffects []string `json:"declared_effects,omitempty"`
	ObservedEffects []string `json:"observed_effects,omitempty"`
}

// Context is the read-only input handed to every verifier for one run.
// It is assembled per run and discarded; verifiers never mutate the
// underlying operation through it.
type Context struct {
	OperationID    string
	Request        string
	Classification taxonomy.Classification
	Action         Action
	Env            Environment
}

// Effect is a parsed "verb:target" effect string.
type Effect struct {
	Verb   string
	Target string
}

// Mutating reports whether the effect changes state outside the process.
func (e Effect) Mutating() bool {
	switch e.Verb {
	case "write", "delete", "spawn":
		return true
	}
	return false
}

var knownEffectVerbs = map[string]bool{
	"read":   true,
	"write":  true,
	"delete": true,
	"spawn":  true,
	"net":    true,
}

// ParseEffect splits a "verb:target" effect string and rejects unknown
// verbs. The target may itself contain colons.
func ParseEffect(raw string) (Effect, error) {
	verb, target, ok := strings.Cut(raw, ":")
	if !ok || verb == "" || target == "" {
		return Effect{}, fmt.Errorf("malformed effect %q, want verb:target", raw)
	}
	if !knownEffectVerbs[verb] {
		return Effect{}, fmt.Errorf("unknown effect verb %q in %q", verb, raw)
	}
	return Effect{Verb: verb, Target: target}, nil
}
