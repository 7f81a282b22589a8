package classifier

import (
	"fmt"
	"strings"

	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/inference"
	"github.com/sefton37/triage/internal/taxonomy"
)

const systemPrompt = `You are a request classifier for a personal computing environment. Classify the user's request along three axes. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Axes:
- destination: where the handled result belongs.
  "stream" - the reply flows back into the conversation.
  "file" - the result is written to or read from durable storage.
  "process" - the request drives an external program or system action.
- consumer: who consumes the result.
  "human" - a person reads it.
  "machine" - another program parses it.
- semantics: how the request is treated.
  "read" - retrieve existing content without changing anything.
  "interpret" - understand and respond; conversational or analytical.
  "execute" - perform an action with side effects.

Rules:
- Plain greetings and small talk are stream, human, interpret.
- Set confident to false whenever the request is ambiguous. When torn between two readings, prefer false.
- reasoning: one short sentence explaining the choice.`

// BuildPrompt assembles the system and user prompts for one classification
// call. Past corrections are appended to the system prompt verbatim, most
// recent first; when there are none the block is omitted entirely so the
// model never sees an empty header.
func BuildPrompt(request string, corrections []exemplar.Record) (system, user string) {
	if len(corrections) == 0 {
		return systemPrompt, request
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\nPAST CORRECTIONS (most recent first):")
	for _, r := range corrections {
		fmt.Fprintf(&sb, "\n- Request: %q\n  System said: %s\n  User corrected: %s",
			r.Request, triple(r.System), triple(r.Corrected))
		if r.Reasoning != "" {
			fmt.Fprintf(&sb, "\n  Reason: %s", r.Reasoning)
		}
	}
	return sb.String(), request
}

func triple(c taxonomy.Classification) string {
	return fmt.Sprintf("%s/%s/%s", c.Destination, c.Consumer, c.Semantics)
}

// classificationSchema constrains the model's output. Enum values are
// derived from the taxonomy so the schema cannot drift from the axes.
func classificationSchema() *inference.Schema {
	return &inference.Schema{
		Type: "object",
		Properties: map[string]inference.Property{
			"destination": {Type: "string", Enum: destinationValues(), Description: "Where the handled result belongs"},
			"consumer":    {Type: "string", Enum: consumerValues(), Description: "Who consumes the result"},
			"semantics":   {Type: "string", Enum: semanticsValues(), Description: "How the request is treated"},
			"confident":   {Type: "boolean", Description: "False when the request is ambiguous"},
			"reasoning":   {Type: "string", Description: "One short sentence explaining the choice"},
		},
		Required: []string{"destination", "consumer", "semantics", "confident"},
	}
}

func destinationValues() []string {
	ds := taxonomy.Destinations()
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}

func consumerValues() []string {
	cs := taxonomy.Consumers()
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func semanticsValues() []string {
	ss := taxonomy.AllSemantics()
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
