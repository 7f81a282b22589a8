// Package router maps classifications to target agents. Routing is a pure
// lookup: same classification in, same decision out, no inference and no I/O.
package router

import (
	"fmt"

	"github.com/sefton37/triage/internal/taxonomy"
)

// AgentID names a downstream agent. Agents themselves live outside this
// process; the router only decides which one an operation belongs to.
type AgentID string

const (
	// AgentConversation handles dialogue with a person, including anything
	// the classifier was not confident about.
	AgentConversation AgentID = "conversation"
	// AgentExecutor performs side-effecting process work.
	AgentExecutor AgentID = "executor"
	// AgentReader retrieves existing state and reports it to a person.
	AgentReader AgentID = "reader"
	// AgentArchivist curates files: writes, saves, organizes.
	AgentArchivist AgentID = "archivist"
	// AgentEmitter produces machine-readable output for other programs.
	AgentEmitter AgentID = "emitter"
)

// Decision is the routing outcome for one classification.
type Decision struct {
	Agent AgentID `json:"agent"`
	// Fallback is set when the decision came from the low-confidence rule
	// rather than the table.
	Fallback bool `json:"fallback"`
	// Rule names the table entry or rule that produced the decision.
	Rule string `json:"rule"`
}

// UnroutableError reports a classification with no table entry. With a
// complete table this only happens when a caller routes an invalid triple.
type UnroutableError struct {
	Classification taxonomy.Classification
}

func (e *UnroutableError) Error() string {
	return fmt.Sprintf("no route for classification %s", e.Classification)
}

type key struct {
	destination taxonomy.Destination
	consumer    taxonomy.Consumer
	semantics   taxonomy.Semantics
}

// Table is an immutable routing table covering classification triples.
// Build one at startup and share it; Route never mutates it.
type Table struct {
	entries map[key]AgentID
}

// DefaultTable returns the standard routing policy. Every one of the 18
// taxonomy combinations has an entry:
//
//   - execute semantics go to the executor, except file destinations,
//     which the archivist owns;
//   - read semantics go to the reader for people and the emitter for
//     machine consumers;
//   - interpret semantics go to conversation for people and the emitter
//     for machine consumers.
func DefaultTable() *Table {
	return &Table{entries: map[key]AgentID{
		{taxonomy.DestinationStream, taxonomy.ConsumerHuman, taxonomy.SemanticsRead}:        AgentReader,
		{taxonomy.DestinationStream, taxonomy.ConsumerHuman, taxonomy.SemanticsInterpret}:   AgentConversation,
		{taxonomy.DestinationStream, taxonomy.ConsumerHuman, taxonomy.SemanticsExecute}:     AgentExecutor,
		{taxonomy.DestinationStream, taxonomy.ConsumerMachine, taxonomy.SemanticsRead}:      AgentEmitter,
		{taxonomy.DestinationStream, taxonomy.ConsumerMachine, taxonomy.SemanticsInterpret}: AgentEmitter,
		{taxonomy.DestinationStream, taxonomy.ConsumerMachine, taxonomy.SemanticsExecute}:   AgentExecutor,

		{taxonomy.DestinationFile, taxonomy.ConsumerHuman, taxonomy.SemanticsRead}:        AgentReader,
		{taxonomy.DestinationFile, taxonomy.ConsumerHuman, taxonomy.SemanticsInterpret}:   AgentConversation,
		{taxonomy.DestinationFile, taxonomy.ConsumerHuman, taxonomy.SemanticsExecute}:     AgentArchivist,
		{taxonomy.DestinationFile, taxonomy.ConsumerMachine, taxonomy.SemanticsRead}:      AgentEmitter,
		{taxonomy.DestinationFile, taxonomy.ConsumerMachine, taxonomy.SemanticsInterpret}: AgentEmitter,
		{taxonomy.DestinationFile, taxonomy.ConsumerMachine, taxonomy.SemanticsExecute}:   AgentArchivist,

		{taxonomy.DestinationProcess, taxonomy.ConsumerHuman, taxonomy.SemanticsRead}:        AgentReader,
		{taxonomy.DestinationProcess, taxonomy.ConsumerHuman, taxonomy.SemanticsInterpret}:   AgentConversation,
		{taxonomy.DestinationProcess, taxonomy.ConsumerHuman, taxonomy.SemanticsExecute}:     AgentExecutor,
		{taxonomy.DestinationProcess, taxonomy.ConsumerMachine, taxonomy.SemanticsRead}:      AgentEmitter,
		{taxonomy.DestinationProcess, taxonomy.ConsumerMachine, taxonomy.SemanticsInterpret}: AgentEmitter,
		{taxonomy.DestinationProcess, taxonomy.ConsumerMachine, taxonomy.SemanticsExecute}:   AgentExecutor,
	}}
}

// Route decides the target agent for a classification.
//
// A classification the classifier was not confident about always routes to
// the conversation agent with Fallback set, no matter what the axes say:
// shaky classifications get a person in the loop instead of an automated
// side effect. Confident classifications are looked up in the table.
func (t *Table) Route(c taxonomy.Classification) (Decision, error) {
	if !c.Confident {
		return Decision{
			Agent:    AgentConversation,
			Fallback: true,
			Rule:     "low-confidence fallback",
		}, nil
	}
	agent, ok := t.entries[key{c.Destination, c.Consumer, c.Semantics}]
	if !ok {
		return Decision{}, &UnroutableError{Classification: c}
	}
	return Decision{
		Agent: agent,
		Rule:  fmt.Sprintf("%s/%s/%s", c.Destination, c.Consumer, c.Semantics),
	}, nil
}

// Size returns the number of table entries.
func (t *Table) Size() int {
	return len(t.entries)
}
