// Package ops owns the atomic-operation lifecycle: the unit of work, its
// state machine, feedback ingestion, and the classify → route → verify flow
// that drives an operation from created to a terminal disposition.
package ops

import (
	"fmt"
	"time"

	"github.com/sefton37/triage/internal/taxonomy"
)

// Status is an operation's position in the lifecycle.
type Status string

const (
	StatusCreated    Status = "created"
	StatusClassified Status = "classified"
	StatusRouted     Status = "routed"
	StatusVerifying  Status = "verifying"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusEscalated  Status = "escalated"
)

// transitions maps each status to the statuses reachable from it. A
// correction re-enters classified from any non-terminal status, hence the
// classified entries beyond the forward path. Approved and rejected are
// terminal.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusClassified},
	StatusClassified: {StatusRouted, StatusClassified},
	StatusRouted:     {StatusVerifying, StatusClassified},
	StatusVerifying:  {StatusApproved, StatusRejected, StatusEscalated, StatusClassified},
	StatusEscalated:  {StatusApproved, StatusRejected, StatusClassified},
	StatusApproved:   {},
	StatusRejected:   {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the operation's disposition is settled.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempted illegal status move.
type InvalidTransitionError struct {
	OperationID string
	From, To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("operation %s: illegal transition %s -> %s", e.OperationID, e.From, e.To)
}

// Operation is the unit of work. It is owned by the store for its entire
// lifetime; nothing outside the store's API mutates it.
type Operation struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"user_id,omitempty"`
	Request        string                  `json:"request"`
	Classification taxonomy.Classification `json:"classification"` // zero value until classified
	Status         Status                  `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Classified reports whether the operation carries a valid classification.
func (o Operation) Classified() bool {
	return o.Classification.Valid()
}
