package ops

import (
	"time"

	"github.com/sefton37/triage/internal/taxonomy"
)

// FeedbackType distinguishes a user overriding the system from a user
// agreeing with it.
type FeedbackType string

const (
	FeedbackCorrection   FeedbackType = "correction"
	FeedbackConfirmation FeedbackType = "confirmation"
)

// Feedback is one user signal about an operation's classification. For a
// correction, System snapshots what the classifier said at the moment the
// user corrected it, and Corrected carries the user's triple; the snapshot
// is what makes the row usable as a teaching exemplar later, even after the
// operation itself is re-classified. For a confirmation, Corrected is zero.
type Feedback struct {
	ID          string                  `json:"id"`
	OperationID string                  `json:"operation_id"`
	UserID      string                  `json:"user_id,omitempty"`
	Type        FeedbackType            `json:"type"`
	System      taxonomy.Classification `json:"system"`
	Corrected   taxonomy.Classification `json:"corrected"`
	Reasoning   string                  `json:"reasoning,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// VerificationRecord is the persisted outcome of one verification pipeline
// run. Stages are kept as JSON so the audit trail survives verifier-set
// changes without migrations.
type VerificationRecord struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	Mode        string    `json:"mode"`
	Verdict     string    `json:"verdict"`
	StagesJSON  string    `json:"stages_json"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
