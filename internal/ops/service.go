package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sefton37/triage/internal/classifier"
	"github.com/sefton37/triage/internal/router"
	"github.com/sefton37/triage/internal/taxonomy"
	"github.com/sefton37/triage/internal/verify"
)

// Store is the persistence the service needs. *storage.Store implements it.
type Store interface {
	CreateOperation(op Operation) error
	GetOperation(id string) (Operation, error)
	UpdateOperationClassification(id string, c taxonomy.Classification, status Status) error
	UpdateOperationStatus(id string, status Status) error
	ListRecentOperations(limit int) ([]Operation, error)
	ListOperationsByStatus(status Status, limit int) ([]Operation, error)
	StoreFeedback(fb Feedback) error
	ListFeedbackForOperation(operationID string) ([]Feedback, error)
	SaveVerification(rec VerificationRecord) error
	ListVerificationsForOperation(operationID string) ([]VerificationRecord, error)
	EnqueueMetricsJob(userID string) error
}

// Classifier produces a classification for raw request text.
type Classifier interface {
	Classify(ctx context.Context, request string) (classifier.Result, error)
}

// Router decides the target agent for a classification.
type Router interface {
	Route(c taxonomy.Classification) (router.Decision, error)
}

// Pipeline verifies a proposed action.
type Pipeline interface {
	Run(ctx context.Context, vctx verify.Context, mode verify.Mode) verify.PipelineResult
}

// Service drives operations through the lifecycle: create, classify,
// route, verify, and the feedback loop that teaches the classifier.
type Service struct {
	store      Store
	classifier Classifier
	router     Router
	pipeline   Pipeline
}

// NewService wires the operation service.
func NewService(store Store, c Classifier, r Router, p Pipeline) *Service {
	return &Service{store: store, classifier: c, router: r, pipeline: p}
}

// Create persists a new operation in created status.
func (s *Service) Create(userID, request string) (Operation, error) {
	now := time.Now().UTC()
	op := Operation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Request:   request,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateOperation(op); err != nil {
		return Operation{}, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

// Get fetches one operation.
func (s *Service) Get(id string) (Operation, error) {
	return s.store.GetOperation(id)
}

// Detail is an operation with its full audit trail.
type Detail struct {
	Operation     Operation            `json:"operation"`
	Feedback      []Feedback           `json:"feedback,omitempty"`
	Verifications []VerificationRecord `json:"verifications,omitempty"`
}

// GetDetail fetches an operation together with its feedback and
// verification history.
func (s *Service) GetDetail(id string) (Detail, error) {
	op, err := s.store.GetOperation(id)
	if err != nil {
		return Detail{}, err
	}
	feedback, err := s.store.ListFeedbackForOperation(id)
	if err != nil {
		return Detail{}, fmt.Errorf("listing feedback: %w", err)
	}
	verifications, err := s.store.ListVerificationsForOperation(id)
	if err != nil {
		return Detail{}, fmt.Errorf("listing verifications: %w", err)
	}
	return Detail{Operation: op, Feedback: feedback, Verifications: verifications}, nil
}

// ListRecent returns the newest operations, optionally filtered to one
// status.
func (s *Service) ListRecent(status Status, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	if status == "" {
		return s.store.ListRecentOperations(limit)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return s.store.ListOperationsByStatus(status, limit)
}

// Classify runs a bare classification without creating an operation.
func (s *Service) Classify(ctx context.Context, userID, request string) (classifier.Result, error) {
	res, err := s.classifier.Classify(ctx, request)
	if err != nil {
		return classifier.Result{}, err
	}
	slog.Debug("classified without operation", "user", userID, "classification", res.Classification.String())
	return res, nil
}

// Route decides the target agent for a classification. Pure passthrough,
// exposed so callers can inspect routing without running a full flow.
func (s *Service) Route(c taxonomy.Classification) (router.Decision, error) {
	return s.router.Route(c)
}

// ProcessRequest is the input to a full classify-route-verify flow.
// Action may be nil when the caller only wants the operation classified
// and routed; the agent's proposed action is then verified later via
// Verify.
type ProcessRequest struct {
	UserID  string
	Request string
	Action  *verify.Action
	Env     verify.Environment
	Mode    verify.Mode
}

// Outcome is what one Process run produced. Verification is nil when no
// action was supplied.
type Outcome struct {
	Operation    Operation              `json:"operation"`
	Result       classifier.Result      `json:"result"`
	Decision     router.Decision        `json:"decision"`
	Verification *verify.PipelineResult `json:"verification,omitempty"`
}

// Process drives a request through the full flow: create the operation,
// classify it, route it, and, when an action is supplied, verify it to a
// final disposition. On error the operation is left at the last status it
// legitimately reached; the error message carries its id.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (Outcome, error) {
	op, err := s.Create(req.UserID, req.Request)
	if err != nil {
		return Outcome{}, err
	}

	res, err := s.classifier.Classify(ctx, req.Request)
	if err != nil {
		return Outcome{}, fmt.Errorf("operation %s: %w", op.ID, err)
	}
	if err := s.store.UpdateOperationClassification(op.ID, res.Classification, StatusClassified); err != nil {
		return Outcome{}, fmt.Errorf("operation %s: storing classification: %w", op.ID, err)
	}
	op.Classification = res.Classification
	op.Status = StatusClassified

	dec, err := s.router.Route(res.Classification)
	if err != nil {
		return Outcome{}, fmt.Errorf("operation %s: %w", op.ID, err)
	}
	if err := s.transition(&op, StatusRouted); err != nil {
		return Outcome{}, err
	}

	slog.Info("operation routed",
		"operation", op.ID,
		"classification", op.Classification.String(),
		"agent", dec.Agent,
		"fallback", dec.Fallback)

	out := Outcome{Operation: op, Result: res, Decision: dec}
	if req.Action == nil {
		return out, nil
	}

	pr, err := s.verifyRouted(ctx, &op, dec, *req.Action, req.Env, req.Mode)
	if err != nil {
		return Outcome{}, err
	}
	out.Operation = op
	out.Verification = &pr
	return out, nil
}

// Verify runs the pipeline against a routed operation's proposed action
// and settles its disposition. The routing decision is recomputed from
// the stored classification; routing is pure, so this matches what
// Process decided.
func (s *Service) Verify(ctx context.Context, operationID string, action verify.Action, env verify.Environment, mode verify.Mode) (verify.PipelineResult, error) {
	op, err := s.store.GetOperation(operationID)
	if err != nil {
		return verify.PipelineResult{}, err
	}
	dec, err := s.router.Route(op.Classification)
	if err != nil {
		return verify.PipelineResult{}, fmt.Errorf("operation %s: %w", op.ID, err)
	}
	return s.verifyRouted(ctx, &op, dec, action, env, mode)
}

func (s *Service) verifyRouted(ctx context.Context, op *Operation, dec router.Decision, action verify.Action, env verify.Environment, mode verify.Mode) (verify.PipelineResult, error) {
	if err := s.transition(op, StatusVerifying); err != nil {
		return verify.PipelineResult{}, err
	}

	pr := s.pipeline.Run(ctx, verify.Context{
		OperationID:    op.ID,
		Request:        op.Request,
		Classification: op.Classification,
		Action:         action,
		Env:            env,
	}, mode)

	if err := s.saveVerification(op.ID, pr); err != nil {
		return verify.PipelineResult{}, err
	}

	final := disposition(dec.Fallback, pr)
	if err := s.transition(op, final); err != nil {
		return verify.PipelineResult{}, err
	}

	slog.Info("operation verified",
		"operation", op.ID,
		"mode", pr.Mode,
		"verdict", pr.Verdict,
		"status", final)
	return pr, nil
}

func (s *Service) saveVerification(operationID string, pr verify.PipelineResult) error {
	stages, err := json.Marshal(pr.Stages)
	if err != nil {
		return fmt.Errorf("encoding stage results: %w", err)
	}
	rec := VerificationRecord{
		ID:          uuid.New().String(),
		OperationID: operationID,
		Mode:        string(pr.Mode),
		Verdict:     string(pr.Verdict),
		StagesJSON:  string(stages),
		DurationMS:  pr.DurationMs,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveVerification(rec); err != nil {
		return fmt.Errorf("saving verification record: %w", err)
	}
	return nil
}

// disposition settles a verified operation's status. A safety failure is
// a hard rejection, never downgraded. An approved run that reached its
// agent through the low-confidence fallback still needs a person to sign
// off, as does a rejection whose only content failure was an uncertain
// intent judgment.
func disposition(fallback bool, pr verify.PipelineResult) Status {
	if pr.SafetyFailed() {
		return StatusRejected
	}
	if pr.Verdict == verify.VerdictApproved {
		if fallback {
			return StatusEscalated
		}
		return StatusApproved
	}
	if pr.IntentUncertain() {
		return StatusEscalated
	}
	return StatusRejected
}

// FeedbackRequest is one user signal about an operation.
type FeedbackRequest struct {
	OperationID string
	UserID      string
	Type        FeedbackType
	Corrected   taxonomy.Classification
	Reasoning   string
}

// RecordFeedback stores the feedback row and, for a correction on a
// live operation, revises the classification and re-enters the classified
// status so the operation is re-routed with the user's triple. A
// correction on a terminal operation only appends the exemplar; the
// disposition stands. Once RecordFeedback returns, a correction is
// visible to subsequent exemplar reads.
func (s *Service) RecordFeedback(req FeedbackRequest) (Feedback, error) {
	op, err := s.store.GetOperation(req.OperationID)
	if err != nil {
		return Feedback{}, err
	}

	switch req.Type {
	case FeedbackCorrection:
		if !req.Corrected.Valid() {
			return Feedback{}, fmt.Errorf("correction carries invalid classification %s", req.Corrected)
		}
	case FeedbackConfirmation:
	default:
		return Feedback{}, fmt.Errorf("unknown feedback type %q", req.Type)
	}

	userID := req.UserID
	if userID == "" {
		userID = op.UserID
	}

	fb := Feedback{
		ID:          uuid.New().String(),
		OperationID: op.ID,
		UserID:      userID,
		Type:        req.Type,
		System:      op.Classification,
		Reasoning:   req.Reasoning,
		CreatedAt:   time.Now().UTC(),
	}
	if req.Type == FeedbackCorrection {
		corrected := req.Corrected
		// The user settled the triple, so the revised classification is
		// confident by definition.
		corrected.Confident = true
		fb.Corrected = corrected
	}

	if err := s.store.StoreFeedback(fb); err != nil {
		return Feedback{}, fmt.Errorf("storing feedback: %w", err)
	}

	if req.Type == FeedbackCorrection && !op.Status.Terminal() {
		if err := s.store.UpdateOperationClassification(op.ID, fb.Corrected, StatusClassified); err != nil {
			return Feedback{}, fmt.Errorf("revising classification: %w", err)
		}
	}

	// Metrics are advisory; the feedback row is already durable, so a
	// queue hiccup only delays the recomputation.
	if err := s.store.EnqueueMetricsJob(userID); err != nil {
		slog.Warn("enqueueing metrics job failed", "user", userID, "error", err)
	}

	slog.Info("feedback recorded", "operation", op.ID, "type", fb.Type)
	return fb, nil
}

// Resolve settles an escalated operation by hand.
func (s *Service) Resolve(id string, approve bool) (Operation, error) {
	op, err := s.store.GetOperation(id)
	if err != nil {
		return Operation{}, err
	}
	next := StatusRejected
	if approve {
		next = StatusApproved
	}
	if err := s.transition(&op, next); err != nil {
		return Operation{}, err
	}
	slog.Info("operation resolved", "operation", op.ID, "status", next)
	return op, nil
}

// transition moves the operation to next after checking legality against
// the state machine.
func (s *Service) transition(op *Operation, next Status) error {
	if !op.Status.CanTransition(next) {
		return &InvalidTransitionError{OperationID: op.ID, From: op.Status, To: next}
	}
	if err := s.store.UpdateOperationStatus(op.ID, next); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	op.Status = next
	op.UpdatedAt = time.Now().UTC()
	return nil
}
