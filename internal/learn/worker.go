package learn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/storage"
)

// JobStore abstracts the job queue and the reads a metrics run needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id, msg string) error
	CountOperationsSince(userID string, since time.Time) (int, error)
	FeedbackSince(userID string, since time.Time) ([]ops.Feedback, error)
	StoreLearningMetrics(m ops.LearningMetrics) error
}

// Worker drains learn_metrics jobs from the SQLite job queue, recomputing
// a user's metrics snapshot after each feedback write.
type Worker struct {
	store  JobStore
	poll   time.Duration
	logger *slog.Logger
}

const defaultPollInterval = 500 * time.Millisecond

// NewWorker builds a Worker polling at pollInterval; zero or negative
// intervals fall back to the default.
func NewWorker(store JobStore, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Worker{store: store, poll: pollInterval, logger: slog.Default()}
}

// Run drains the queue until ctx is cancelled. While jobs keep coming it
// claims again immediately so bursts clear quickly; an idle claim sleeps
// for the poll interval.
func (w *Worker) Run(ctx context.Context) {
	for {
		for ctx.Err() == nil {
			done, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error("metrics worker iteration failed", "error", err)
			}
			if !done {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes one learn_metrics job. It reports true
// when a job was claimed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{ops.JobTypeLearnMetrics})
	if err != nil {
		return false, fmt.Errorf("claiming next job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if runErr := w.processJob(job); runErr != nil {
		w.logger.Warn("metrics job failed", "job_id", job.ID, "error", runErr)
		if err := w.store.FailJob(job.ID, runErr.Error()); err != nil {
			w.logger.Error("marking job failed", "job_id", job.ID, "error", err)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("marking job %s complete: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(job *storage.Job) error {
	var payload ops.MetricsJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	windowDays := payload.WindowDays
	if windowDays <= 0 {
		windowDays = ops.DefaultMetricsWindowDays
	}
	now := time.Now().UTC()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	operations, err := w.store.CountOperationsSince(payload.UserID, since)
	if err != nil {
		return fmt.Errorf("counting operations: %w", err)
	}
	feedback, err := w.store.FeedbackSince(payload.UserID, since)
	if err != nil {
		return fmt.Errorf("loading feedback: %w", err)
	}

	m := Compute(payload.UserID, windowDays, operations, feedback, now)
	if err := w.store.StoreLearningMetrics(m); err != nil {
		return fmt.Errorf("storing metrics: %w", err)
	}

	w.logger.Info("metrics recomputed",
		"user", payload.UserID,
		"window_days", windowDays,
		"operations", m.Operations,
		"correction_rate", m.CorrectionRate)
	return nil
}
