// Package storage is the single writer for operations, feedback,
// verification records, learning metrics, and the background job queue,
// all in one SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/taxonomy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for operations, feedback,
// verifications, learning metrics, and jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "triage.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}

	// SQLite has one writer; a single connection keeps "database is
	// locked" out of the error paths.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate bootstraps the schema_version table, then applies every
// embedded migration file whose version it does not yet record. Each
// migration runs in its own transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("bootstrapping schema_version: %w", err)
	}

	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("listing embedded migrations: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := migrationVersion(name)
		if err != nil {
			return err
		}
		applied, err := s.migrationApplied(version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(version, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrationApplied(version int) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version WHERE version = ?`, version).Scan(&n); err != nil {
		return false, fmt.Errorf("checking migration %d: %w", version, err)
	}
	return n > 0, nil
}

func (s *Store) applyMigration(version int, name string) error {
	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("running migration %d: %w", version, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("recording version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finishing migration %d: %w", version, err)
	}
	return nil
}

// migrationVersion extracts the numeric prefix of a migration filename.
func migrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("migration filename %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations lists the applied migration versions, ascending.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied = append(applied, version)
	}
	return applied, rows.Err()
}

// --- Operations ---

const operationColumns = `id, user_id, request, destination, consumer, semantics, confident, status, created_at, updated_at`

// CreateOperation inserts a new operation. The insert is a single
// statement, so concurrent readers never see a partial row.
func (s *Store) CreateOperation(op ops.Operation) error {
	status := op.Status
	if status == "" {
		status = ops.StatusCreated
	}
	now := time.Now().UTC()
	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := op.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := s.db.Exec(`
		INSERT INTO operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.UserID, op.Request,
		string(op.Classification.Destination), string(op.Classification.Consumer), string(op.Classification.Semantics),
		boolToInt(op.Classification.Confident), string(status),
		createdAt.Format(time.RFC3339), updatedAt.Format(time.RFC3339),
	)
	return err
}

// GetOperation fetches one operation by id.
func (s *Store) GetOperation(id string) (ops.Operation, error) {
	row := s.db.QueryRow(`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row.Scan)
	if err == sql.ErrNoRows {
		return ops.Operation{}, &NotFoundError{Kind: "operation", ID: id}
	}
	return op, err
}

// UpdateOperationClassification replaces the stored classification and
// status in one statement, used both when the classifier first runs and
// when a correction revises the triple.
func (s *Store) UpdateOperationClassification(id string, c taxonomy.Classification, status ops.Status) error {
	res, err := s.db.Exec(`
		UPDATE operations
		SET destination = ?, consumer = ?, semantics = ?, confident = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Destination), string(c.Consumer), string(c.Semantics),
		boolToInt(c.Confident), string(status),
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "operation", id)
}

// UpdateOperationStatus moves the operation to a new status. Transition
// legality is the ops service's responsibility; the store just writes.
func (s *Store) UpdateOperationStatus(id string, status ops.Status) error {
	res, err := s.db.Exec(`UPDATE operations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res, "operation", id)
}

// ListRecentOperations returns the newest operations first.
func (s *Store) ListRecentOperations(limit int) ([]ops.Operation, error) {
	rows, err := s.db.Query(`
		SELECT `+operationColumns+` FROM operations
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectOperations(rows)
}

// ListOperationsByStatus returns the newest operations in one status.
func (s *Store) ListOperationsByStatus(status ops.Status, limit int) ([]ops.Operation, error) {
	rows, err := s.db.Query(`
		SELECT `+operationColumns+` FROM operations
		WHERE status = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	return collectOperations(rows)
}

// CountOperationsSince counts a user's operations created at or after the
// cutoff. An empty userID counts across all users.
func (s *Store) CountOperationsSince(userID string, since time.Time) (int, error) {
	cutoff := since.UTC().Format(time.RFC3339)
	var n int
	var err error
	if userID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM operations WHERE created_at >= ?`, cutoff).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM operations WHERE user_id = ? AND created_at >= ?`, userID, cutoff).Scan(&n)
	}
	return n, err
}

func collectOperations(rows *sql.Rows) ([]ops.Operation, error) {
	defer rows.Close()
	var results []ops.Operation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, op)
	}
	return results, rows.Err()
}

func scanOperation(scan func(...any) error) (ops.Operation, error) {
	var op ops.Operation
	var destination, consumer, semantics, status string
	var confident int
	var createdAt, updatedAt string
	err := scan(&op.ID, &op.UserID, &op.Request,
		&destination, &consumer, &semantics, &confident, &status,
		&createdAt, &updatedAt)
	if err != nil {
		return ops.Operation{}, err
	}
	op.Classification = taxonomy.Classification{
		Destination: taxonomy.Destination(destination),
		Consumer:    taxonomy.Consumer(consumer),
		Semantics:   taxonomy.Semantics(semantics),
		Confident:   confident != 0,
	}
	op.Status = ops.Status(status)
	if op.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ops.Operation{}, fmt.Errorf("operation created_at: %w", err)
	}
	if op.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return ops.Operation{}, fmt.Errorf("operation updated_at: %w", err)
	}
	return op, nil
}

// --- Feedback ---

// StoreFeedback inserts one feedback row. The insert is a single
// statement; once it returns, the row is visible to correction reads.
func (s *Store) StoreFeedback(fb ops.Feedback) error {
	createdAt := fb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO feedback (id, operation_id, user_id, feedback_type,
			system_destination, system_consumer, system_semantics,
			corrected_destination, corrected_consumer, corrected_semantics,
			reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.OperationID, fb.UserID, string(fb.Type),
		string(fb.System.Destination), string(fb.System.Consumer), string(fb.System.Semantics),
		string(fb.Corrected.Destination), string(fb.Corrected.Consumer), string(fb.Corrected.Semantics),
		fb.Reasoning, createdAt.Format(time.RFC3339),
	)
	return err
}

const feedbackColumns = `id, operation_id, user_id, feedback_type,
	system_destination, system_consumer, system_semantics,
	corrected_destination, corrected_consumer, corrected_semantics,
	reasoning, created_at`

// ListFeedbackForOperation returns an operation's feedback, oldest first.
func (s *Store) ListFeedbackForOperation(operationID string) ([]ops.Feedback, error) {
	rows, err := s.db.Query(`
		SELECT `+feedbackColumns+` FROM feedback WHERE operation_id = ?
		ORDER BY created_at ASC, rowid ASC`, operationID)
	if err != nil {
		return nil, err
	}
	return collectFeedback(rows)
}

// FeedbackSince returns feedback created at or after the cutoff, oldest
// first. An empty userID spans all users.
func (s *Store) FeedbackSince(userID string, since time.Time) ([]ops.Feedback, error) {
	cutoff := since.UTC().Format(time.RFC3339)
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE created_at >= ?`
	args := []any{cutoff}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return collectFeedback(rows)
}

func collectFeedback(rows *sql.Rows) ([]ops.Feedback, error) {
	defer rows.Close()
	var results []ops.Feedback
	for rows.Next() {
		var fb ops.Feedback
		var fbType, createdAt string
		var sd, sc, ss, cd, cc, cs string
		if err := rows.Scan(&fb.ID, &fb.OperationID, &fb.UserID, &fbType,
			&sd, &sc, &ss, &cd, &cc, &cs, &fb.Reasoning, &createdAt); err != nil {
			return nil, err
		}
		fb.Type = ops.FeedbackType(fbType)
		fb.System = taxonomy.Classification{Destination: taxonomy.Destination(sd), Consumer: taxonomy.Consumer(sc), Semantics: taxonomy.Semantics(ss)}
		fb.Corrected = taxonomy.Classification{Destination: taxonomy.Destination(cd), Consumer: taxonomy.Consumer(cc), Semantics: taxonomy.Semantics(cs)}
		created, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("feedback created_at: %w", err)
		}
		fb.CreatedAt = created
		results = append(results, fb)
	}
	return results, rows.Err()
}

// --- Correction exemplars ---

// Corrections returns the most recent correction exemplars, newest first,
// joining back to operations for the original request text. The rowid
// tiebreak keeps ordering stable when several corrections land within the
// same second.
func (s *Store) Corrections(limit int) ([]exemplar.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT o.request,
			f.system_destination, f.system_consumer, f.system_semantics,
			f.corrected_destination, f.corrected_consumer, f.corrected_semantics,
			f.reasoning
		FROM feedback f
		JOIN operations o ON o.id = f.operation_id
		WHERE f.feedback_type = 'correction'
		ORDER BY f.created_at DESC, f.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []exemplar.Record
	for rows.Next() {
		var r exemplar.Record
		var sd, sc, ss, cd, cc, cs string
		if err := rows.Scan(&r.Request, &sd, &sc, &ss, &cd, &cc, &cs, &r.Reasoning); err != nil {
			return nil, err
		}
		r.System = taxonomy.Classification{Destination: taxonomy.Destination(sd), Consumer: taxonomy.Consumer(sc), Semantics: taxonomy.Semantics(ss)}
		r.Corrected = taxonomy.Classification{Destination: taxonomy.Destination(cd), Consumer: taxonomy.Consumer(cc), Semantics: taxonomy.Semantics(cs)}
		records = append(records, r)
	}
	return records, rows.Err()
}

// HasCorrections reports whether any correction exists at all.
func (s *Store) HasCorrections() (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM feedback WHERE feedback_type = 'correction')`).Scan(&exists)
	return exists != 0, err
}

// --- Verifications ---

// SaveVerification appends one pipeline run to the audit trail.
func (s *Store) SaveVerification(rec ops.VerificationRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	stages := rec.StagesJSON
	if stages == "" {
		stages = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO verifications (id, operation_id, mode, verdict, stages_json, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OperationID, rec.Mode, rec.Verdict, stages, rec.DurationMS,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// ListVerificationsForOperation returns an operation's verification runs,
// oldest first.
func (s *Store) ListVerificationsForOperation(operationID string) ([]ops.VerificationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_id, mode, verdict, stages_json, duration_ms, created_at
		FROM verifications WHERE operation_id = ?
		ORDER BY created_at ASC, rowid ASC`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ops.VerificationRecord
	for rows.Next() {
		var rec ops.VerificationRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.OperationID, &rec.Mode, &rec.Verdict, &rec.StagesJSON, &rec.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("verification created_at: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// --- Learning metrics ---

// StoreLearningMetrics persists one computed metrics snapshot.
func (s *Store) StoreLearningMetrics(m ops.LearningMetrics) error {
	accuracy, err := json.Marshal(m.AccuracyByAxis)
	if err != nil {
		return fmt.Errorf("encoding accuracy map: %w", err)
	}
	computedAt := m.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO learning_metrics (id, user_id, window_days, operations, corrections, confirmations, correction_rate, accuracy_json, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), m.UserID, m.WindowDays,
		m.Operations, m.Corrections, m.Confirmations, m.CorrectionRate,
		string(accuracy), computedAt.Format(time.RFC3339),
	)
	return err
}

// LatestLearningMetrics returns the newest stored snapshot for a user.
func (s *Store) LatestLearningMetrics(userID string) (ops.LearningMetrics, error) {
	var m ops.LearningMetrics
	var accuracy, computedAt string
	err := s.db.QueryRow(`
		SELECT user_id, window_days, operations, corrections, confirmations, correction_rate, accuracy_json, computed_at
		FROM learning_metrics WHERE user_id = ?
		ORDER BY computed_at DESC, rowid DESC LIMIT 1`, userID,
	).Scan(&m.UserID, &m.WindowDays, &m.Operations, &m.Corrections, &m.Confirmations, &m.CorrectionRate, &accuracy, &computedAt)
	if err == sql.ErrNoRows {
		return ops.LearningMetrics{}, &NotFoundError{Kind: "learning metrics for user", ID: userID}
	}
	if err != nil {
		return ops.LearningMetrics{}, err
	}
	if err := json.Unmarshal([]byte(accuracy), &m.AccuracyByAxis); err != nil {
		return ops.LearningMetrics{}, fmt.Errorf("decoding accuracy map: %w", err)
	}
	if m.ComputedAt, err = time.Parse(time.RFC3339, computedAt); err != nil {
		return ops.LearningMetrics{}, fmt.Errorf("parsing computed_at: %w", err)
	}
	return m, nil
}

// EnqueueMetricsJob queues a metrics recomputation for one user. The ops
// service calls this after every feedback write.
func (s *Store) EnqueueMetricsJob(userID string) error {
	payload, err := json.Marshal(ops.MetricsJobPayload{UserID: userID, WindowDays: ops.DefaultMetricsWindowDays})
	if err != nil {
		return fmt.Errorf("encoding metrics job payload: %w", err)
	}
	return s.EnqueueJob(Job{
		ID:      uuid.New().String(),
		Type:    ops.JobTypeLearnMetrics,
		Payload: string(payload),
	})
}

// --- Jobs ---

// EnqueueJob inserts a pending job. A zero RunAfter means runnable now; a
// zero MaxAttempts gets the default of three.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Payload, job.MaxAttempts,
		job.RunAfter.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

// ClaimNextJob moves the oldest runnable pending job of one of the given
// types to running and returns it. A nil job with a nil error means
// nothing is runnable right now.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)
	in := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	args := make([]any, 0, len(types)+1)
	args = append(args, nowStr)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting claim: %w", err)
	}
	defer tx.Rollback()

	var j Job
	var runAfter, createdAt string
	var lastError sql.NullString
	err = tx.QueryRow(`
		SELECT id, type, payload_json, attempts, max_attempts, run_after, created_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (`+in+`)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, args...,
	).Scan(&j.ID, &j.Type, &j.Payload, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &lastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("picking next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, nowStr, j.ID)
	if err != nil {
		return nil, fmt.Errorf("marking job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("finalizing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	j.UpdatedAt = now.Truncate(time.Second)
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("job %s run_after: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a running job done.
func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res, "job", id)
}

// FailJob records one failed attempt. Until max_attempts is reached the
// job goes back to pending with exponential backoff; after that it lands
// in failed for good.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting fail update: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return &NotFoundError{Kind: "job", ID: id}
	}
	if err != nil {
		return err
	}

	attempts++
	now := time.Now().UTC()
	if attempts >= maxAttempts {
		if _, err := tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id); err != nil {
			return err
		}
		return tx.Commit()
	}

	retryAt := now.Add(time.Duration(1<<attempts) * time.Second)
	if _, err := tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		attempts, errMsg, retryAt.Format(time.RFC3339), now.Format(time.RFC3339), id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
