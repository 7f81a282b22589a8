package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is the sentinel for lookups that matched nothing. Callers
// check it with errors.Is; NotFoundError carries the detail.
var ErrNotFound = errors.New("record not found")

// NotFoundError reports which record a failed lookup was after.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Job is a queued background task. Payload is opaque here; the worker
// that claims the job's type interprets it.
type Job struct {
	ID          string
	Type        string
	Payload     string
	Status      string // pending, running, completed or failed
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
