package domain

import (
	"context"
	"io"
	"time"
)

// RunStatus tracks the lifecycle of one invocation.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is the journal row for one invocation.
type RunRecord struct {
	ID         string
	Network    string
	Account    string
	Mode       string
	Status     RunStatus
	FailedStep string
	ErrorKind  string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StepRecord is the journal row for one state transition.
type StepRecord struct {
	RunID      string
	Step       string
	Status     string
	TxHash     string
	Detail     map[string]any
	Duration   time.Duration
	RecordedAt time.Time
}

// RunJournal persists runs and their transitions.
type RunJournal interface {
	CreateRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	RecordStep(ctx context.Context, step StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)
}

// AuditStore records notable events outside the normal step flow.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// LockManager provides mutual exclusion across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
