package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a queued operation.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusRetrying RunStatus = "retrying"
	RunStatusComplete RunStatus = "complete"
)

// Operation is one remote call executed on a queue lane.
//
// An Operation must not enqueue onto its own queue and wait for that result:
// the lane runs one operation at a time, so the inner call never starts and
// the lane deadlocks.
type Operation func(ctx context.Context) (any, error)

// Result is the outcome delivered to the submitter of an Operation.
type Result struct {
	Value any
	Err   error
}

// Run tracks a single queued Operation across its attempts.
type Run struct {
	ID        string
	Name      string
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	LastError error

	op   Operation
	done chan Result
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithName labels the run in logs.
func WithName(name string) RunOption {
	return func(r *Run) { r.Name = name }
}

func newRun(op Operation, opts ...RunOption) *Run {
	r := &Run{
		ID:        uuid.New().String(),
		Name:      "operation",
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
		op:        op,
		done:      make(chan Result, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
