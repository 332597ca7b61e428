package bridge

import (
	"context"
	"time"
)

// Result is what a Task's operation resolves to.
type Result struct {
	Value interface{}
	Err   error
}

// Op is the unit of work a Task carries: an operation the worker pool
// drives to completion.
type Op func(ctx context.Context) (interface{}, error)

// Task wraps one submitted kernel-facing request: its operation, priority
// class, timeout, retry eligibility, and cancellation/response plumbing.
type Task struct {
	ID       uint64
	seq      uint64
	priority Priority

	op Op

	Timeout         time.Duration
	Retryable       bool
	Degradable      bool
	DefaultOnDegrade interface{}
	MaxRetries      int
	retries         int

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool

	resultCh chan Result

	submittedAt time.Time
	heapIndex   int
}

// CancellationToken lets the submitter of a task abort it while queued or
// running.
type CancellationToken struct {
	task *Task
}

// Cancel marks the task cancelled; a worker that later pops it will skip
// execution, and a background sweeper purges cancelled queued tasks.
func (c CancellationToken) Cancel() {
	c.task.cancelled = true
	c.task.cancel()
}
