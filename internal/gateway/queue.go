package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/feedlane/internal/types"
)

// ErrQueueStopped is returned to callers whose operation could not finish
// because the queue was stopped.
var ErrQueueStopped = errors.New("request queue stopped")

// Queue is a single FIFO lane of remote calls for one account. Exactly one
// operation executes at a time. A failed operation is put back at the front
// of the lane and retried after a backoff that grows with the number of
// pending operations; the queue itself never gives up on an operation.
type Queue struct {
	account types.AccountID
	backoff *Backoff
	sem     *semaphore.Weighted

	mu      sync.Mutex
	pending []*Run
	stopped bool
	wake    chan struct{}
	active  atomic.Int64

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a lane for account. sem, when non-nil, is shared with
// other lanes and bounds how many operations run at once across them.
func NewQueue(account types.AccountID, backoff *Backoff, sem *semaphore.Weighted) *Queue {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	return &Queue{
		account: account,
		backoff: backoff,
		sem:     sem,
		wake:    make(chan struct{}, 1),
		sleep:   sleepCtx,
	}
}

// Start launches the lane's processing loop. Must be called before Submit.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()
	q.wg.Add(1)
	go q.process()
}

// Stop prevents the next operation from starting, waits for the one in
// flight to return and fails every pending submitter with ErrQueueStopped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Account returns the account this lane serves.
func (q *Queue) Account() types.AccountID {
	return q.account
}

// Len returns the number of operations waiting, including one being retried.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Submit appends op to the lane and returns a channel that receives its
// outcome once it succeeds.
func (q *Queue) Submit(op Operation, opts ...RunOption) <-chan Result {
	run := newRun(op, opts...)

	q.mu.Lock()
	if q.ctx == nil || q.stopped {
		q.mu.Unlock()
		run.done <- Result{Err: ErrQueueStopped}
		return run.done
	}
	q.pending = append(q.pending, run)
	q.mu.Unlock()
	q.signal()
	return run.done
}

// Enqueue submits op and waits for its outcome. If ctx ends first the caller
// stops waiting but the operation stays queued and its result is discarded.
func (q *Queue) Enqueue(ctx context.Context, op Operation, opts ...RunOption) (any, error) {
	done := q.Submit(op, opts...)
	select {
	case res := <-done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs fn on the queue and type-asserts its result.
func Do[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error), opts ...RunOption) (T, error) {
	var zero T
	v, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", v)
	}
	return out, nil
}

// settled carries a permanent failure out of the lane as a successful value.
type settled struct{ err error }

// DoSettled is Do, except that an error for which permanent reports true
// completes the run and is returned to the caller instead of being retried.
func DoSettled[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error), permanent func(error) bool, opts ...RunOption) (T, error) {
	var zero T
	v, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		out, err := fn(ctx)
		if err != nil && permanent(err) {
			return settled{err: err}, nil
		}
		return out, err
	}, opts...)
	if err != nil {
		return zero, err
	}
	switch v := v.(type) {
	case nil:
		return zero, nil
	case settled:
		return zero, v.err
	case T:
		return v, nil
	default:
		return zero, fmt.Errorf("unexpected result type %T", v)
	}
}

// WithTimeout races op against a timer. When the timer wins, onTimeout
// supplies the result and the late outcome of op is discarded; op itself is
// not cancelled.
func WithTimeout(d time.Duration, op Operation, onTimeout func() any) Operation {
	return func(ctx context.Context) (any, error) {
		if d <= 0 {
			return op(ctx)
		}
		ch := make(chan Result, 1)
		go func() {
			v, err := op(ctx)
			ch <- Result{Value: v, Err: err}
		}()

		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case res := <-ch:
			return res.Value, res.Err
		case <-timer.C:
			if onTimeout == nil {
				return nil, nil
			}
			return onTimeout(), nil
		}
	}
}

// WaitIdle blocks until no operation is executing and none is pending, or
// the timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.Len() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next pops the front of the lane, blocking while it is empty.
func (q *Queue) next() (*Run, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			run := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return run, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) pushFront(run *Run) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append([]*Run{run}, q.pending...)
	return len(q.pending)
}

func (q *Queue) process() {
	defer q.wg.Done()
	defer q.drain()

	// Operations already started run to completion after Stop.
	opCtx := context.WithoutCancel(q.ctx)

	for {
		if q.ctx.Err() != nil {
			return
		}
		run, ok := q.next()
		if !ok {
			return
		}
		if q.sem != nil {
			if err := q.sem.Acquire(q.ctx, 1); err != nil {
				q.pushFront(run)
				return
			}
		}

		q.active.Add(1)
		run.Status = RunStatusRunning
		run.Attempts++
		value, err := run.op(opCtx)
		q.active.Add(-1)
		if q.sem != nil {
			q.sem.Release(1)
		}

		if err != nil {
			run.Status = RunStatusRetrying
			run.LastError = err
			n := q.pushFront(run)
			delay := q.backoff.Delay(n)
			slog.Error("queued operation failed",
				"account", string(q.account),
				"run_id", run.ID,
				"operation", run.Name,
				"attempt", run.Attempts,
				"queue_len", n,
				"backoff", delay,
				"error", err,
			)
			if q.wait(delay) != nil {
				return
			}
		} else {
			run.Status = RunStatusComplete
			run.done <- Result{Value: value}
		}

		if q.wait(q.backoff.Jitter()) != nil {
			return
		}
	}
}

func (q *Queue) wait(d time.Duration) error {
	if d <= 0 {
		return q.ctx.Err()
	}
	return q.sleep(q.ctx, d)
}

// drain fails every operation still pending once the loop exits.
func (q *Queue) drain() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.stopped = true
	q.mu.Unlock()
	for _, run := range pending {
		run.done <- Result{Err: ErrQueueStopped}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
