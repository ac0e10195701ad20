// Package gateway serializes outbound remote calls per account.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/feedlane/internal/types"
)

// ErrUnknownAccount is returned by Lookup for an account that was never added.
var ErrUnknownAccount = errors.New("no request queue for account")

// Registry owns one Queue per account. Queues are created explicitly with
// Add and shared by every caller that looks the account up.
type Registry struct {
	queues    map[types.AccountID]*Queue
	semaphore *semaphore.Weighted
	backoff   *Backoff

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// NewRegistry creates a Registry whose lanes share backoff and together run
// at most maxConcurrent operations at once. maxConcurrent <= 0 means one per
// account with no global cap.
func NewRegistry(backoff *Backoff, maxConcurrent int64) *Registry {
	r := &Registry{
		queues:  make(map[types.AccountID]*Queue),
		backoff: backoff,
	}
	if maxConcurrent > 0 {
		r.semaphore = semaphore.NewWeighted(maxConcurrent)
	}
	return r
}

// Start initialises the registry's context. Must be called before Add.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Add creates and starts the lane for account.
func (r *Registry) Add(account types.AccountID) (*Queue, error) {
	if account == "" {
		return nil, types.ErrMissingIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx == nil {
		return nil, fmt.Errorf("registry not started")
	}
	if _, exists := r.queues[account]; exists {
		return nil, fmt.Errorf("queue already registered for account %s", account)
	}
	q := NewQueue(account, r.backoff, r.semaphore)
	q.Start(r.ctx)
	r.queues[account] = q
	return q, nil
}

// Lookup returns the lane for account.
func (r *Registry) Lookup(account types.AccountID) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return q, nil
}

// Accounts lists the registered accounts.
func (r *Registry) Accounts() []types.AccountID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AccountID, 0, len(r.queues))
	for id := range r.queues {
		out = append(out, id)
	}
	return out
}

// Stop cancels the registry context and stops every lane.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.Stop()
	}
}
