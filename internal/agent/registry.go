package agent

import (
	"context"
	"sync"
	"time"

	"github.com/taskforge/taskforge/pkg/cerr"
)

// Registry wraps the repository with serialized read-modify-write access to
// the workload counters. The counters are advisory bookkeeping (they are not
// written in the same transaction as the task record); the assignment
// reconciler periodically recomputes them from the queue's in-progress
// counts to bound drift.
type Registry struct {
	mu   sync.Mutex
	repo Repository
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

func (r *Registry) Increment(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.repo.Get(ctx, agentID)
	if err != nil {
		return err
	}
	a.CurrentWorkload++
	a.UpdatedAt = time.Now()
	return r.repo.Update(ctx, a)
}

func (r *Registry) Decrement(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.repo.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if a.CurrentWorkload > 0 {
		a.CurrentWorkload--
	}
	a.UpdatedAt = time.Now()
	return r.repo.Update(ctx, a)
}

// Exists reports whether an agent is registered.
func (r *Registry) Exists(ctx context.Context, agentID string) (bool, error) {
	_, err := r.repo.Get(ctx, agentID)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetWorkload overwrites the counter with a recomputed value (reconciliation).
func (r *Registry) SetWorkload(ctx context.Context, agentID string, workload int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.repo.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if a.CurrentWorkload == workload {
		return nil
	}
	a.CurrentWorkload = workload
	a.UpdatedAt = time.Now()
	return r.repo.Update(ctx, a)
}
