package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskforge/taskforge/internal/task"
)

type Config struct {
	// StallThreshold is how long an in-progress task may go without a
	// heartbeat before it is presumed stalled.
	StallThreshold time.Duration
	// MaxRetries caps recovery-induced requeues before the task fails.
	MaxRetries int
}

// Engine reclaims tasks whose liveness signal has gone silent. Heartbeats
// are the only signal, so a crashed agent and a merely slow one look the
// same: any task past the threshold is requeued, and a late result from the
// old claimant is rejected by the queue's state guards.
type Engine struct {
	queue    *task.Queue
	taskRepo task.Repository
	cfg      Config
}

func NewEngine(queue *task.Queue, taskRepo task.Repository, cfg Config) *Engine {
	if cfg.StallThreshold == 0 {
		cfg.StallThreshold = 30 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Engine{
		queue:    queue,
		taskRepo: taskRepo,
		cfg:      cfg,
	}
}

// Sweep reclaims every stalled in-progress task. Each candidate is
// re-verified under the queue lock, so the sweep is idempotent and safe to
// run concurrently with claims and completions.
func (e *Engine) Sweep(ctx context.Context) error {
	inProgress, err := e.taskRepo.List(ctx, task.ListFilter{Status: task.StatusInProgress})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, t := range inProgress {
		if t.LastHeartbeat != nil && now.Sub(*t.LastHeartbeat) <= e.cfg.StallThreshold {
			continue
		}
		reclaimed, err := e.queue.ReclaimStalled(ctx, t.ID, e.cfg.StallThreshold, e.cfg.MaxRetries)
		if err != nil {
			slog.ErrorContext(ctx, "failed to reclaim stalled task", "task_id", t.ID, "error", err)
			continue
		}
		if reclaimed == nil {
			continue // heartbeat or completion won the race
		}
		switch reclaimed.Status {
		case task.StatusQueued:
			slog.WarnContext(ctx, "requeued stalled task",
				"task_id", reclaimed.ID, "retry_count", reclaimed.RetryCount, "previous_agent", t.AssignedTo)
		case task.StatusFailed:
			slog.ErrorContext(ctx, "stalled task exhausted retries",
				"task_id", reclaimed.ID, "retry_count", reclaimed.RetryCount)
		}
	}
	return nil
}
