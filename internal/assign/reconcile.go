package assign

import (
	"context"
	"log/slog"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/task"
)

// Reconciler recomputes each agent's workload counter from the queue's
// actual in-progress count. Workload bookkeeping happens outside the task
// write, so the counters drift under crashes; this pass bounds that drift.
type Reconciler struct {
	taskRepo  task.Repository
	agentRepo agent.Repository
	registry  *agent.Registry
}

func NewReconciler(taskRepo task.Repository, agentRepo agent.Repository, registry *agent.Registry) *Reconciler {
	return &Reconciler{
		taskRepo:  taskRepo,
		agentRepo: agentRepo,
		registry:  registry,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context) error {
	inProgress, err := r.taskRepo.List(ctx, task.ListFilter{Status: task.StatusInProgress})
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, t := range inProgress {
		if t.AssignedTo != "" {
			counts[t.AssignedTo]++
		}
	}

	agents, err := r.agentRepo.List(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		actual := counts[a.ID]
		if a.CurrentWorkload == actual {
			continue
		}
		slog.InfoContext(ctx, "reconciling agent workload",
			"agent_id", a.ID, "recorded", a.CurrentWorkload, "actual", actual)
		if err := r.registry.SetWorkload(ctx, a.ID, actual); err != nil {
			slog.ErrorContext(ctx, "failed to reconcile agent workload", "agent_id", a.ID, "error", err)
		}
	}
	return nil
}
