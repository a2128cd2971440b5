package assign_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/agent"
	agentrepo "github.com/taskforge/taskforge/internal/agent/repositoryimpl"
	"github.com/taskforge/taskforge/internal/assign"
	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/internal/task"
	taskrepo "github.com/taskforge/taskforge/internal/task/repositoryimpl"
	"github.com/taskforge/taskforge/pkg/storage"
)

func TestReconcileRepairsDriftedCounters(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	tRepo := taskrepo.NewYAMLRepository(st)
	aRepo := agentrepo.NewYAMLRepository(st)
	registry := agent.NewRegistry(aRepo)
	queue := task.NewQueue(tRepo, registry, eventbus.New(), task.QueueConfig{})
	reconciler := assign.NewReconciler(tRepo, aRepo, registry)

	// Counter says 3 but only one task is actually in progress.
	require.NoError(t, aRepo.Create(ctx, &agent.Agent{ID: "agent-a", Status: agent.StatusRunning, CurrentWorkload: 3, MaxWorkload: 5}))
	require.NoError(t, aRepo.Create(ctx, &agent.Agent{ID: "agent-b", Status: agent.StatusRunning, CurrentWorkload: 0, MaxWorkload: 5}))

	created, err := queue.Enqueue(ctx, &task.CreateRequest{Title: "t", Description: "d"})
	require.NoError(t, err)
	inProgress, err := tRepo.Get(ctx, created.ID)
	require.NoError(t, err)
	inProgress.Status = task.StatusInProgress
	inProgress.AssignedTo = "agent-a"
	require.NoError(t, tRepo.Update(ctx, inProgress))

	require.NoError(t, reconciler.Reconcile(ctx))

	a, err := aRepo.Get(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 1, a.CurrentWorkload)

	b, err := aRepo.Get(ctx, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, 0, b.CurrentWorkload)
}
