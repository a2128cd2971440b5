package agent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/agent/repositoryimpl"
	"github.com/taskforge/taskforge/pkg/storage"
)

func newRegistry(t *testing.T) (*agent.Registry, agent.Repository) {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(st)
	return agent.NewRegistry(repo), repo
}

func TestRegistryIncrementDecrement(t *testing.T) {
	ctx := context.Background()
	registry, repo := newRegistry(t)

	require.NoError(t, repo.Create(ctx, &agent.Agent{ID: "agent-1", Status: agent.StatusRunning, MaxWorkload: 2}))

	require.NoError(t, registry.Increment(ctx, "agent-1"))
	require.NoError(t, registry.Increment(ctx, "agent-1"))

	a, err := repo.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.CurrentWorkload)
	assert.False(t, a.HasCapacity())

	require.NoError(t, registry.Decrement(ctx, "agent-1"))
	a, err = repo.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.CurrentWorkload)
	assert.True(t, a.HasCapacity())
}

func TestRegistryDecrementFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	registry, repo := newRegistry(t)

	require.NoError(t, repo.Create(ctx, &agent.Agent{ID: "agent-1", Status: agent.StatusRunning, MaxWorkload: 1}))

	require.NoError(t, registry.Decrement(ctx, "agent-1"))
	a, err := repo.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, a.CurrentWorkload)
}

func TestRegistryUnknownAgent(t *testing.T) {
	ctx := context.Background()
	registry, _ := newRegistry(t)

	assert.Error(t, registry.Increment(ctx, "ghost"))
	assert.Error(t, registry.Decrement(ctx, "ghost"))
}

func TestRegistryExists(t *testing.T) {
	ctx := context.Background()
	registry, repo := newRegistry(t)

	exists, err := registry.Exists(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Create(ctx, &agent.Agent{ID: "agent-1", Status: agent.StatusRunning, MaxWorkload: 1}))

	exists, err = registry.Exists(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRegistrySetWorkload(t *testing.T) {
	ctx := context.Background()
	registry, repo := newRegistry(t)

	require.NoError(t, repo.Create(ctx, &agent.Agent{ID: "agent-1", Status: agent.StatusRunning, CurrentWorkload: 7, MaxWorkload: 3}))

	require.NoError(t, registry.SetWorkload(ctx, "agent-1", 1))
	a, err := repo.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.CurrentWorkload)
}
