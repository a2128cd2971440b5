package delegation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/agent"
	agentrepo "github.com/taskforge/taskforge/internal/agent/repositoryimpl"
	"github.com/taskforge/taskforge/internal/delegation"
	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/internal/task"
	taskrepo "github.com/taskforge/taskforge/internal/task/repositoryimpl"
	"github.com/taskforge/taskforge/pkg/cerr"
	"github.com/taskforge/taskforge/pkg/storage"
)

type fixture struct {
	resolver  *delegation.Resolver
	taskRepo  task.Repository
	agentRepo agent.Repository
	queue     *task.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	tRepo := taskrepo.NewYAMLRepository(st)
	aRepo := agentrepo.NewYAMLRepository(st)
	registry := agent.NewRegistry(aRepo)
	bus := eventbus.New()
	queue := task.NewQueue(tRepo, registry, bus, task.QueueConfig{})
	return &fixture{
		resolver:  delegation.NewResolver(tRepo, queue, aRepo, registry, bus, delegation.Config{}),
		taskRepo:  tRepo,
		agentRepo: aRepo,
		queue:     queue,
	}
}

func (f *fixture) addAgent(t *testing.T, a *agent.Agent) *agent.Agent {
	t.Helper()
	if a.Status == "" {
		a.Status = agent.StatusRunning
	}
	if a.MaxWorkload == 0 {
		a.MaxWorkload = 1
	}
	require.NoError(t, f.agentRepo.Create(context.Background(), a))
	return a
}

func (f *fixture) addParent(t *testing.T) *task.Task {
	t.Helper()
	parent, err := f.queue.Enqueue(context.Background(), &task.CreateRequest{
		ProjectID:   "proj-1",
		Title:       "build feature",
		Description: "the whole feature",
	})
	require.NoError(t, err)
	return parent
}

func TestResolveOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-01", Name: "Analyst", Role: "analysis"})
	f.addAgent(t, &agent.Agent{ID: "agent-02", Name: "Data Analyst", Role: "analysis"})
	f.addAgent(t, &agent.Agent{ID: "agent-03", Name: "Builder", Role: "coding"})

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "exact id", target: "agent-03", want: "agent-03"},
		{name: "exact name beats partial", target: "Analyst", want: "agent-01"},
		{name: "exact name case-insensitive", target: "builder", want: "agent-03"},
		{name: "exact role", target: "coding", want: "agent-03"},
		{name: "partial name", target: "data", want: "agent-02"},
		{name: "ambiguous partial resolves to lowest id", target: "analy", want: "agent-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.resolver.Resolve(ctx, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}

	_, err := f.resolver.Resolve(ctx, "nobody-here")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	_, err = f.resolver.Resolve(ctx, "")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestDelegateStartsChildWhenTargetHasCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	target := f.addAgent(t, &agent.Agent{ID: "agent-01", Name: "Builder", Role: "coding", MaxWorkload: 2})
	parent := f.addParent(t)

	child, err := f.resolver.Delegate(ctx, parent.ID, &delegation.Request{
		Target:      "Builder",
		Title:       "implement API",
		Description: "the API part",
	})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentTaskID)
	assert.Equal(t, parent.ProjectID, child.ProjectID)
	assert.Equal(t, target.ID, child.AssignedTo)
	assert.Equal(t, task.StatusInProgress, child.Status)
	require.NotNil(t, child.LastHeartbeat)

	updated, err := f.agentRepo.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentWorkload)

	// Both sides of the delegation carry a traceability note.
	require.NotEmpty(t, child.Notes)
	assert.Contains(t, child.Notes[0].Message, parent.ID)
	parentAfter, err := f.taskRepo.Get(ctx, parent.ID)
	require.NoError(t, err)
	require.NotEmpty(t, parentAfter.Notes)
	assert.Contains(t, parentAfter.Notes[len(parentAfter.Notes)-1].Message, child.ID)
}

func TestDelegateQueuesChildWhenTargetIsBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-01", Name: "Builder", CurrentWorkload: 1, MaxWorkload: 1})
	parent := f.addParent(t)

	child, err := f.resolver.Delegate(ctx, parent.ID, &delegation.Request{
		Target:      "Builder",
		Title:       "implement API",
		Description: "the API part",
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, child.Status)
	assert.Nil(t, child.LastHeartbeat)
	assert.Equal(t, "agent-01", child.AssignedTo)
}

func TestDelegateUnresolvableTargetNotesParent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	parent := f.addParent(t)

	_, err := f.resolver.Delegate(ctx, parent.ID, &delegation.Request{
		Target:      "ghost",
		Title:       "impossible",
		Description: "nobody can do this",
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	parentAfter, err := f.taskRepo.Get(ctx, parent.ID)
	require.NoError(t, err)
	require.NotEmpty(t, parentAfter.Notes)
	assert.Contains(t, parentAfter.Notes[len(parentAfter.Notes)-1].Message, `delegation to "ghost" failed`)
}

func TestDelegateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-01", Name: "Builder"})
	parent := f.addParent(t)

	_, err := f.resolver.Delegate(ctx, "missing-parent", &delegation.Request{
		Target: "Builder", Title: "t", Description: "d",
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	_, err = f.resolver.Delegate(ctx, parent.ID, &delegation.Request{Target: "Builder", Description: "d"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	_, err = f.resolver.Delegate(ctx, parent.ID, &delegation.Request{Target: "Builder", Title: "t"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}
