package assign_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/agent"
	agentrepo "github.com/taskforge/taskforge/internal/agent/repositoryimpl"
	"github.com/taskforge/taskforge/internal/assign"
	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/internal/task"
	taskrepo "github.com/taskforge/taskforge/internal/task/repositoryimpl"
	"github.com/taskforge/taskforge/pkg/cerr"
	"github.com/taskforge/taskforge/pkg/storage"
)

type fixture struct {
	engine    *assign.Engine
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
		engine:    assign.NewEngine(queue, aRepo, assign.Config{IncludeIdle: true}),
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

func (f *fixture) addTask(t *testing.T, req task.CreateRequest) *task.Task {
	t.Helper()
	if req.Title == "" {
		req.Title = "untitled"
	}
	if req.Description == "" {
		req.Description = "n/a"
	}
	created, err := f.queue.Enqueue(context.Background(), &req)
	require.NoError(t, err)
	return created
}

func TestAssignPrefersLowerWorkloadOnEqualSkills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-a", Name: "A", Skills: []string{"design"}, CurrentWorkload: 0, MaxWorkload: 3})
	f.addAgent(t, &agent.Agent{ID: "agent-b", Name: "B", Skills: []string{"design"}, CurrentWorkload: 2, MaxWorkload: 3})

	created := f.addTask(t, task.CreateRequest{RequiredSkills: []string{"design"}})

	best, err := f.engine.Assign(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "agent-a", best.ID)

	bound, err := f.taskRepo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, bound.Status)
	assert.Equal(t, "agent-a", bound.AssignedTo)
	require.NotNil(t, bound.LastHeartbeat)

	updated, err := f.agentRepo.Get(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentWorkload)
}

func TestAssignSkillCoverageOutweighsWorkload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Full skill match at high load still beats a partial match at zero load:
	// 0.7*1.0 + 0.3*0.25 > 0.7*0.5 + 0.3*1.0.
	f.addAgent(t, &agent.Agent{ID: "agent-busy", Skills: []string{"go", "sql"}, CurrentWorkload: 3, MaxWorkload: 4})
	f.addAgent(t, &agent.Agent{ID: "agent-free", Skills: []string{"go"}, CurrentWorkload: 0, MaxWorkload: 4})

	created := f.addTask(t, task.CreateRequest{RequiredSkills: []string{"go", "sql"}})

	best, err := f.engine.Assign(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "agent-busy", best.ID)
}

func TestAssignTieBreaksOnAgentID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-b", MaxWorkload: 2})
	f.addAgent(t, &agent.Agent{ID: "agent-a", MaxWorkload: 2})

	created := f.addTask(t, task.CreateRequest{})

	best, err := f.engine.Assign(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "agent-a", best.ID)
}

func TestAssignNoCapacityLeavesTaskQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-full", CurrentWorkload: 1, MaxWorkload: 1})
	f.addAgent(t, &agent.Agent{ID: "agent-off", Status: agent.StatusOffline, MaxWorkload: 5})

	created := f.addTask(t, task.CreateRequest{})

	best, err := f.engine.Assign(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, best)

	got, err := f.taskRepo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	require.NotEmpty(t, got.Notes)
	assert.Contains(t, got.Notes[len(got.Notes)-1].Message, "no eligible agent")
}

func TestAssignSkillsNeverSubstituted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// An agent with zero matching skills still scores above zero on
	// workload, but a wrong task type excludes it outright.
	f.addAgent(t, &agent.Agent{ID: "agent-review", Type: "review", MaxWorkload: 5})

	created := f.addTask(t, task.CreateRequest{Type: "coding"})

	best, err := f.engine.Assign(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, best)

	// Likewise an agent whose skills cover none of the requirements: the
	// task waits for a matching agent instead of taking whoever is free.
	f.addAgent(t, &agent.Agent{ID: "agent-code", Skills: []string{"code"}, MaxWorkload: 5})

	skilled := f.addTask(t, task.CreateRequest{RequiredSkills: []string{"design"}})

	best, err = f.engine.Assign(ctx, skilled.ID)
	require.NoError(t, err)
	assert.Nil(t, best)

	got, err := f.taskRepo.Get(ctx, skilled.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Empty(t, got.AssignedTo)
	require.NotEmpty(t, got.Notes)
	assert.Contains(t, got.Notes[len(got.Notes)-1].Message, "no eligible agent")
}

func TestAssignPartialSkillCoverageStaysEligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-go", Skills: []string{"go"}, MaxWorkload: 2})

	created := f.addTask(t, task.CreateRequest{RequiredSkills: []string{"go", "sql"}})

	best, err := f.engine.Assign(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "agent-go", best.ID)
}

func TestAssignRacingClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Run an assignment and a direct claim against the same queued task at
	// once. The bind is serialized through the queue lock, so exactly one
	// side wins and the agent workloads add up to a single active task.
	for i := 0; i < 20; i++ {
		f.addAgent(t, &agent.Agent{ID: "agent-a", MaxWorkload: 3})
		f.addAgent(t, &agent.Agent{ID: "agent-b", MaxWorkload: 3})
		created := f.addTask(t, task.CreateRequest{})

		var assigned *agent.Agent
		var claimed *task.Task
		var assignErr, claimErr error

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assigned, assignErr = f.engine.Assign(ctx, created.ID)
		}()
		go func() {
			defer wg.Done()
			claimed, claimErr = f.queue.ClaimNext(ctx, task.ClaimFilter{AgentID: "agent-b"})
		}()
		wg.Wait()

		winners := 0
		winner := ""
		if assignErr == nil && assigned != nil {
			winners++
			winner = assigned.ID
		} else if assignErr != nil {
			require.True(t, cerr.IsCode(assignErr, cerr.FailedPrecondition), "assign error: %v", assignErr)
		}
		require.NoError(t, claimErr)
		if claimed != nil {
			winners++
			winner = "agent-b"
		}
		require.Equal(t, 1, winners)

		got, err := f.taskRepo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, got.Status)
		assert.Equal(t, winner, got.AssignedTo)

		a, err := f.agentRepo.Get(ctx, "agent-a")
		require.NoError(t, err)
		b, err := f.agentRepo.Get(ctx, "agent-b")
		require.NoError(t, err)
		assert.Equal(t, 1, a.CurrentWorkload+b.CurrentWorkload)

		require.NoError(t, f.agentRepo.Delete(ctx, "agent-a"))
		require.NoError(t, f.agentRepo.Delete(ctx, "agent-b"))
	}
}

func TestAssignRequiresQueuedStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addAgent(t, &agent.Agent{ID: "agent-a", MaxWorkload: 2})
	created := f.addTask(t, task.CreateRequest{})

	_, err := f.queue.ClaimNext(ctx, task.ClaimFilter{AgentID: "agent-a"})
	require.NoError(t, err)

	_, err = f.engine.Assign(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestAssignExcludesIdleWhenConfigured(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	tRepo := taskrepo.NewYAMLRepository(st)
	aRepo := agentrepo.NewYAMLRepository(st)
	registry := agent.NewRegistry(aRepo)
	bus := eventbus.New()
	queue := task.NewQueue(tRepo, registry, bus, task.QueueConfig{})
	engine := assign.NewEngine(queue, aRepo, assign.Config{IncludeIdle: false})

	require.NoError(t, aRepo.Create(ctx, &agent.Agent{ID: "agent-idle", Status: agent.StatusIdle, MaxWorkload: 1}))
	created, err := queue.Enqueue(ctx, &task.CreateRequest{Title: "t", Description: "d"})
	require.NoError(t, err)

	best, err := engine.Assign(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, best)
}
