package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/pkg/cerr"
)

// AgentRoster is the queue's view of the agent registry: advisory workload
// counters adjusted as tasks are bound and released, and existence checks
// for assignment overrides. The counters are advisory; the reconciliation
// pass repairs any drift from the queue's actual in-progress counts.
type AgentRoster interface {
	Increment(ctx context.Context, agentID string) error
	Decrement(ctx context.Context, agentID string) error
	Exists(ctx context.Context, agentID string) (bool, error)
}

type QueueConfig struct {
	DefaultPriority int
}

// Queue is the durable priority task queue. All state transitions are
// serialized through q.mu so two concurrent claims can never win the same
// task; the store underneath only needs plain read/write.
type Queue struct {
	mu     sync.Mutex
	repo   Repository
	agents AgentRoster
	bus    *eventbus.Bus
	cfg    QueueConfig
}

func NewQueue(repo Repository, agents AgentRoster, bus *eventbus.Bus, cfg QueueConfig) *Queue {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = 5
	}
	return &Queue{
		repo:   repo,
		agents: agents,
		bus:    bus,
		cfg:    cfg,
	}
}

type CreateRequest struct {
	ProjectID      string   `json:"project_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	Priority       *int     `json:"priority"`
	RequiredSkills []string `json:"required_skills"`
	ParentTaskID   string   `json:"parent_task_id"`
}

// Enqueue validates and inserts a new queued task.
func (q *Queue) Enqueue(ctx context.Context, req *CreateRequest) (*Task, error) {
	if req.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task title must not be empty", nil)
	}
	if req.Description == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task description must not be empty", nil)
	}
	if req.ParentTaskID != "" {
		if _, err := q.repo.Get(ctx, req.ParentTaskID); err != nil {
			return nil, cerr.NewError(cerr.InvalidArgument,
				fmt.Sprintf("parent task %q not found", req.ParentTaskID), err)
		}
	}

	priority := q.cfg.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	now := time.Now()
	t := &Task{
		ID:             ulid.Make().String(),
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         StatusQueued,
		Priority:       priority,
		Type:           req.Type,
		RequiredSkills: req.RequiredSkills,
		ParentTaskID:   req.ParentTaskID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	q.bus.PublishNew(eventbus.EventTypeTaskCreated, t.ID, map[string]string{
		"project_id": t.ProjectID,
		"type":       t.Type,
	})
	return t, nil
}

// ClaimFilter describes the claiming agent's capabilities.
type ClaimFilter struct {
	AgentID  string   `json:"agent_id"`
	TaskType string   `json:"task_type"`
	Skills   []string `json:"skills"`
}

// ClaimNext hands the highest-priority eligible queued task to the claiming
// agent, transitioning it to in_progress with a fresh heartbeat. It returns
// (nil, nil) when nothing is eligible; an empty queue is not an error.
func (q *Queue) ClaimNext(ctx context.Context, filter ClaimFilter) (*Task, error) {
	if filter.AgentID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "agent_id must not be empty", nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	candidates, err := q.repo.List(ctx, ListFilter{Status: StatusQueued})
	if err != nil {
		return nil, err
	}

	var eligible []*Task
	for _, t := range candidates {
		if filter.TaskType != "" && t.Type != "" && t.Type != filter.TaskType {
			continue
		}
		if !hasSkills(filter.Skills, t.RequiredSkills) {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sortByClaimOrder(eligible)
	t := eligible[0]

	now := time.Now()
	t.Status = StatusInProgress
	t.AssignedTo = filter.AgentID
	t.LastHeartbeat = &now
	t.UpdatedAt = now
	if err := q.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	if err := q.agents.Increment(ctx, filter.AgentID); err != nil {
		// Advisory counter; claim already committed. Reconciliation heals it.
		q.bus.PublishNew(eventbus.EventTypeTaskClaimed, t.ID, map[string]string{
			"agent_id": filter.AgentID, "workload_error": err.Error(),
		})
		return t, nil
	}

	q.bus.PublishNew(eventbus.EventTypeTaskClaimed, t.ID, map[string]string{
		"agent_id": filter.AgentID,
	})
	return t, nil
}

// Bind assigns a queued task to a specific agent, transitioning it to
// in_progress with a fresh heartbeat. The queued check runs under the queue
// lock, so a bind racing a concurrent claim loses cleanly instead of
// double-assigning the task.
func (q *Queue) Bind(ctx context.Context, id, agentID string) (*Task, error) {
	if agentID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "agent_id must not be empty", nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusQueued {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s is not queued (status: %s)", id, t.Status), nil)
	}

	now := time.Now()
	t.Status = StatusInProgress
	t.AssignedTo = agentID
	t.LastHeartbeat = &now
	t.UpdatedAt = now
	if err := q.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	// Advisory counter; the bind already committed. Reconciliation heals it.
	_ = q.agents.Increment(ctx, agentID)

	q.bus.PublishNew(eventbus.EventTypeAgentAssigned, t.ID, map[string]string{
		"agent_id":   agentID,
		"project_id": t.ProjectID,
	})
	return t, nil
}

// Heartbeat refreshes the liveness signal for an in-progress task. A task
// that was requeued by stall recovery rejects the stale claimant here.
func (q *Queue) Heartbeat(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != StatusInProgress {
		// The claim this heartbeat belongs to no longer exists, e.g. the task
		// was reclaimed by stall recovery.
		return cerr.NewError(cerr.NotFound,
			fmt.Sprintf("no in-progress claim for task %s (status: %s)", id, t.Status), nil)
	}
	now := time.Now()
	t.LastHeartbeat = &now
	t.UpdatedAt = now
	return q.repo.Update(ctx, t)
}

// Complete finishes an in-progress task with a result payload. Late
// completions for a task already reclaimed by stall recovery are rejected.
func (q *Queue) Complete(ctx context.Context, id, result string) (*Task, error) {
	return q.finish(ctx, id, StatusCompleted, result, "")
}

// Fail terminally fails an in-progress task with an error message.
func (q *Queue) Fail(ctx context.Context, id, errMsg string) (*Task, error) {
	return q.finish(ctx, id, StatusFailed, "", errMsg)
}

func (q *Queue) finish(ctx context.Context, id string, status Status, result, errMsg string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusInProgress {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s is not in progress (status: %s)", id, t.Status), nil)
	}

	now := time.Now()
	t.Status = status
	t.Result = result
	t.ErrorMessage = errMsg
	t.UpdatedAt = now
	if status == StatusCompleted {
		t.CompletedAt = &now
	}
	if err := q.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	if t.AssignedTo != "" {
		if err := q.agents.Decrement(ctx, t.AssignedTo); err != nil {
			t.AddNote(fmt.Sprintf("workload bookkeeping failed for agent %s: %v", t.AssignedTo, err))
			_ = q.repo.Update(ctx, t)
		}
	}

	eventType := eventbus.EventTypeTaskCompleted
	if status == StatusFailed {
		eventType = eventbus.EventTypeTaskFailed
	}
	q.bus.PublishNew(eventType, t.ID, map[string]string{
		"project_id": t.ProjectID,
		"agent_id":   t.AssignedTo,
	})
	return t, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	return q.repo.Get(ctx, id)
}

func (q *Queue) ListByProject(ctx context.Context, projectID string) ([]*Task, error) {
	return q.repo.List(ctx, ListFilter{ProjectID: projectID})
}

func (q *Queue) ListByAgent(ctx context.Context, agentID string) ([]*Task, error) {
	return q.repo.List(ctx, ListFilter{AssignedTo: agentID})
}

// Reassign overrides the assignee of a non-terminal task (dashboard override).
// The target agent must be registered; a task is never handed to nobody.
func (q *Queue) Reassign(ctx context.Context, id, agentID string) (*Task, error) {
	if agentID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "agent_id must not be empty", nil)
	}
	exists, err := q.agents.Exists(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("agent %s not found", agentID), nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s already reached a terminal status (%s)", id, t.Status), nil)
	}

	previous := t.AssignedTo
	t.AssignedTo = agentID
	t.AddNote(fmt.Sprintf("reassigned from %q to %q", previous, agentID))
	if err := q.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	if t.Status == StatusInProgress {
		if previous != "" {
			_ = q.agents.Decrement(ctx, previous)
		}
		_ = q.agents.Increment(ctx, agentID)
	}
	return t, nil
}

// Reprioritize changes the priority of a queued task.
func (q *Queue) Reprioritize(ctx context.Context, id string, priority int) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusQueued {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("only queued tasks can be reprioritized (status: %s)", t.Status), nil)
	}
	t.Priority = priority
	t.UpdatedAt = time.Now()
	if err := q.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteByProject removes every task of a project (dashboard bulk cleanup).
// Returns the number of deleted tasks.
func (q *Queue) DeleteByProject(ctx context.Context, projectID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.repo.List(ctx, ListFilter{ProjectID: projectID})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, t := range tasks {
		if err := q.repo.Delete(ctx, t.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// ReclaimStalled requeues or terminally fails one stalled in-progress task.
// Staleness is re-verified under the queue lock, so a sweep racing a live
// heartbeat or completion leaves the task alone, and running the sweep twice
// in succession changes nothing the first pass already handled. Returns the
// updated task, or nil when the task no longer qualifies.
func (q *Queue) ReclaimStalled(ctx context.Context, id string, threshold time.Duration, maxRetries int) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusInProgress {
		return nil, nil
	}
	now := time.Now()
	// A nil heartbeat means the task was claimed but never signalled.
	if t.LastHeartbeat != nil && now.Sub(*t.LastHeartbeat) <= threshold {
		return nil, nil
	}

	previous := t.AssignedTo
	if t.RetryCount < maxRetries {
		t.RetryCount++
		t.Status = StatusQueued
		t.AssignedTo = ""
		t.LastHeartbeat = nil
		t.Result = ""
		t.AddNote(fmt.Sprintf("reclaimed after stall (retry %d/%d)", t.RetryCount, maxRetries))
	} else {
		t.Status = StatusFailed
		t.ErrorMessage = fmt.Sprintf("task stalled and exhausted %d retries", maxRetries)
		t.AddNote(t.ErrorMessage)
	}
	t.UpdatedAt = now
	if err := q.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	if previous != "" {
		// Advisory counter; reconciliation heals any failure here.
		_ = q.agents.Decrement(ctx, previous)
	}

	eventType := eventbus.EventTypeTaskRequeued
	if t.Status == StatusFailed {
		eventType = eventbus.EventTypeTaskFailed
	}
	q.bus.PublishNew(eventType, t.ID, map[string]string{
		"project_id":  t.ProjectID,
		"agent_id":    previous,
		"retry_count": fmt.Sprintf("%d", t.RetryCount),
	})
	return t, nil
}

// AppendNote persists an audit note on a task.
func (q *Queue) AppendNote(ctx context.Context, id, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	t.AddNote(message)
	return q.repo.Update(ctx, t)
}

// hasSkills reports whether the claimant's skills cover every required skill.
func hasSkills(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// sortByClaimOrder orders by (priority asc, created_at asc, id asc). ULIDs
// are monotonic within a millisecond, so the id tiebreak preserves insertion
// order for tasks created in the same instant.
func sortByClaimOrder(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
