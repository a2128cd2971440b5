package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/internal/task"
	"github.com/taskforge/taskforge/pkg/cerr"
)

type Config struct {
	DefaultPriority int
}

// Resolver lets an executing agent spawn a child task addressed by free-form
// text: a raw agent id, a name, or a role.
type Resolver struct {
	taskRepo  task.Repository
	queue     *task.Queue
	agentRepo agent.Repository
	registry  *agent.Registry
	bus       *eventbus.Bus
	cfg       Config
}

func NewResolver(taskRepo task.Repository, queue *task.Queue, agentRepo agent.Repository, registry *agent.Registry, bus *eventbus.Bus, cfg Config) *Resolver {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = 5
	}
	return &Resolver{
		taskRepo:  taskRepo,
		queue:     queue,
		agentRepo: agentRepo,
		registry:  registry,
		bus:       bus,
		cfg:       cfg,
	}
}

type Request struct {
	Target         string   `json:"target"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	Priority       *int     `json:"priority"`
	RequiredSkills []string `json:"required_skills"`
}

// Delegate resolves the target and creates a child task under the parent.
// An unresolvable target is recorded as a note on the parent task before the
// error returns, so the delegating agent's failure is never silently dropped.
func (r *Resolver) Delegate(ctx context.Context, parentTaskID string, req *Request) (*task.Task, error) {
	parent, err := r.taskRepo.Get(ctx, parentTaskID)
	if err != nil {
		return nil, err
	}
	if req.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task title must not be empty", nil)
	}
	if req.Description == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task description must not be empty", nil)
	}

	target, err := r.Resolve(ctx, req.Target)
	if err != nil {
		if noteErr := r.queue.AppendNote(ctx, parent.ID,
			fmt.Sprintf("delegation to %q failed: no matching agent", req.Target)); noteErr != nil {
			slog.ErrorContext(ctx, "failed to record delegation failure on parent task",
				"task_id", parent.ID, "error", noteErr)
		}
		return nil, err
	}

	priority := r.cfg.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	now := time.Now()
	child := &task.Task{
		ID:             ulid.Make().String(),
		ProjectID:      parent.ProjectID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         task.StatusQueued,
		Priority:       priority,
		Type:           req.Type,
		RequiredSkills: req.RequiredSkills,
		AssignedTo:     target.ID,
		ParentTaskID:   parent.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// Start immediately when the target has headroom, otherwise leave the
	// child queued for its own claim/assignment.
	if target.HasCapacity() {
		child.Status = task.StatusInProgress
		child.LastHeartbeat = &now
	}
	child.AddNote(fmt.Sprintf("delegated from task %s to agent %s (%s)", parent.ID, target.ID, target.Name))

	if err := r.taskRepo.Create(ctx, child); err != nil {
		return nil, err
	}
	if child.Status == task.StatusInProgress {
		if err := r.registry.Increment(ctx, target.ID); err != nil {
			slog.WarnContext(ctx, "workload increment failed after delegation",
				"task_id", child.ID, "agent_id", target.ID, "error", err)
		}
	}
	if err := r.queue.AppendNote(ctx, parent.ID,
		fmt.Sprintf("delegated child task %s to agent %s (%s)", child.ID, target.ID, target.Name)); err != nil {
		slog.ErrorContext(ctx, "failed to record delegation on parent task",
			"task_id", parent.ID, "error", err)
	}

	r.bus.PublishNew(eventbus.EventTypeTaskDelegated, child.ID, map[string]string{
		"parent_task_id": parent.ID,
		"agent_id":       target.ID,
	})
	return child, nil
}

// Resolve identifies an agent from free-form text, in order: exact id, exact
// case-insensitive name or role, then partial case-insensitive name or role.
// Ambiguous partial matches resolve to the lowest agent id and are logged.
func (r *Resolver) Resolve(ctx context.Context, target string) (*agent.Agent, error) {
	if target == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "delegation target must not be empty", nil)
	}

	if a, err := r.agentRepo.Get(ctx, target); err == nil {
		return a, nil
	}

	agents, err := r.agentRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	lowered := strings.ToLower(target)
	for _, a := range agents {
		if strings.EqualFold(a.Name, target) || strings.EqualFold(a.Role, target) {
			return a, nil
		}
	}

	var partial []*agent.Agent
	for _, a := range agents {
		if strings.Contains(strings.ToLower(a.Name), lowered) ||
			strings.Contains(strings.ToLower(a.Role), lowered) {
			partial = append(partial, a)
		}
	}
	if len(partial) > 1 {
		slog.WarnContext(ctx, "ambiguous delegation target, using lowest agent id",
			"target", target, "candidates", len(partial), "resolved", partial[0].ID)
	}
	if len(partial) > 0 {
		return partial[0], nil
	}

	return nil, cerr.NewError(cerr.NotFound,
		fmt.Sprintf("no agent matches delegation target %q", target), nil)
}
