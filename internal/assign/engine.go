package assign

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/task"
	"github.com/taskforge/taskforge/pkg/cerr"
)

const (
	skillWeight    = 0.7
	workloadWeight = 0.3
)

type Config struct {
	// IncludeIdle also considers idle agents, not only running ones.
	IncludeIdle bool
}

// Engine selects the best agent for a queued task by skill match and
// workload balance. The actual bind goes through the queue so it is
// serialized with concurrent claims.
type Engine struct {
	queue     *task.Queue
	agentRepo agent.Repository
	cfg       Config
}

func NewEngine(queue *task.Queue, agentRepo agent.Repository, cfg Config) *Engine {
	return &Engine{
		queue:     queue,
		agentRepo: agentRepo,
		cfg:       cfg,
	}
}

type candidate struct {
	agent *agent.Agent
	score float64
}

// Assign binds the best eligible agent to a queued task, transitioning it to
// in_progress. When no agent is eligible the task stays queued with an
// explanatory note and (nil, nil) is returned: absence of capacity is an
// expected, recoverable condition. A required skill is never silently
// substituted; the task waits until a matching agent has capacity.
func (e *Engine) Assign(ctx context.Context, taskID string) (*agent.Agent, error) {
	t, err := e.queue.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusQueued {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s is not queued (status: %s)", taskID, t.Status), nil)
	}

	agents, err := e.agentRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, a := range agents {
		if !e.eligible(a, t) {
			continue
		}
		candidates = append(candidates, candidate{agent: a, score: score(a, t)})
	}
	if len(candidates) == 0 {
		if err := e.queue.AppendNote(ctx, taskID, "no eligible agent available; task remains queued"); err != nil {
			return nil, err
		}
		return nil, nil
	}

	sortCandidates(candidates)
	best := candidates[0].agent

	// Bind re-checks the queued status under the queue lock; a concurrent
	// claim that won the task in the meantime surfaces as FailedPrecondition.
	if _, err := e.queue.Bind(ctx, taskID, best.ID); err != nil {
		return nil, err
	}
	return best, nil
}

// eligible rejects agents that cannot serve the task at all: wrong status,
// incompatible type, no headroom, or none of the required skills. Partial
// skill coverage stays eligible and is penalized by the score instead.
func (e *Engine) eligible(a *agent.Agent, t *task.Task) bool {
	switch a.Status {
	case agent.StatusRunning:
	case agent.StatusIdle:
		if !e.cfg.IncludeIdle {
			return false
		}
	default:
		return false
	}
	if t.Type != "" && a.Type != "" && a.Type != t.Type {
		return false
	}
	if len(t.RequiredSkills) > 0 && matchedSkills(a, t) == 0 {
		return false
	}
	return a.HasCapacity()
}

func matchedSkills(a *agent.Agent, t *task.Task) int {
	matched := 0
	for _, s := range t.RequiredSkills {
		if a.HasSkill(s) {
			matched++
		}
	}
	return matched
}

// score combines skill coverage and remaining headroom. An empty skill
// requirement counts as a full skill match.
func score(a *agent.Agent, t *task.Task) float64 {
	skillScore := 1.0
	if len(t.RequiredSkills) > 0 {
		skillScore = float64(matchedSkills(a, t)) / float64(len(t.RequiredSkills))
	}

	workloadScore := 0.0
	if a.MaxWorkload > 0 {
		workloadScore = 1.0 - float64(a.CurrentWorkload)/float64(a.MaxWorkload)
	}
	return skillWeight*skillScore + workloadWeight*workloadScore
}

// sortCandidates orders best-first: score desc, then current workload asc,
// then agent id asc for determinism.
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].agent.CurrentWorkload != candidates[j].agent.CurrentWorkload {
			return candidates[i].agent.CurrentWorkload < candidates[j].agent.CurrentWorkload
		}
		return candidates[i].agent.ID < candidates[j].agent.ID
	})
}
