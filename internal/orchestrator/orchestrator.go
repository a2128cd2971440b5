package orchestrator

import (
	"context"
	"log/slog"

	"github.com/taskforge/taskforge/internal/assign"
	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/pkg/cerr"
)

const eventBufferSize = 64

// Orchestrator listens for tasks entering the queue and tries to place
// them on an agent immediately, so work does not sit queued waiting for
// an agent to poll.
type Orchestrator struct {
	engine *assign.Engine
	bus    *eventbus.Bus
}

func New(engine *assign.Engine, bus *eventbus.Bus) *Orchestrator {
	return &Orchestrator{engine: engine, bus: bus}
}

// Run consumes queue events until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	subID, events := o.bus.Subscribe(eventBufferSize)
	defer o.bus.Unsubscribe(subID)

	slog.InfoContext(ctx, "orchestrator started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "orchestrator stopped")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			o.handle(ctx, event)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, event *eventbus.Event) {
	switch event.Type {
	case eventbus.EventTypeTaskCreated, eventbus.EventTypeTaskRequeued:
	default:
		return
	}

	assigned, err := o.engine.Assign(ctx, event.ResourceID)
	if err != nil {
		// The task may have been claimed or delegated between the event
		// and this attempt. That is not a failure of the orchestrator.
		if cerr.IsCode(err, cerr.FailedPrecondition) || cerr.IsCode(err, cerr.NotFound) {
			slog.DebugContext(ctx, "task no longer assignable",
				slog.String("task_id", event.ResourceID), slog.Any("error", err))
			return
		}
		slog.ErrorContext(ctx, "auto-assignment failed",
			slog.String("task_id", event.ResourceID), slog.Any("error", err))
		return
	}
	if assigned == nil {
		slog.WarnContext(ctx, "no agent capacity, task remains queued",
			slog.String("task_id", event.ResourceID))
		return
	}
	slog.InfoContext(ctx, "task auto-assigned",
		slog.String("task_id", event.ResourceID),
		slog.String("agent_id", assigned.ID))
}
