package task

import "context"

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	ProjectID  string
	AssignedTo string
	Status     Status
}

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter ListFilter) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
}
