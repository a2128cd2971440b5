package task

import "time"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Note is an audit-trail entry attached to a task. Assignment and delegation
// failures are recorded here instead of surfacing as hard errors.
type Note struct {
	Message   string    `yaml:"message" json:"message"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

type Task struct {
	ID             string     `yaml:"id" json:"id"`
	ProjectID      string     `yaml:"project_id" json:"project_id"`
	Title          string     `yaml:"title" json:"title"`
	Description    string     `yaml:"description" json:"description"`
	Status         Status     `yaml:"status" json:"status"`
	Priority       int        `yaml:"priority" json:"priority"`
	Type           string     `yaml:"type" json:"type"`
	RequiredSkills []string   `yaml:"required_skills" json:"required_skills"`
	AssignedTo     string     `yaml:"assigned_to" json:"assigned_to"`
	ParentTaskID   string     `yaml:"parent_task_id" json:"parent_task_id"`
	Result         string     `yaml:"result" json:"result"`
	ErrorMessage   string     `yaml:"error_message" json:"error_message"`
	RetryCount     int        `yaml:"retry_count" json:"retry_count"`
	Notes          []Note     `yaml:"notes" json:"notes"`
	CreatedAt      time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `yaml:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time `yaml:"completed_at" json:"completed_at"`
	LastHeartbeat  *time.Time `yaml:"last_heartbeat" json:"last_heartbeat"`
}

// AddNote appends an audit note and bumps UpdatedAt. The caller persists.
func (t *Task) AddNote(message string) {
	now := time.Now()
	t.Notes = append(t.Notes, Note{Message: message, CreatedAt: now})
	t.UpdatedAt = now
}

// IsTerminal reports whether the task reached a final status.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
