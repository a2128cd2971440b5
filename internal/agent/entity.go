package agent

import "time"

type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusOffline Status = "offline"
)

type Agent struct {
	ID              string    `yaml:"id" json:"id"`
	Name            string    `yaml:"name" json:"name"`
	Role            string    `yaml:"role" json:"role"`
	Type            string    `yaml:"type" json:"type"`
	Skills          []string  `yaml:"skills" json:"skills"`
	Status          Status    `yaml:"status" json:"status"`
	CurrentWorkload int       `yaml:"current_workload" json:"current_workload"`
	MaxWorkload     int       `yaml:"max_workload" json:"max_workload"`
	CreatedAt       time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt       time.Time `yaml:"updated_at" json:"updated_at"`
}

// HasCapacity reports whether the agent can take another task. The workload
// counter is advisory, so this is a target rather than a hard constraint.
func (a *Agent) HasCapacity() bool {
	return a.CurrentWorkload < a.MaxWorkload
}

// HasSkill reports whether the agent declares the given skill.
func (a *Agent) HasSkill(skill string) bool {
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	return false
}
