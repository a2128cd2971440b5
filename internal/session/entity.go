package session

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Interaction is one turn of a conversation. History order is insertion
// order and is replayed verbatim as context for downstream completions.
type Interaction struct {
	Role      Role      `yaml:"role" json:"role"`
	Content   string    `yaml:"content" json:"content"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

type Session struct {
	ID             string        `yaml:"id" json:"id"`
	Interactions   []Interaction `yaml:"interactions" json:"interactions"`
	CreatedAt      time.Time     `yaml:"created_at" json:"created_at"`
	LastAccessedAt time.Time     `yaml:"last_accessed_at" json:"last_accessed_at"`
}

// ExpiredAt reports whether the session is expired at the given instant.
func (s *Session) ExpiredAt(now time.Time, expiry time.Duration) bool {
	return now.Sub(s.LastAccessedAt) > expiry
}
