package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventTypeTaskCreated    EventType = "task.created"
	EventTypeTaskClaimed    EventType = "task.claimed"
	EventTypeTaskCompleted  EventType = "task.completed"
	EventTypeTaskFailed     EventType = "task.failed"
	EventTypeTaskRequeued   EventType = "task.requeued"
	EventTypeTaskDelegated  EventType = "task.delegated"
	EventTypeAgentAssigned  EventType = "agent.assigned"
	EventTypeSessionCreated EventType = "session.created"
	EventTypeSessionEnded   EventType = "session.ended"
)

// Event is a control-plane lifecycle notification. ResourceID names the task,
// agent, or session the event is about.
type Event struct {
	ID         string
	Type       EventType
	ResourceID string
	Metadata   map[string]string
	CreatedAt  time.Time
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, resourceID string, metadata map[string]string) {
	b.Publish(&Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}
