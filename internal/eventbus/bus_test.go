package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/eventbus"
)

func TestPublishSubscribe(t *testing.T) {
	bus := eventbus.New()

	id, events := bus.Subscribe(4)
	defer bus.Unsubscribe(id)

	bus.PublishNew(eventbus.EventTypeTaskCreated, "task-1", map[string]string{"project_id": "p1"})

	select {
	case event := <-events:
		assert.Equal(t, eventbus.EventTypeTaskCreated, event.Type)
		assert.Equal(t, "task-1", event.ResourceID)
		assert.Equal(t, "p1", event.Metadata["project_id"])
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := eventbus.New()

	// Buffer of one, never drained.
	id, events := bus.Subscribe(1)
	defer bus.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.PublishNew(eventbus.EventTypeTaskClaimed, "task-1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The first event is still delivered; the overflow was dropped.
	require.Len(t, events, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := eventbus.New()

	id, events := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, ok := <-events
	assert.False(t, ok)
}
