package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/internal/session"
	"github.com/taskforge/taskforge/internal/session/repositoryimpl"
	"github.com/taskforge/taskforge/pkg/cerr"
	"github.com/taskforge/taskforge/pkg/storage"
)

func newTestStore(t *testing.T, expiry time.Duration) *session.Store {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(st)
	return session.NewStore(repo, eventbus.New(), session.StoreConfig{Expiry: expiry})
}

func TestStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 30*time.Minute)

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Empty(t, sess.Interactions)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.False(t, got.LastAccessedAt.Before(sess.LastAccessedAt))
}

func TestStoreGetUnknown(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 30*time.Minute)

	_, err := store.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestStoreAppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 30*time.Minute)

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	turns := []struct {
		role    session.Role
		content string
	}{
		{session.RoleSystem, "you are a planner"},
		{session.RoleUser, "split this epic into tasks"},
		{session.RoleAssistant, "created 4 tasks"},
		{session.RoleUser, "add one for docs"},
	}
	for _, turn := range turns {
		_, err := store.Append(ctx, sess.ID, turn.role, turn.content)
		require.NoError(t, err)
	}

	history, err := store.GetHistory(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, len(turns))
	for i, turn := range turns {
		assert.Equal(t, turn.role, history[i].Role)
		assert.Equal(t, turn.content, history[i].Content)
	}
}

func TestStoreAppendValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 30*time.Minute)

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	tests := []struct {
		name    string
		role    session.Role
		content string
	}{
		{name: "unknown role", role: session.Role("operator"), content: "hi"},
		{name: "empty content", role: session.RoleUser, content: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Append(ctx, sess.ID, tt.role, tt.content)
			require.Error(t, err)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
		})
	}
}

func TestStoreExpiredSessionLooksUnknown(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Millisecond)

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = store.Append(ctx, sess.ID, session.RoleUser, "hello")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = store.Get(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	// Expiry is indistinguishable from a session that never existed.
	_, err = store.Append(ctx, sess.ID, session.RoleUser, "still there?")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestStoreAccessRefreshesExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 50*time.Millisecond)

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	// Keep touching the session inside the idle window.
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		_, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
	}
}

func TestStoreEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 30*time.Minute)

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.End(ctx, sess.ID))

	_, err = store.Get(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	err = store.End(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Millisecond)

	stale, err := store.Create(ctx)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Sweep(ctx))

	_, err = store.Get(ctx, stale.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}
