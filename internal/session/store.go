package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/pkg/cerr"
)

type StoreConfig struct {
	// Expiry is the idle timeout. A session whose last access is older
	// than this is treated as if it never existed.
	Expiry time.Duration
}

// Store manages conversation sessions. Expiry is lazy: every read checks
// the idle timeout and removes the record before reporting not found, so
// callers cannot observe an expired session.
type Store struct {
	mu   sync.Mutex
	repo Repository
	bus  *eventbus.Bus
	cfg  StoreConfig

	now func() time.Time
}

func NewStore(repo Repository, bus *eventbus.Bus, cfg StoreConfig) *Store {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 30 * time.Minute
	}
	return &Store{
		repo: repo,
		bus:  bus,
		cfg:  cfg,
		now:  time.Now,
	}
}

func (s *Store) Create(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:             ulid.Make().String(),
		Interactions:   []Interaction{},
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.bus.PublishNew(eventbus.EventTypeSessionCreated, sess.ID, nil)
	return sess, nil
}

// Get returns the session and refreshes its last access time.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.LastAccessedAt = s.now()
	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Append adds an interaction to the session history and refreshes its
// last access time.
func (s *Store) Append(ctx context.Context, id string, role Role, content string) (*Session, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid role %q", role), nil)
	}
	if content == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "content is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess.Interactions = append(sess.Interactions, Interaction{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	sess.LastAccessedAt = now
	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetHistory returns the interactions in insertion order and refreshes
// the session's last access time.
func (s *Store) GetHistory(ctx context.Context, id string) ([]Interaction, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Interactions, nil
}

// End removes the session. Ending an unknown or expired session is not
// an error for the caller to distinguish, both report not found.
func (s *Store) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.bus.PublishNew(eventbus.EventTypeSessionEnded, id, nil)
	return nil
}

// Sweep removes all expired sessions. It is run periodically so that
// idle sessions do not accumulate between reads.
func (s *Store) Sweep(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	removed := 0
	for _, sess := range sessions {
		if !sess.ExpiredAt(now, s.cfg.Expiry) {
			continue
		}
		if err := s.repo.Delete(ctx, sess.ID); err != nil {
			slog.WarnContext(ctx, "failed to remove expired session", slog.String("session_id", sess.ID), slog.Any("error", err))
			continue
		}
		s.bus.PublishNew(eventbus.EventTypeSessionEnded, sess.ID, nil)
		removed++
	}
	if removed > 0 {
		slog.InfoContext(ctx, "swept expired sessions", slog.Int("removed", removed))
	}
	return nil
}

// load fetches a session and applies the lazy expiry check. An expired
// record is deleted and reported identically to a missing one. Callers
// must hold s.mu.
func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.ExpiredAt(s.now(), s.cfg.Expiry) {
		if err := s.repo.Delete(ctx, id); err != nil {
			slog.WarnContext(ctx, "failed to remove expired session", slog.String("session_id", id), slog.Any("error", err))
		}
		s.bus.PublishNew(eventbus.EventTypeSessionEnded, id, nil)
		return nil, cerr.NewError(cerr.NotFound, "session not found", nil)
	}
	return sess, nil
}
