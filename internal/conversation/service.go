package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// putRetries bounds the optimistic read-modify-write loop. Conflicts only
// occur between concurrent turns on the same session id, so contention is low;
// 5 attempts absorb every commit a single concurrent turn can make.
const putRetries = 5

// Service owns per-session message history and dialogue state on top of a
// Store. Mutations on one session are serialized through the store's version
// check; distinct sessions never coordinate.
type Service struct {
	store  Store
	window int
	log    *logrus.Entry
}

// NewService creates the conversation service. window is the maximum number of
// non-system messages retained per session.
func NewService(store Store, window int) *Service {
	return &Service{
		store:  store,
		window: window,
		log:    logrus.WithField("component", "conversation"),
	}
}

// Window returns the configured context window size.
func (s *Service) Window() int {
	return s.window
}

// CreateSession creates a session in StateWaitingInput. A fresh id is
// generated when id is empty.
func (s *Service) CreateSession(ctx context.Context, ownerID, id string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	session := &Session{
		ID:        id,
		OwnerID:   ownerID,
		State:     StateWaitingInput,
		Messages:  []Message{},
		Scratch:   map[string]interface{}{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.WithFields(logrus.Fields{"session_id": id, "owner_id": ownerID}).Info("session created")
	return session, nil
}

// GetSession returns the session or ErrSessionNotFound.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// AppendMessage appends one message and enforces the window invariant. The
// read-modify-write is applied atomically per session via the store's version
// check, retried a bounded number of times on conflict.
func (s *Service) AppendMessage(ctx context.Context, id string, role Role, content string, metadata map[string]interface{}) (*Session, error) {
	return s.mutate(ctx, id, func(session *Session) {
		session.Messages = append(session.Messages, Message{
			Role:      role,
			Content:   content,
			Timestamp: time.Now(),
			Metadata:  metadata,
		})
		session.Messages = trimMessages(session.Messages, s.window)
	})
}

// Transition sets the session state unconditionally. Only state-set membership
// is checked; the prior state is logged for observability.
func (s *Service) Transition(ctx context.Context, id string, newState State) error {
	if !newState.Valid() {
		return fmt.Errorf("invalid session state: %q", newState)
	}

	var prior State
	_, err := s.mutate(ctx, id, func(session *Session) {
		prior = session.State
		session.State = newState
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"session_id": id,
		"from":       prior,
		"to":         newState,
	}).Debug("session state transition")
	return nil
}

// UpdateScratch merges patch into the session scratch map, last writer wins
// per key.
func (s *Service) UpdateScratch(ctx context.Context, id string, patch map[string]interface{}) error {
	_, err := s.mutate(ctx, id, func(session *Session) {
		if session.Scratch == nil {
			session.Scratch = map[string]interface{}{}
		}
		for k, v := range patch {
			session.Scratch[k] = v
		}
	})
	return err
}

// ClearMessages empties the session history. Reports whether the session
// existed; clearing an absent session is not an error.
func (s *Service) ClearMessages(ctx context.Context, id string) (bool, error) {
	_, err := s.mutate(ctx, id, func(session *Session) {
		session.Messages = []Message{}
	})
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteSession removes the session, reporting whether it existed.
func (s *Service) DeleteSession(ctx context.Context, id string) (bool, error) {
	return s.store.Delete(ctx, id)
}

// ContextMessages returns the most recent limit messages (all of them when
// limit <= 0 or exceeds the history length).
func (s *Service) ContextMessages(ctx context.Context, id string, limit int) ([]Message, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs := session.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// mutate runs fn inside an optimistic read-modify-write loop.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Session)) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < putRetries; attempt++ {
		session, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		fn(session)
		session.UpdatedAt = time.Now()

		err = s.store.Put(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("session %s: update contention not resolved after %d attempts: %w",
		id, putRetries, lastErr)
}

// trimMessages drops the oldest non-system messages until at most window
// remain. System messages are always retained, ahead of the survivors.
func trimMessages(messages []Message, window int) []Message {
	nonSystem := 0
	for _, m := range messages {
		if m.Role != RoleSystem {
			nonSystem++
		}
	}
	if nonSystem <= window {
		return messages
	}

	trimmed := make([]Message, 0, len(messages)-(nonSystem-window))
	drop := nonSystem - window
	for _, m := range messages {
		if m.Role != RoleSystem && drop > 0 {
			drop--
			continue
		}
		trimmed = append(trimmed, m)
	}
	return trimmed
}
