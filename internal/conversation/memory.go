package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with lazy TTL expiry. It backs tests and
// single-node development; production uses PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memoryEntry

	// now is swapped out in TTL tests.
	now func() time.Time
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.Version = 1
	s.sessions[session.ID] = &memoryEntry{
		session:   session.Clone(),
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(id)
	if err != nil {
		return nil, err
	}
	return entry.session.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(session.ID)
	if err != nil {
		return err
	}
	if entry.session.Version != session.Version {
		return ErrVersionConflict
	}

	stored := session.Clone()
	stored.Version++
	entry.session = stored
	entry.expiresAt = s.now().Add(s.ttl)

	session.Version = stored.Version
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.live(id); err != nil {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// live returns the entry for id, expiring it first if the TTL lapsed.
// Callers must hold the lock.
func (s *MemoryStore) live(id string) (*memoryEntry, error) {
	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	return entry, nil
}
