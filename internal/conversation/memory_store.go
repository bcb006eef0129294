package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a VersionedStore for local runs and tests. Callers always
// get clones, never the stored pointer.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Load(ctx context.Context, key Key) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key.String()]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, sess *Session, prevTurn int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[sess.SessionID]
	if prevTurn == 0 {
		if ok && !existing.Expired(m.now()) {
			return ErrVersionConflict
		}
	} else if !ok || existing.Turn != prevTurn {
		return ErrVersionConflict
	}
	m.sessions[sess.SessionID] = sess.Clone()
	return nil
}

// Reap removes expired sessions and reports how many were dropped.
func (m *MemoryStore) Reap(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// RunReaper calls Reap every interval until ctx is done.
func (m *MemoryStore) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			m.Reap(t)
		}
	}
}
