// Package sessions holds the Core Runtime's Session Store: a registry of
// live osa.Session instances plus the idle-timeout sweep that retires
// them.
package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/osa-systems/osa/pkg/osa"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the Session Lifecycle's persistence contract. The Core Runtime
// only ever depends on this interface; a durable backend (SQLite, a KV
// store) is out of scope and can be swapped in behind it.
type Store interface {
	GetOrCreate(ctx context.Context, id, channel, channelID string) (*osa.Session, error)
	Get(ctx context.Context, id string) (*osa.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) []*osa.Session
}

// MemoryStore is an in-process Store keyed by session ID, holding live
// *osa.Session pointers rather than persistence-layer clones, since a
// Session's mutex and in-flight request state cannot be round-tripped
// through a clone.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*osa.Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*osa.Session)}
}

// GetOrCreate returns the existing session for id, or creates and stores
// a new one.
func (m *MemoryStore) GetOrCreate(ctx context.Context, id, channel, channelID string) (*osa.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}
	sess := osa.NewSession(id, channel, channelID)
	m.sessions[id] = sess
	return sess, nil
}

// Get returns the session for id, or ErrSessionNotFound.
func (m *MemoryStore) Get(ctx context.Context, id string) (*osa.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// List returns every live session, ordered by ID for deterministic sweeps.
func (m *MemoryStore) List(ctx context.Context) []*osa.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*osa.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
