package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/scttfrdmn/investdesk/desk"
)

type storedSession struct {
	data    []byte
	summary Summary
	order   int64
}

// InMemoryStore keeps encoded sessions in a map. When maxSessions is
// exceeded the oldest saved session is evicted.
type InMemoryStore struct {
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]storedSession
	counter  int64
}

// NewInMemoryStore creates a store. A non-positive maxSessions means no limit.
func NewInMemoryStore(maxSessions int) *InMemoryStore {
	return &InMemoryStore{
		maxSessions: maxSessions,
		sessions:    make(map[string]storedSession),
	}
}

// Save encodes s so later changes to it are not visible through the store.
func (m *InMemoryStore) Save(ctx context.Context, s *desk.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	m.sessions[s.CorrelationID()] = storedSession{data: data, summary: summarize(s), order: m.counter}

	if m.maxSessions > 0 && len(m.sessions) > m.maxSessions {
		oldestID := ""
		var oldest int64
		for id, stored := range m.sessions {
			if oldestID == "" || stored.order < oldest {
				oldestID, oldest = id, stored.order
			}
		}
		delete(m.sessions, oldestID)
	}
	return nil
}

// Load decodes a fresh copy of the stored session.
func (m *InMemoryStore) Load(ctx context.Context, correlationID string) (*desk.Session, error) {
	m.mu.RLock()
	stored, ok := m.sessions[correlationID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var s desk.Session
	if err := json.Unmarshal(stored.data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// List returns summaries, most recently started first.
func (m *InMemoryStore) List(ctx context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for _, stored := range m.sessions {
		out = append(out, stored.summary)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CorrelationID < out[j].CorrelationID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a session.
func (m *InMemoryStore) Delete(ctx context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, correlationID)
	return nil
}

// Len returns the number of stored sessions.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
