// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	events []*ModuleEvent
	notes  map[string]*Note // keyed by "userID:key"
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		notes: make(map[string]*Note),
	}
}

// AppendModuleEvent stores a copy of the event.
func (m *MockStore) AppendModuleEvent(_ context.Context, e *ModuleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	// Make a copy to avoid external modification
	cp := *e
	cp.Tools = append([]string(nil), e.Tools...)
	m.events = append(m.events, &cp)
	return nil
}

// ListModuleEvents returns stored events, newest first.
func (m *MockStore) ListModuleEvents(_ context.Context, f EventFilter) ([]*ModuleEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ModuleEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if f.Module != "" && e.Module != f.Module {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == normalizeLimit(f.Limit) {
			break
		}
	}
	return out, nil
}

// SetNote creates or updates a note.
func (m *MockStore) SetNote(_ context.Context, note *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := note.UserID + ":" + note.Key
	now := time.Now().UTC()
	if existing, ok := m.notes[key]; ok {
		existing.Value = note.Value
		existing.UpdatedAt = now
		return nil
	}

	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	note.CreatedAt, note.UpdatedAt = now, now
	cp := *note
	m.notes[key] = &cp
	return nil
}

// GetNote retrieves a note by user and key.
func (m *MockStore) GetNote(_ context.Context, userID, key string) (*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notes[userID+":"+key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListNotes lists a user's notes ordered by key.
func (m *MockStore) ListNotes(_ context.Context, userID string) ([]*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Note
	for _, n := range m.notes {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteNote deletes a note by user and key.
func (m *MockStore) DeleteNote(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := userID + ":" + key
	if _, ok := m.notes[k]; !ok {
		return ErrNotFound
	}
	delete(m.notes, k)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks.
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
