// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*ConversationRecord // keyed by record ID
	references    map[string]*SessionReference   // keyed by "channel:conversationID"
	groups        map[string]*TargetGroup        // keyed by group ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*ConversationRecord),
		references:    make(map[string]*SessionReference),
		groups:        make(map[string]*TargetGroup),
	}
}

// UpsertConversation stores a conversation record.
func (m *MockStore) UpsertConversation(ctx context.Context, rec *ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	r := *rec
	m.conversations[r.ID] = &r
	return nil
}

// GetConversation retrieves a conversation record by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

// GetConversationByWebID retrieves the most recently started record with the
// given web conversation id.
func (m *MockStore) GetConversationByWebID(ctx context.Context, webConversationID string) (*ConversationRecord, error) {
	return m.findConversation(func(r *ConversationRecord) bool {
		return r.WebConversationID == webConversationID
	})
}

// GetConversationByTargetID retrieves the most recently started record with
// the given target conversation id.
func (m *MockStore) GetConversationByTargetID(ctx context.Context, targetConversationID string) (*ConversationRecord, error) {
	return m.findConversation(func(r *ConversationRecord) bool {
		return r.TargetConversationID == targetConversationID
	})
}

func (m *MockStore) findConversation(match func(*ConversationRecord) bool) (*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*ConversationRecord
	for _, rec := range m.conversations {
		if match(rec) {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})
	r := *matches[0]
	return &r, nil
}

// UpsertReference stores a session reference. Last write wins.
func (m *MockStore) UpsertReference(ctx context.Context, ref *SessionReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *ref
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	m.references[r.Channel+":"+r.ConversationID] = &r
	return nil
}

// GetReference retrieves a session reference.
func (m *MockStore) GetReference(ctx context.Context, channel, conversationID string) (*SessionReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ref, ok := m.references[channel+":"+conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	r := *ref
	return &r, nil
}

// UpsertTargetGroup stores a target group.
func (m *MockStore) UpsertTargetGroup(ctx context.Context, group *TargetGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := *group
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	g.UpdatedAt = time.Now()
	m.groups[g.ID] = &g
	return nil
}

// GetTargetGroup retrieves a target group by ID.
func (m *MockStore) GetTargetGroup(ctx context.Context, id string) (*TargetGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	g := *group
	return &g, nil
}

// ListVisibleTargetGroups returns visible groups ordered by display name.
func (m *MockStore) ListVisibleTargetGroups(ctx context.Context) ([]*TargetGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var groups []*TargetGroup
	for _, group := range m.groups {
		if group.IsVisible {
			g := *group
			groups = append(groups, &g)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].DisplayName < groups[j].DisplayName
	})
	return groups, nil
}

// Ping always succeeds for the mock store.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
