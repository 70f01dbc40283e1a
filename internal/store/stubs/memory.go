package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"assignbot/internal/store"
)

// Memory is an in-memory store used by service and controller tests. It
// honours the same invariants the Postgres schema enforces: one assignment
// per group, one group per user.
type Memory struct {
	mu          sync.Mutex
	users       map[int64]store.User
	groups      map[int64]store.Group
	assignments map[int64]store.Assignment // by group
	credentials map[int64]store.Credential // by user
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[int64]store.User),
		groups:      make(map[int64]store.Group),
		assignments: make(map[int64]store.Assignment),
		credentials: make(map[int64]store.Credential),
	}
}

func (m *Memory) UpsertUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if ok {
		user.StartedAt = existing.StartedAt
	} else if user.StartedAt.IsZero() {
		user.StartedAt = time.Now()
	}
	user.UpdatedAt = time.Now()
	m.users[user.ID] = user
	return nil
}

func (m *Memory) GetUser(_ context.Context, userID int64) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *Memory) ListUnassignedUsers(_ context.Context, limit int) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	assigned := make(map[int64]struct{}, len(m.assignments))
	for _, a := range m.assignments {
		assigned[a.UserID] = struct{}{}
	}

	var users []store.User
	for id, u := range m.users {
		if _, ok := assigned[id]; !ok {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].StartedAt.Before(users[j].StartedAt) })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (m *Memory) UpsertGroup(_ context.Context, group store.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.groups[group.ID]
	if ok {
		group.CreatedAt = existing.CreatedAt
	} else if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	group.UpdatedAt = time.Now()
	m.groups[group.ID] = group
	return nil
}

func (m *Memory) GetGroup(_ context.Context, groupID int64) (store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return store.Group{}, store.ErrNotFound
	}
	return g, nil
}

func (m *Memory) AssignManager(_ context.Context, groupID, userID int64, override bool) (store.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, bound := m.assignments[groupID]
	if bound && current.UserID == userID {
		return current, nil
	}
	if bound && !override {
		return store.Assignment{}, store.ErrAlreadyAssigned
	}
	for gid, a := range m.assignments {
		if a.UserID == userID && gid != groupID {
			return store.Assignment{}, store.ErrUserAlreadyManager
		}
	}
	if bound {
		delete(m.credentials, current.UserID)
	}

	created := store.Assignment{GroupID: groupID, UserID: userID, AssignedAt: time.Now()}
	m.assignments[groupID] = created
	return created, nil
}

func (m *Memory) GetAssignment(_ context.Context, groupID int64) (store.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[groupID]
	if !ok {
		return store.Assignment{}, store.ErrNotFound
	}
	return a, nil
}

func (m *Memory) GetAssignmentForUser(_ context.Context, userID int64) (store.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.UserID == userID {
			return a, nil
		}
	}
	return store.Assignment{}, store.ErrNotFound
}

func (m *Memory) ClearAssignment(_ context.Context, groupID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[groupID]
	if !ok {
		return nil
	}
	delete(m.credentials, a.UserID)
	delete(m.assignments, groupID)
	return nil
}

func (m *Memory) SetCustomer(_ context.Context, groupID int64, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[groupID]
	if !ok {
		return store.ErrNotFound
	}
	a.CustomerID = customerID
	m.assignments[groupID] = a
	return nil
}

func (m *Memory) StoreCredential(_ context.Context, userID int64, key, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[userID] = store.Credential{
		UserID:     userID,
		APIKey:     key,
		APISecret:  secret,
		VerifiedAt: time.Now(),
	}
	return nil
}

func (m *Memory) GetCredential(_ context.Context, userID int64) (store.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return store.Credential{}, store.ErrNotFound
	}
	return c, nil
}

func (m *Memory) ClearCredential(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, userID)
	return nil
}

func (m *Memory) Close() error { return nil }

var _ store.Store = (*Memory)(nil)
