package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockStore keeps users in memory. Used in tests and for throwaway setups.
type MockStore struct {
	lock       sync.RWMutex
	byID       map[int64]*User
	byUsername map[string]*User
	nextID     int64
	// FailWith makes every operation return this error when set.
	FailWith error
}

func NewMockStore() *MockStore {
	return &MockStore{
		byID:       make(map[int64]*User),
		byUsername: make(map[string]*User),
		nextID:     1,
	}
}

func (s *MockStore) UpsertUser(_ context.Context, username, accessToken string) (*User, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	if username == "" {
		return nil, errors.New("username is required")
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	now := time.Now().UTC()
	u, ok := s.byUsername[username]
	if !ok {
		u = &User{
			ID:        s.nextID,
			Username:  username,
			Role:      RoleUser,
			CreatedAt: now,
		}
		s.nextID++
		s.byID[u.ID] = u
		s.byUsername[username] = u
	}
	u.AccessToken = accessToken
	u.UpdatedAt = now

	copied := *u
	return &copied, nil
}

func (s *MockStore) GetUser(_ context.Context, id int64) (*User, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.lock.RLock()
	defer s.lock.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MockStore) SetRole(_ context.Context, username string, role Role) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	u, ok := s.byUsername[username]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (s *MockStore) CountUsers(_ context.Context) (int, error) {
	if s.FailWith != nil {
		return 0, s.FailWith
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.byID), nil
}
