package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/state"
)

// MockStorage is an in-memory implementation of Storage for testing
type MockStorage struct {
	mu        sync.RWMutex
	players   map[string]*state.PlayerState
	profiles  map[string]*state.Profile
	pingError error
	saveError error
	saves     int
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		players:  make(map[string]*state.PlayerState),
		profiles: make(map[string]*state.Profile),
	}
}

// SetPingSuccess configures the mock to succeed on ping
func (m *MockStorage) SetPingSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = nil
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetSaveError makes every later SavePlayerState call fail with err
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// Saves returns how many player state saves succeeded
func (m *MockStorage) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Ping mocks storage ping
func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

// LoadPlayerState returns a copy of the stored state, or a fresh state
func (m *MockStorage) LoadPlayerState(ctx context.Context, playerID string) (*state.PlayerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ps, ok := m.players[playerID]; ok {
		return ps.Clone(), nil
	}
	return state.NewPlayerState(playerID), nil
}

// SavePlayerState stores a copy so callers cannot mutate stored state
func (m *MockStorage) SavePlayerState(ctx context.Context, ps *state.PlayerState) error {
	if ps == nil || ps.PlayerID == "" {
		return errors.New("player state requires a player id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	ps.UpdatedAt = time.Now()
	m.players[ps.PlayerID] = ps.Clone()
	m.saves++
	return nil
}

func (m *MockStorage) DeletePlayerState(ctx context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, playerID)
	return nil
}

func (m *MockStorage) LoadProfile(ctx context.Context, playerID string) (*state.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.profiles[playerID]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (m *MockStorage) SaveProfile(ctx context.Context, profile *state.Profile) error {
	if profile == nil || profile.PlayerID == "" {
		return errors.New("profile requires a player id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	profile.UpdatedAt = time.Now()
	m.profiles[profile.PlayerID] = profile.Clone()
	return nil
}
