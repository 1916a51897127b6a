package storage

import (
	"context"
	"slices"
	"sync"
)

// MockStorage is an in-memory Store for tests. Write failures can be injected
// per operation family.
type MockStorage struct {
	mu        sync.RWMutex
	flags     map[string]map[string][]byte
	settings  map[string]string
	pingError error

	flagWriteError    error
	settingWriteError error
	flagReadError     error

	// Track calls for testing
	SetFlagCalls    int
	SetSettingCalls int
}

// Ensure MockStorage implements Store interface
var _ Store = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		flags:    make(map[string]map[string][]byte),
		settings: make(map[string]string),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetFlagWriteError makes SetEntityFlag and UnsetEntityFlag fail; nil clears it.
func (m *MockStorage) SetFlagWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagWriteError = err
}

// SetFlagReadError makes GetEntityFlag fail; nil clears it.
func (m *MockStorage) SetFlagReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagReadError = err
}

// SetSettingWriteError makes SetSetting fail; nil clears it.
func (m *MockStorage) SetSettingWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingWriteError = err
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) GetEntityFlag(ctx context.Context, entityID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.flagReadError != nil {
		return nil, m.flagReadError
	}
	v, ok := m.flags[entityID][key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(v), nil
}

func (m *MockStorage) SetEntityFlag(ctx context.Context, entityID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetFlagCalls++
	if m.flagWriteError != nil {
		return m.flagWriteError
	}
	if m.flags[entityID] == nil {
		m.flags[entityID] = make(map[string][]byte)
	}
	m.flags[entityID][key] = slices.Clone(value)
	return nil
}

func (m *MockStorage) UnsetEntityFlag(ctx context.Context, entityID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flagWriteError != nil {
		return m.flagWriteError
	}
	delete(m.flags[entityID], key)
	return nil
}

func (m *MockStorage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MockStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetSettingCalls++
	if m.settingWriteError != nil {
		return m.settingWriteError
	}
	m.settings[key] = value
	return nil
}
