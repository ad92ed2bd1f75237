package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// MockStorage is a mock implementation of Storage for testing
type MockStorage struct {
	mu          sync.RWMutex
	stages      map[uuid.UUID]*StageSnapshot
	manifest    catalog.Manifest
	pingError   error
	saveError   error
	manifestErr error
	SaveCalls   int
	AppendCalls []catalog.Entry
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		stages:   make(map[uuid.UUID]*StageSnapshot),
		manifest: catalog.Manifest{},
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

// SetSaveError makes SaveStage fail
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetManifestError makes LoadManifest fail
func (m *MockStorage) SetManifestError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifestErr = err
}

// SetManifest replaces the manifest returned by LoadManifest
func (m *MockStorage) SetManifest(man catalog.Manifest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifest = man.Clone()
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

// SaveStage stores a copy of the snapshot
func (m *MockStorage) SaveStage(ctx context.Context, snap *StageSnapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.saveError != nil {
		return m.saveError
	}
	cp := *snap
	cp.State = snap.State.Clone()
	cp.UpdatedAt = time.Now()
	m.stages[snap.SessionID] = &cp
	return nil
}

// CompareAndSaveStage stores a copy of snap if the stored turn count matches
func (m *MockStorage) CompareAndSaveStage(ctx context.Context, snap *StageSnapshot, expectTurns int) (bool, error) {
	if snap == nil {
		return false, errors.New("snapshot cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.saveError != nil {
		return false, m.saveError
	}
	stored, exists := m.stages[snap.SessionID]
	if !exists || stored.Turns != expectTurns {
		return false, nil
	}
	cp := *snap
	cp.State = snap.State.Clone()
	cp.UpdatedAt = time.Now()
	m.stages[snap.SessionID] = &cp
	return true, nil
}

// LoadStage returns nil, nil when the session has no snapshot
func (m *MockStorage) LoadStage(ctx context.Context, id uuid.UUID) (*StageSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, exists := m.stages[id]
	if !exists {
		return nil, nil
	}
	cp := *snap
	cp.State = snap.State.Clone()
	return &cp, nil
}

// DeleteStage mocks deleting a snapshot
func (m *MockStorage) DeleteStage(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stages, id)
	return nil
}

// LoadManifest returns a copy of the configured manifest
func (m *MockStorage) LoadManifest(ctx context.Context) (catalog.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.manifestErr != nil {
		return nil, m.manifestErr
	}
	return m.manifest.Clone(), nil
}

// AppendManifest adds the entry to the in-memory manifest
func (m *MockStorage) AppendManifest(ctx context.Context, e catalog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls = append(m.AppendCalls, e)
	m.manifest.Add(e)
	return nil
}
