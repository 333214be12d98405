package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Ensure mocks implement their interfaces
var _ driven.SyncLogStore = (*MockSyncLogStore)(nil)
var _ driven.ConflictStore = (*MockConflictStore)(nil)
var _ driven.DeviceStore = (*MockDeviceStore)(nil)

// MockSyncLogStore is a mock implementation of SyncLogStore for testing
type MockSyncLogStore struct {
	mu   sync.RWMutex
	logs []*domain.SyncLog

	// Custom behavior hooks (optional)
	AppendFn func(log *domain.SyncLog) error
	PurgeFn  func(olderThan time.Time) (int, error)
}

// NewMockSyncLogStore creates a new MockSyncLogStore
func NewMockSyncLogStore() *MockSyncLogStore {
	return &MockSyncLogStore{}
}

func (m *MockSyncLogStore) Append(ctx context.Context, log *domain.SyncLog) error {
	if m.AppendFn != nil {
		return m.AppendFn(log)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *MockSyncLogStore) Get(ctx context.Context, id string) (*domain.SyncLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, log := range m.logs {
		if log.ID == id {
			return log, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSyncLogStore) List(ctx context.Context, filter domain.SyncLogFilter) ([]*domain.SyncLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.SyncLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		log := m.logs[i]
		if filter.UserID != "" && log.UserID != filter.UserID {
			continue
		}
		if filter.DeviceID != "" && log.DeviceID != filter.DeviceID {
			continue
		}
		if filter.Status != "" && log.Status != filter.Status {
			continue
		}
		if filter.Since != nil && log.CreatedAt.Before(*filter.Since) {
			continue
		}
		result = append(result, log)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MockSyncLogStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	if m.PurgeFn != nil {
		return m.PurgeFn(olderThan)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*domain.SyncLog
	purged := 0
	for _, log := range m.logs {
		if log.CreatedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, log)
	}
	m.logs = kept
	return purged, nil
}

// Len returns the number of stored logs (for test assertions)
func (m *MockSyncLogStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Last returns the most recently appended log, or nil
func (m *MockSyncLogStore) Last() *domain.SyncLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.logs) == 0 {
		return nil
	}
	return m.logs[len(m.logs)-1]
}

// MockConflictStore is a mock implementation of ConflictStore for testing
type MockConflictStore struct {
	mu       sync.RWMutex
	open     map[string]*domain.Conflict // record id -> open conflict
	resolved []*domain.Conflict

	// Custom behavior hooks (optional)
	SaveFn         func(c *domain.Conflict) error
	MarkResolvedFn func(recordID, resolvedBy string, resolvedAt time.Time) error
}

// NewMockConflictStore creates a new MockConflictStore
func NewMockConflictStore() *MockConflictStore {
	return &MockConflictStore{
		open: make(map[string]*domain.Conflict),
	}
}

func (m *MockConflictStore) Save(ctx context.Context, c *domain.Conflict) error {
	if m.SaveFn != nil {
		return m.SaveFn(c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Resolved() {
		m.resolved = append(m.resolved, c)
		return nil
	}
	m.open[c.RecordID] = c
	return nil
}

func (m *MockConflictStore) GetOpen(ctx context.Context, recordID string) (*domain.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.open[recordID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (m *MockConflictStore) ListOpen(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Conflict
	for _, c := range m.open {
		if ownerID != "" && c.OwnerID != ownerID {
			continue
		}
		result = append(result, c)
	}

	if offset > 0 {
		if offset >= len(result) {
			return nil, nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockConflictStore) MarkResolved(ctx context.Context, recordID, resolvedBy string, resolvedAt time.Time) error {
	if m.MarkResolvedFn != nil {
		return m.MarkResolvedFn(recordID, resolvedBy, resolvedAt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.open[recordID]
	if !ok {
		return domain.ErrNotFound
	}
	c.ResolvedAt = &resolvedAt
	c.ResolvedBy = resolvedBy
	m.resolved = append(m.resolved, c)
	delete(m.open, recordID)
	return nil
}

// OpenCount returns the number of open conflicts (for test assertions)
func (m *MockConflictStore) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// ResolvedCount returns the number of resolved conflicts (for test assertions)
func (m *MockConflictStore) ResolvedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resolved)
}

// MockDeviceStore is a mock implementation of DeviceStore for testing
type MockDeviceStore struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device // userID:deviceID

	// Custom behavior hooks (optional)
	UpsertFn func(d *domain.Device) error
}

// NewMockDeviceStore creates a new MockDeviceStore
func NewMockDeviceStore() *MockDeviceStore {
	return &MockDeviceStore{
		devices: make(map[string]*domain.Device),
	}
}

func deviceKey(userID, deviceID string) string {
	return userID + ":" + deviceID
}

func (m *MockDeviceStore) Upsert(ctx context.Context, d *domain.Device) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[deviceKey(d.UserID, d.DeviceID)] = d
	return nil
}

func (m *MockDeviceStore) Get(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[deviceKey(userID, deviceID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (m *MockDeviceStore) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			result = append(result, d)
		}
	}
	return result, nil
}
