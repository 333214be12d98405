package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Ensure MockRecordStore implements RecordStore
var _ driven.RecordStore = (*MockRecordStore)(nil)

// MockRecordStore is a mock implementation of RecordStore for testing.
// It enforces the same conditional-write semantics as the real stores and
// supports custom behavior injection through function hooks.
type MockRecordStore struct {
	mu        sync.RWMutex
	records   map[string]*domain.Record
	byOffline map[string]string // deviceID:offlineID -> record id

	// Custom behavior hooks (optional)
	CreateFn          func(rec *domain.Record) error
	GetFn             func(id string) (*domain.Record, error)
	GetByOfflineIDFn  func(deviceID, offlineID string) (*domain.Record, error)
	PutFn             func(rec *domain.Record, expectedVersion time.Time) error
	PurgeTombstonesFn func(olderThan time.Time) (int, error)
	PingFn            func() error
}

// NewMockRecordStore creates a new MockRecordStore
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{
		records:   make(map[string]*domain.Record),
		byOffline: make(map[string]string),
	}
}

func offlineKey(deviceID, offlineID string) string {
	return deviceID + ":" + offlineID
}

// copyRecord returns a detached copy so callers cannot mutate stored state
func copyRecord(rec *domain.Record) *domain.Record {
	cp := *rec
	if rec.Fields != nil {
		cp.Fields = make(map[string]any, len(rec.Fields))
		for k, v := range rec.Fields {
			cp.Fields[k] = v
		}
	}
	return &cp
}

func (m *MockRecordStore) Create(ctx context.Context, rec *domain.Record) error {
	if m.CreateFn != nil {
		return m.CreateFn(rec)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if rec.Sync.OfflineID != "" {
		key := offlineKey(rec.Sync.DeviceID, rec.Sync.OfflineID)
		if _, exists := m.byOffline[key]; exists {
			return domain.ErrAlreadyExists
		}
		m.byOffline[key] = rec.ID
	}

	m.records[rec.ID] = copyRecord(rec)
	return nil
}

func (m *MockRecordStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	if m.GetFn != nil {
		return m.GetFn(id)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MockRecordStore) GetByOfflineID(ctx context.Context, deviceID, offlineID string) (*domain.Record, error) {
	if m.GetByOfflineIDFn != nil {
		return m.GetByOfflineIDFn(deviceID, offlineID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOffline[offlineKey(deviceID, offlineID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MockRecordStore) Put(ctx context.Context, rec *domain.Record, expectedVersion time.Time) error {
	if m.PutFn != nil {
		return m.PutFn(rec, expectedVersion)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[rec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !stored.Sync.UpdatedAt.Equal(expectedVersion) {
		return domain.ErrVersionMismatch
	}

	m.records[rec.ID] = copyRecord(rec)
	return nil
}

func (m *MockRecordStore) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Record
	for _, rec := range m.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		result = append(result, copyRecord(rec))
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

func (m *MockRecordStore) Count(ctx context.Context, filter domain.RecordFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.records {
		if matchesFilter(rec, filter) {
			count++
		}
	}
	return count, nil
}

func matchesFilter(rec *domain.Record, filter domain.RecordFilter) bool {
	if rec.Deleted && !filter.IncludeDeleted {
		return false
	}
	if filter.Entity != "" && rec.Entity != filter.Entity {
		return false
	}
	if filter.OwnerID != "" && rec.OwnerID != filter.OwnerID {
		return false
	}
	if filter.Status != "" && rec.Sync.Status != filter.Status {
		return false
	}
	return true
}

func (m *MockRecordStore) PurgeTombstones(ctx context.Context, olderThan time.Time) (int, error) {
	if m.PurgeTombstonesFn != nil {
		return m.PurgeTombstonesFn(olderThan)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for id, rec := range m.records {
		if rec.Deleted && rec.DeletedAt != nil && rec.DeletedAt.Before(olderThan) {
			delete(m.records, id)
			if rec.Sync.OfflineID != "" {
				delete(m.byOffline, offlineKey(rec.Sync.DeviceID, rec.Sync.OfflineID))
			}
			purged++
		}
	}
	return purged, nil
}

func (m *MockRecordStore) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Len returns the number of stored records (for test assertions)
func (m *MockRecordStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
