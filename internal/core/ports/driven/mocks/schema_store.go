package mocks

import (
	"context"
	"sync"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Ensure MockSchemaStore implements SchemaStore
var _ driven.SchemaStore = (*MockSchemaStore)(nil)

// MockSchemaStore is a mock implementation of SchemaStore for testing
type MockSchemaStore struct {
	mu      sync.RWMutex
	schemas map[string]*domain.EntitySchema

	// Custom behavior hooks (optional)
	SaveFn func(schema *domain.EntitySchema) error
}

// NewMockSchemaStore creates a new MockSchemaStore
func NewMockSchemaStore() *MockSchemaStore {
	return &MockSchemaStore{
		schemas: make(map[string]*domain.EntitySchema),
	}
}

func (m *MockSchemaStore) Save(ctx context.Context, schema *domain.EntitySchema) error {
	if m.SaveFn != nil {
		return m.SaveFn(schema)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[schema.Name] = schema
	return nil
}

func (m *MockSchemaStore) Get(ctx context.Context, name string) (*domain.EntitySchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schema, ok := m.schemas[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return schema, nil
}

func (m *MockSchemaStore) List(ctx context.Context) ([]*domain.EntitySchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.EntitySchema
	for _, schema := range m.schemas {
		result = append(result, schema)
	}
	return result, nil
}

func (m *MockSchemaStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schemas[name]; !ok {
		return domain.ErrNotFound
	}
	delete(m.schemas, name)
	return nil
}
