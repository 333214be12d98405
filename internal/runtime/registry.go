package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Registry holds the entity schemas records are validated against.
// It is seeded from the embedded builtin catalog, optionally overlaid with
// persisted custom schemas at boot, and can be updated at runtime via API.
// Thread-safe for concurrent access.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*domain.EntitySchema
	builtin map[string]*domain.EntitySchema

	// store persists overlays across restarts (may be nil in tests)
	store  driven.SchemaStore
	logger *slog.Logger
}

// RegistryConfig holds dependencies for the schema registry
type RegistryConfig struct {
	Store  driven.SchemaStore
	Logger *slog.Logger
}

// NewRegistry creates a registry seeded with the builtin entity catalog
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	builtins, err := domain.BuiltinSchemas()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		schemas: make(map[string]*domain.EntitySchema, len(builtins)),
		builtin: make(map[string]*domain.EntitySchema, len(builtins)),
		store:   cfg.Store,
		logger:  logger,
	}
	for _, s := range builtins {
		r.schemas[s.Name] = s
		r.builtin[s.Name] = s
	}
	return r, nil
}

// LoadOverlays layers persisted custom schemas over the builtin catalog.
// Called once at boot after the store is available.
func (r *Registry) LoadOverlays(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	overlays, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schema overlays: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range overlays {
		r.schemas[s.Name] = s
	}

	if len(overlays) > 0 {
		r.logger.Info("loaded schema overlays", "count", len(overlays))
	}
	return nil
}

// Get retrieves the schema for an entity
func (r *Registry) Get(entity string) (*domain.EntitySchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, entity)
	}
	return s, nil
}

// List returns all registered schemas sorted by entity name
func (r *Registry) List() []*domain.EntitySchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.EntitySchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Validate checks a record payload against the entity's schema
func (r *Registry) Validate(entity string, fields map[string]any) error {
	s, err := r.Get(entity)
	if err != nil {
		return err
	}
	return s.Validate(fields)
}

// Set registers or replaces an entity schema and persists it as an overlay
func (r *Registry) Set(ctx context.Context, schema *domain.EntitySchema) error {
	if err := validateSchemaDef(schema); err != nil {
		return err
	}

	if r.store != nil {
		if err := r.store.Save(ctx, schema); err != nil {
			return fmt.Errorf("failed to persist schema: %w", err)
		}
	}

	r.mu.Lock()
	r.schemas[schema.Name] = schema
	r.mu.Unlock()

	r.logger.Info("schema registered", "entity", schema.Name, "fields", len(schema.Fields))
	return nil
}

// Delete removes a custom schema. If the entity is builtin the overlay is
// dropped and the builtin definition restored; builtin entities themselves
// cannot be removed.
func (r *Registry) Delete(ctx context.Context, entity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[entity]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownEntity, entity)
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, entity); err != nil && err != domain.ErrNotFound {
			return fmt.Errorf("failed to delete schema: %w", err)
		}
	}

	if builtin, ok := r.builtin[entity]; ok {
		r.schemas[entity] = builtin
		return nil
	}
	delete(r.schemas, entity)
	return nil
}

// validateSchemaDef checks a schema definition is well formed
func validateSchemaDef(schema *domain.EntitySchema) error {
	if schema == nil || schema.Name == "" {
		return fmt.Errorf("%w: schema name is required", domain.ErrInvalidInput)
	}
	if strings.ContainsAny(schema.Name, " \t\n") {
		return fmt.Errorf("%w: schema name must not contain whitespace", domain.ErrInvalidInput)
	}
	if len(schema.Fields) == 0 {
		return fmt.Errorf("%w: schema needs at least one field", domain.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field name is required", domain.ErrInvalidInput)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("%w: unknown field type %q for %q", domain.ErrInvalidInput, f.Type, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", domain.ErrInvalidInput, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
