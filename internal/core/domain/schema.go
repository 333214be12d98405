package domain

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

//go:embed schemas.json
var builtinSchemas []byte

// FieldType is the value type of a schema field
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldInteger  FieldType = "integer"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
	FieldUUID     FieldType = "uuid"
	FieldGeopoint FieldType = "geopoint"
)

// Valid reports whether the field type is one of the defined types
func (ft FieldType) Valid() bool {
	switch ft {
	case FieldString, FieldText, FieldNumber, FieldInteger, FieldBoolean,
		FieldDate, FieldDatetime, FieldUUID, FieldGeopoint:
		return true
	}
	return false
}

// SchemaCategory groups entity types by domain area
type SchemaCategory string

const (
	CategoryUser       SchemaCategory = "user"
	CategoryFarm       SchemaCategory = "farm"
	CategoryProduction SchemaCategory = "production"
	CategoryMarket     SchemaCategory = "market"
	CategoryAdvisory   SchemaCategory = "advisory"
)

// FieldDef describes one field of an entity type
type FieldDef struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
}

// EntitySchema describes one entity type in the registry.
// Record payloads are validated against it before any write.
type EntitySchema struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Category    SchemaCategory `json:"category"`
	Description string         `json:"description,omitempty"`
	Fields      []FieldDef     `json:"fields"`
}

// Validate checks a record payload against the schema: required fields must
// be present and every present field must match its declared type. Fields
// not named by the schema are allowed and pass through untouched.
func (s *EntitySchema) Validate(fields map[string]any) error {
	for _, def := range s.Fields {
		val, ok := fields[def.Name]
		if !ok || val == nil {
			if def.Required {
				return fmt.Errorf("%w: missing required field %q", ErrInvalidInput, def.Name)
			}
			continue
		}
		if err := checkFieldType(def, val); err != nil {
			return err
		}
	}
	return nil
}

func checkFieldType(def FieldDef, val any) error {
	switch def.Type {
	case FieldString, FieldText:
		if _, ok := val.(string); !ok {
			return typeError(def, "string")
		}
	case FieldNumber:
		if !isNumber(val) {
			return typeError(def, "number")
		}
	case FieldInteger:
		f, ok := val.(float64)
		if ok && f == math.Trunc(f) {
			return nil
		}
		switch val.(type) {
		case int, int32, int64:
			return nil
		}
		return typeError(def, "integer")
	case FieldBoolean:
		if _, ok := val.(bool); !ok {
			return typeError(def, "boolean")
		}
	case FieldDate:
		s, ok := val.(string)
		if !ok {
			return typeError(def, "date")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return typeError(def, "date")
		}
	case FieldDatetime:
		s, ok := val.(string)
		if !ok {
			return typeError(def, "datetime")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return typeError(def, "datetime")
		}
	case FieldUUID:
		s, ok := val.(string)
		if !ok {
			return typeError(def, "uuid")
		}
		if _, err := uuid.Parse(s); err != nil {
			return typeError(def, "uuid")
		}
	case FieldGeopoint:
		m, ok := val.(map[string]any)
		if !ok || !isNumber(m["lat"]) || !isNumber(m["lon"]) {
			return typeError(def, "geopoint")
		}
	}
	return nil
}

func isNumber(val any) bool {
	switch val.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func typeError(def FieldDef, want string) error {
	return fmt.Errorf("%w: field %q must be a %s", ErrInvalidInput, def.Name, want)
}

// BuiltinSchemas returns the embedded agricultural entity catalog
func BuiltinSchemas() ([]*EntitySchema, error) {
	var schemas []*EntitySchema
	if err := json.Unmarshal(builtinSchemas, &schemas); err != nil {
		return nil, fmt.Errorf("failed to parse builtin schemas: %w", err)
	}
	return schemas, nil
}
