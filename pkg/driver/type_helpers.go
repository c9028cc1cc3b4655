package driver

import (
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// TypeConversionError represents an error during type conversion from database types.
type TypeConversionError struct {
	Expected string
	Actual   string
	Field    string
}

func (e *TypeConversionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("type conversion error for field %q: expected %s, got %s", e.Field, e.Expected, e.Actual)
	}
	return fmt.Sprintf("type conversion error: expected %s, got %s", e.Expected, e.Actual)
}

// NewTypeConversionError creates a new TypeConversionError.
func NewTypeConversionError(expected, actual, field string) *TypeConversionError {
	return &TypeConversionError{Expected: expected, Actual: actual, Field: field}
}

// AsDBNode safely converts an interface{} to dbtype.Node.
func AsDBNode(v any) (dbtype.Node, bool) {
	node, ok := v.(dbtype.Node)
	return node, ok
}

// AsDBRelationship safely converts an interface{} to dbtype.Relationship.
func AsDBRelationship(v any) (dbtype.Relationship, bool) {
	rel, ok := v.(dbtype.Relationship)
	return rel, ok
}

// AsString safely converts an interface{} to string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsFloat64 converts numeric database values to float64.
func AsFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int64:
		return float64(f), true
	}
	return 0, false
}

// AsStringSlice safely converts an interface{} to []string.
func AsStringSlice(v any) ([]string, bool) {
	s, ok := v.([]string)
	return s, ok
}

// AsAnySlice safely converts an interface{} to []any.
func AsAnySlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// MustRecordSlice converts an interface{} to []*db.Record or returns an error.
func MustRecordSlice(v any, field string) ([]*db.Record, error) {
	records, ok := v.([]*db.Record)
	if !ok {
		return nil, NewTypeConversionError("[]*db.Record", fmt.Sprintf("%T", v), field)
	}
	return records, nil
}

// MustDBNode converts an interface{} to dbtype.Node or returns an error.
func MustDBNode(v any, field string) (dbtype.Node, error) {
	node, ok := AsDBNode(v)
	if !ok {
		return dbtype.Node{}, NewTypeConversionError("dbtype.Node", fmt.Sprintf("%T", v), field)
	}
	return node, nil
}

// MustDBRelationship converts an interface{} to dbtype.Relationship or returns an error.
func MustDBRelationship(v any, field string) (dbtype.Relationship, error) {
	rel, ok := AsDBRelationship(v)
	if !ok {
		return dbtype.Relationship{}, NewTypeConversionError("dbtype.Relationship", fmt.Sprintf("%T", v), field)
	}
	return rel, nil
}

// MustString converts an interface{} to string or returns an error.
func MustString(v any, field string) (string, error) {
	s, ok := AsString(v)
	if !ok {
		return "", NewTypeConversionError("string", fmt.Sprintf("%T", v), field)
	}
	return s, nil
}

// marshalField encodes v for a JSON-valued column or property.
func marshalField(field string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", field, err)
	}
	return string(b), nil
}
