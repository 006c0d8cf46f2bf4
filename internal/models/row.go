package models

import (
	"encoding/json"
	"fmt"
)

// Common field names present on every syncable row.
const (
	FieldID         = "id"
	FieldOwnerID    = "ownerId"
	FieldSyncStatus = "syncStatus"
	FieldCreatedAt  = "createdAt"
	FieldUpdatedAt  = "updatedAt"
)

// Row is a record keyed by camelCase field name. It is the generic shape
// the store and the remote client exchange; typed records convert to and
// from it with ToRow and FromRow.
type Row map[string]any

// ID returns the row id, or 0 when unset.
func (r Row) ID() int64 {
	return r.Int(FieldID)
}

// Status returns the row's sync status, or "" when unset.
func (r Row) Status() SyncStatus {
	return SyncStatus(r.String(FieldSyncStatus))
}

// OwnerID returns the owning user id.
func (r Row) OwnerID() string {
	return r.String(FieldOwnerID)
}

// UpdatedAt returns the raw updatedAt timestamp.
func (r Row) UpdatedAt() string {
	return r.String(FieldUpdatedAt)
}

// Int reads an integer field regardless of whether it came from SQLite
// (int64) or JSON (float64).
func (r Row) Int(key string) int64 {
	n, _ := ToInt64(r[key])
	return n
}

// String reads a string field, returning "" for missing or non-string values.
func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool reads a boolean field.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	}

	return false
}

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// ToInt64 converts the numeric types that come out of SQLite and
// encoding/json into an int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}

	return 0, false
}

// ToRow converts a typed record into a Row via its JSON field names.
func ToRow(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}

	return row, nil
}

// FromRow fills the typed record dst from row.
func FromRow(row Row, dst any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}

	return nil
}
