// Package resource describes each syncable resource once: its table, its
// columns with their camelCase and snake_case names, and how the remote
// API batches it. The store and the remote client are generic over these
// descriptors.
package resource

import (
	"strings"
	"unicode"

	"github.com/alexjbarnes/medsync/internal/models"
)

// Name identifies a resource. It doubles as the REST path segment.
type Name string

const (
	Settings         Name = "settings"
	Frequency        Name = "frequency"
	Medication       Name = "medication"
	Appointment      Name = "appointment"
	EmergencyContact Name = "emergency-contact"
	Notification     Name = "notification"
)

// Kind is the storage type of a column.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindReal
	KindBool
	KindJSON
)

// SQLType returns the SQLite column affinity for k.
func (k Kind) SQLType() string {
	switch k {
	case KindInt, KindBool:
		return "INTEGER"
	case KindReal:
		return "REAL"
	}

	return "TEXT"
}

// Column maps a record field to its table column and wire key. Both use
// the snake_case form of the field name.
type Column struct {
	Field string
	Name  string
	Kind  Kind
}

// Descriptor is the schema of one resource.
type Descriptor struct {
	Name    Name
	Table   string
	Columns []Column

	// ListUpdate resources push live rows in one call to
	// PUT /{name}/update/list instead of one request per row.
	ListUpdate bool

	// BatchDelete resources push tombstones in one call carrying the id
	// list instead of one DELETE per row.
	BatchDelete bool

	byField map[string]Column
	byName  map[string]Column
}

// Meta columns present on every table, in table order.
var metaColumns = []Column{
	col(models.FieldID, KindInt),
	col(models.FieldOwnerID, KindText),
	col(models.FieldSyncStatus, KindText),
	col(models.FieldCreatedAt, KindText),
	col(models.FieldUpdatedAt, KindText),
}

func col(field string, kind Kind) Column {
	return Column{Field: field, Name: SnakeCase(field), Kind: kind}
}

func newDescriptor(name Name, table string, cols ...Column) *Descriptor {
	d := &Descriptor{
		Name:    name,
		Table:   table,
		Columns: append(append([]Column{}, metaColumns...), cols...),
		byField: make(map[string]Column),
		byName:  make(map[string]Column),
	}
	for _, c := range d.Columns {
		d.byField[c.Field] = c
		d.byName[c.Name] = c
	}

	return d
}

// Lookup table in fixed sync order.
var registry = []*Descriptor{
	newDescriptor(Settings, "settings",
		col("language", KindText),
		col("timezone", KindText),
		col("notificationsEnabled", KindBool),
		col("reminderLeadMinutes", KindInt),
	),
	withListUpdate(newDescriptor(Frequency, "frequencies",
		col("medicationId", KindInt),
		col("dosage", KindReal),
		col("dosageUnit", KindText),
		col("cycle", KindText),
		col("times", KindJSON),
	)),
	newDescriptor(Medication, "medications",
		col("name", KindText),
		col("stock", KindInt),
		col("threshold", KindInt),
		col("stockAlert", KindBool),
		col("reminderAlert", KindBool),
		col("startDate", KindText),
		col("endDate", KindText),
	),
	newDescriptor(Appointment, "appointments",
		col("name", KindText),
		col("phone", KindText),
		col("scheduledTime", KindText),
		col("description", KindText),
		col("location", KindText),
	),
	withBatchDelete(newDescriptor(EmergencyContact, "emergency_contacts",
		col("name", KindText),
		col("phone", KindText),
		col("type", KindText),
	)),
	withListUpdate(newDescriptor(Notification, "notifications",
		col("type", KindText),
		col("status", KindText),
		col("targetId", KindInt),
		col("variables", KindJSON),
	)),
}

func withListUpdate(d *Descriptor) *Descriptor {
	d.ListUpdate = true
	return d
}

func withBatchDelete(d *Descriptor) *Descriptor {
	d.BatchDelete = true
	return d
}

// Lookup returns the descriptor for name.
func Lookup(name Name) (*Descriptor, bool) {
	for _, d := range registry {
		if d.Name == name {
			return d, true
		}
	}

	return nil, false
}

// All returns every descriptor in sync order:
// settings, frequency, medication, appointment, emergency-contact, notification.
func All() []*Descriptor {
	return append([]*Descriptor(nil), registry...)
}

// Names returns every resource name in sync order.
func Names() []Name {
	names := make([]Name, len(registry))
	for i, d := range registry {
		names[i] = d.Name
	}

	return names
}

// Field returns the column for a camelCase field name.
func (d *Descriptor) Field(field string) (Column, bool) {
	c, ok := d.byField[field]
	return c, ok
}

// ToWire converts a row to the snake_case body the remote API expects.
// The local sync status never leaves the device.
func (d *Descriptor) ToWire(row models.Row) map[string]any {
	out := make(map[string]any, len(row))
	for field, v := range row {
		c, ok := d.byField[field]
		if !ok || c.Field == models.FieldSyncStatus {
			continue
		}

		out[c.Name] = v
	}

	return out
}

// FromWire converts a snake_case server object into a row. Unknown keys
// are dropped.
func (d *Descriptor) FromWire(obj map[string]any) models.Row {
	row := make(models.Row, len(obj))
	for key, v := range obj {
		c, ok := d.byName[key]
		if !ok || c.Field == models.FieldSyncStatus {
			continue
		}

		row[c.Field] = v
	}

	return row
}

// SnakeCase converts a camelCase identifier to snake_case.
func SnakeCase(s string) string {
	var b strings.Builder

	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
