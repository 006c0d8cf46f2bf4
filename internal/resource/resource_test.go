package resource

import (
	"testing"

	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames_SyncOrder(t *testing.T) {
	assert.Equal(t, []Name{
		Settings, Frequency, Medication, Appointment, EmergencyContact, Notification,
	}, Names())
}

func TestLookup_Unknown(t *testing.T) {
	_, ok := Lookup("prescriptions")
	assert.False(t, ok)
}

func TestLookup_BatchingFlags(t *testing.T) {
	ec, ok := Lookup(EmergencyContact)
	require.True(t, ok)
	assert.True(t, ec.BatchDelete)
	assert.False(t, ec.ListUpdate)

	f, ok := Lookup(Frequency)
	require.True(t, ok)
	assert.True(t, f.ListUpdate)

	m, ok := Lookup(Medication)
	require.True(t, ok)
	assert.False(t, m.ListUpdate)
	assert.False(t, m.BatchDelete)
}

func TestAll_ReturnsCopy(t *testing.T) {
	all := All()
	all[0] = nil
	assert.NotNil(t, All()[0])
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"id":                   "id",
		"ownerId":              "owner_id",
		"dosageUnit":           "dosage_unit",
		"notificationsEnabled": "notifications_enabled",
		"scheduledTime":        "scheduled_time",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeCase(in))
	}
}

func TestDescriptor_MetaColumnsFirst(t *testing.T) {
	d, _ := Lookup(Appointment)
	require.GreaterOrEqual(t, len(d.Columns), 5)
	assert.Equal(t, "id", d.Columns[0].Name)
	assert.Equal(t, "sync_status", d.Columns[2].Name)

	c, ok := d.Field("scheduledTime")
	require.True(t, ok)
	assert.Equal(t, "scheduled_time", c.Name)
}

func TestToWire_DropsSyncStatusAndUnknownFields(t *testing.T) {
	d, _ := Lookup(Medication)
	wire := d.ToWire(models.Row{
		"id":         int64(4),
		"ownerId":    "u1",
		"name":       "Aspirin",
		"stockAlert": true,
		"syncStatus": "ADDED",
		"bogus":      "x",
	})

	assert.Equal(t, map[string]any{
		"id":          int64(4),
		"owner_id":    "u1",
		"name":        "Aspirin",
		"stock_alert": true,
	}, wire)
}

func TestFromWire_MapsSnakeToCamel(t *testing.T) {
	d, _ := Lookup(Frequency)
	row := d.FromWire(map[string]any{
		"id":            float64(2),
		"medication_id": float64(9),
		"dosage_unit":   "mg",
		"times":         []any{"08:00"},
		"sync_status":   "ADDED",
		"server_only":   true,
	})

	assert.Equal(t, models.Row{
		"id":           float64(2),
		"medicationId": float64(9),
		"dosageUnit":   "mg",
		"times":        []any{"08:00"},
	}, row)
}

func TestKind_SQLType(t *testing.T) {
	assert.Equal(t, "INTEGER", KindBool.SQLType())
	assert.Equal(t, "INTEGER", KindInt.SQLType())
	assert.Equal(t, "REAL", KindReal.SQLType())
	assert.Equal(t, "TEXT", KindJSON.SQLType())
	assert.Equal(t, "TEXT", KindText.SQLType())
}
