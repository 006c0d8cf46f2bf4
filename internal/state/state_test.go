package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const testOwner = "owner-test-001"

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_HeldByAnotherHandle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	held, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { held.Close() })

	_, err = loadAt(dbPath, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.SetToken("persist-me"))
	require.NoError(t, s1.SetPulled(testOwner, "medication", true))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, "persist-me", s2.Token())
	pulled, err := s2.Pulled(testOwner, "medication")
	require.NoError(t, err)
	assert.True(t, pulled)
}

// --- Token / Owner ---

func TestToken_EmptyByDefault(t *testing.T) {
	s := testDB(t)
	assert.Equal(t, "", s.Token())
}

func TestSetToken_Overwrite(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetToken("old"))
	require.NoError(t, s.SetToken("new"))
	assert.Equal(t, "new", s.Token())
}

func TestSetOwner_RoundTrip(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetOwner(testOwner))
	assert.Equal(t, testOwner, s.Owner())
}

// --- Pulled flags ---

func TestPulled_DefaultsFalse(t *testing.T) {
	s := testDB(t)
	pulled, err := s.Pulled("nobody", "settings")
	require.NoError(t, err)
	assert.False(t, pulled)
}

func TestSetPulled_ClearFlag(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetPulled(testOwner, "appointment", true))
	require.NoError(t, s.SetPulled(testOwner, "appointment", false))

	pulled, err := s.Pulled(testOwner, "appointment")
	require.NoError(t, err)
	assert.False(t, pulled)
}

func TestPulled_IsolatedBetweenOwners(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetPulled("a", "medication", true))

	pa, _ := s.Pulled("a", "medication")
	pb, _ := s.Pulled("b", "medication")
	assert.True(t, pa)
	assert.False(t, pb)
}

func TestResetPulled_ClearsFlagsKeepsTimestamps(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetPulled(testOwner, "medication", true))
	require.NoError(t, s.SetPulled(testOwner, "settings", true))
	require.NoError(t, s.UpdateMeta(testOwner, func(m *SyncMeta) {
		m.FullySynced = true
		m.LastPush = 42
	}))

	require.NoError(t, s.ResetPulled(testOwner))

	for _, r := range []string{"medication", "settings"} {
		pulled, err := s.Pulled(testOwner, r)
		require.NoError(t, err)
		assert.False(t, pulled, r)
	}

	meta, err := s.Meta(testOwner)
	require.NoError(t, err)
	assert.False(t, meta.FullySynced)
	assert.Equal(t, int64(42), meta.LastPush)
}

func TestResetPulled_UnknownOwnerIsNoop(t *testing.T) {
	s := testDB(t)
	assert.NoError(t, s.ResetPulled("ghost"))
}

// --- Meta ---

func TestMeta_DefaultsZero(t *testing.T) {
	s := testDB(t)
	meta, err := s.Meta(testOwner)
	require.NoError(t, err)
	assert.Equal(t, SyncMeta{}, meta)
}

func TestUpdateMeta_RoundTrip(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.UpdateMeta(testOwner, func(m *SyncMeta) { m.LastPull = 7 }))
	require.NoError(t, s.UpdateMeta(testOwner, func(m *SyncMeta) { m.FullySynced = true }))

	meta, err := s.Meta(testOwner)
	require.NoError(t, err)
	assert.Equal(t, SyncMeta{FullySynced: true, LastPull: 7}, meta)
}
