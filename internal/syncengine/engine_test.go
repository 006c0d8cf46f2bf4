package syncengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/remote"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/state"
	"github.com/alexjbarnes/medsync/internal/store"
)

const owner = "owner-1"

var errNetwork = &remote.TransientError{Err: errors.New("connection refused")}

type fixture struct {
	eng    *Engine
	api    *MockAPI
	store  *store.Store
	state  *state.State
	online *atomic.Bool
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	api := NewMockAPI(ctrl)
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "records.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	flags, err := state.LoadAt(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { flags.Close() })

	online := &atomic.Bool{}
	online.Store(true)

	eng := New(Deps{
		Store:  st,
		State:  flags,
		API:    api,
		Probe:  remote.ProbeFunc(func(context.Context) bool { return online.Load() }),
		Logger: discardLogger(),
	})

	return &fixture{eng: eng, api: api, store: st, state: flags, online: online}
}

func (f *fixture) status(t *testing.T, name resource.Name, id int64) models.SyncStatus {
	t.Helper()
	row, err := f.store.Get(context.Background(), name, id)
	require.NoError(t, err)
	return row.Status()
}

// seedSynced stores a row as if it came from a pull.
func (f *fixture) seedSynced(t *testing.T, name resource.Name, row models.Row) {
	t.Helper()
	row[models.FieldOwnerID] = owner
	require.NoError(t, f.store.Upsert(context.Background(), name, row, models.StatusSynced))
}
