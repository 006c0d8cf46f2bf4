package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/medsync/internal/config"
	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/notify"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/scheduler"
	"github.com/alexjbarnes/medsync/internal/state"
)

const owner = "owner-1"

type backend struct {
	*httptest.Server

	// failPath answers 500 when set.
	failPath string

	mu       sync.Mutex
	requests []string
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			b.mu.Lock()
			b.requests = append(b.requests, r.Method+" "+r.URL.Path)
			fail := b.failPath != "" && r.URL.Path == b.failPath
			b.mu.Unlock()

			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		w.Write([]byte(`{"code":0,"data":[]}`))
	}))
	t.Cleanup(b.Close)

	return b
}

func (b *backend) seen(req string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.requests {
		if r == req {
			return true
		}
	}

	return false
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	return &config.Config{
		Environment:         "test",
		APIBaseURL:          baseURL,
		OwnerID:             owner,
		DataDir:             t.TempDir(),
		SyncInterval:        time.Minute,
		HTTPTimeout:         5 * time.Second,
		ConnectivityTimeout: time.Second,
		AppointmentLead:     24 * time.Hour,
	}
}

func testApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return a
}

func testJob(a *app) scheduler.Job {
	eval := notify.NewEvaluator(a.engine, notify.LogDispatcher{Logger: a.logger}, a.cfg.AppointmentLead, a.logger)
	return newSyncJob(a.engine, eval, owner, a.cfg.SyncInterval, a.logger)
}

func addPendingMedication(t *testing.T, a *app) int64 {
	t.Helper()

	id, err := a.store.Add(context.Background(), resource.Medication, models.Row{
		"ownerId": owner, "name": "Aspirin", "stock": 32, "threshold": 10,
	}, models.StatusAdded)
	require.NoError(t, err)

	return id
}

// runFor starts the daemon and returns a stop func that waits for it.
func runFor(t *testing.T, a *app) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- runDaemon(ctx, a) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func TestHashPassword(t *testing.T) {
	var prompt bytes.Buffer

	hash, err := hashPassword(strings.NewReader("s3cret\n"), &prompt, bcrypt.MinCost)
	require.NoError(t, err)

	assert.Equal(t, "Enter password: ", prompt.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestHashPassword_NoInput(t *testing.T) {
	_, err := hashPassword(strings.NewReader(""), io.Discard, bcrypt.MinCost)
	assert.Error(t, err)
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"run", "push", "pull", "status", "hash-password"} {
		assert.True(t, names[want], want)
	}
}

func TestNewApp_RecordsOwner(t *testing.T) {
	a := testApp(t, testConfig(t, "http://127.0.0.1:1"))

	assert.Equal(t, owner, a.state.Owner())

	u, err := a.store.GetUser(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, owner, u.ID)
}

func TestSignIn_OwnerChangeResetsPulled(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	a := testApp(t, cfg)

	require.NoError(t, a.state.SetPulled("owner-2", string(resource.Medication), true))
	require.NoError(t, a.state.SetOwner("owner-0"))

	a.cfg.OwnerID = "owner-2"
	require.NoError(t, a.signIn(context.Background()))

	pulled, err := a.state.Pulled("owner-2", string(resource.Medication))
	require.NoError(t, err)
	assert.False(t, pulled)
	assert.Equal(t, "owner-2", a.state.Owner())
}

func TestSyncJob_NoDataCompletesReconciliation(t *testing.T) {
	b := newBackend(t)
	a := testApp(t, testConfig(t, b.URL))

	result, err := testJob(a).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultNoData, result)

	synced, err := a.engine.FullySynced(owner)
	require.NoError(t, err)
	assert.True(t, synced)
	assert.True(t, b.seen("GET /medication/"+owner))
}

func TestSyncJob_PushesPendingRows(t *testing.T) {
	b := newBackend(t)
	a := testApp(t, testConfig(t, b.URL))
	ctx := context.Background()

	// Written by another process, so no immediate push happened.
	id, err := a.store.Add(ctx, resource.Medication, models.Row{
		"ownerId": owner, "name": "Aspirin", "stock": 32, "threshold": 10,
	}, models.StatusAdded)
	require.NoError(t, err)

	result, err := testJob(a).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultNewData, result)
	assert.True(t, b.seen("POST /medication"))

	row, err := a.store.Get(ctx, resource.Medication, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, row.Status())
}

func TestSyncJob_OfflineIsNoData(t *testing.T) {
	b := newBackend(t)
	a := testApp(t, testConfig(t, b.URL))
	b.Close()

	_, err := a.store.Add(context.Background(), resource.Medication, models.Row{
		"ownerId": owner, "name": "Aspirin", "stock": 32, "threshold": 10,
	}, models.StatusAdded)
	require.NoError(t, err)

	result, err := testJob(a).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultNoData, result)
}

func TestWriteStatus(t *testing.T) {
	a := testApp(t, testConfig(t, "http://127.0.0.1:1"))
	ctx := context.Background()

	_, err := a.store.Add(ctx, resource.Medication, models.Row{"ownerId": owner, "name": "Aspirin"}, models.StatusAdded)
	require.NoError(t, err)
	require.NoError(t, a.state.UpdateMeta(owner, func(m *state.SyncMeta) { m.LastPush = 1700000000 }))

	var out bytes.Buffer
	require.NoError(t, writeStatus(ctx, &out, a.engine, owner))

	assert.NotContains(t, out.String(), "last_pull")

	var got statusReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, owner, got.Owner)
	assert.False(t, got.FullySynced)
	assert.Equal(t, "2023-11-14T22:13:20Z", got.LastPush)
	require.Len(t, got.Resources, len(resource.Names()))

	for _, c := range got.Resources {
		if c.Resource == resource.Medication {
			assert.Equal(t, 1, c.Pending)
		}
	}
}

func TestRunDaemon_PushesLeftoverRowsAtLaunch(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(t, b.URL)
	cfg.BackgroundEnabled = true
	cfg.WatchStore = true
	cfg.SyncInterval = time.Hour
	a := testApp(t, cfg)

	// Left ADDED by a process killed before its push.
	id := addPendingMedication(t, a)

	stop := runFor(t, a)
	assert.Eventually(t, func() bool { return b.seen("POST /medication") }, 5*time.Second, 20*time.Millisecond)
	stop()

	row, err := a.store.Get(context.Background(), resource.Medication, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, row.Status())
}

func TestRunDaemon_PushesAtLaunchWithoutBackground(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(t, b.URL)
	cfg.BackgroundEnabled = false
	a := testApp(t, cfg)

	addPendingMedication(t, a)

	stop := runFor(t, a)
	assert.Eventually(t, func() bool { return b.seen("POST /medication") }, 5*time.Second, 20*time.Millisecond)
	stop()
}

func TestSyncJob_LogsUnexpectedReconcileFailure(t *testing.T) {
	b := newBackend(t)
	b.mu.Lock()
	b.failPath = "/settings/" + owner
	b.mu.Unlock()
	a := testApp(t, testConfig(t, b.URL))

	var logs bytes.Buffer
	a.logger = slog.New(slog.NewTextHandler(&logs, nil))

	addPendingMedication(t, a)

	result, err := testJob(a).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultNewData, result)
	assert.Contains(t, logs.String(), "reconciliation incomplete")
	assert.True(t, b.seen("POST /medication"))
}

func TestSyncJob_OfflineReconcileIsQuiet(t *testing.T) {
	b := newBackend(t)
	a := testApp(t, testConfig(t, b.URL))
	b.Close()

	var logs bytes.Buffer
	a.logger = slog.New(slog.NewTextHandler(&logs, nil))

	_, err := testJob(a).Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "reconciliation incomplete")
}
