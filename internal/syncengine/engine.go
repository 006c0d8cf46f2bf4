// Package syncengine reconciles the local record store with the remote
// backend. It owns the per-row status transitions, the full pull used on
// first login, and the push of pending local changes.
package syncengine

//go:generate mockgen -source=engine.go -destination=mock_api_test.go -package=syncengine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alexjbarnes/medsync/internal/remote"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/state"
	"github.com/alexjbarnes/medsync/internal/store"
)

// API is the subset of the backend the engine calls. *remote.Client
// satisfies it. Bodies are snake_case wire objects.
type API interface {
	Fetch(ctx context.Context, name resource.Name, ownerID string) ([]map[string]any, error)
	Create(ctx context.Context, name resource.Name, body map[string]any) error
	Update(ctx context.Context, name resource.Name, body map[string]any) error
	UpdateList(ctx context.Context, name resource.Name, bodies []map[string]any) error
	Delete(ctx context.Context, name resource.Name, ownerID string, id int64) error
	DeleteBatch(ctx context.Context, name resource.Name, ownerID string, ids []int64) error
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Store  *store.Store
	State  *state.State
	API    API
	Probe  remote.Prober
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the sync context. One Engine serves every trigger source in
// the process: record mutations, the store watcher, and the scheduler.
type Engine struct {
	store  *store.Store
	state  *state.State
	api    API
	probe  remote.Prober
	logger *slog.Logger
	now    func() time.Time

	// pullSem allows one full reconciliation at a time. Pushes are not
	// serialized.
	pullSem *semaphore.Weighted
}

// New creates an Engine.
func New(d Deps) *Engine {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	probe := d.Probe
	if probe == nil {
		probe = remote.Always(true)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:   d.Store,
		state:   d.State,
		api:     d.API,
		probe:   probe,
		logger:  logger.With(slog.String("component", "syncengine")),
		now:     now,
		pullSem: semaphore.NewWeighted(1),
	}
}

// Store returns the record store the engine writes to.
func (e *Engine) Store() *store.Store {
	return e.store
}

// State returns the persisted sync flags.
func (e *Engine) State() *state.State {
	return e.state
}
