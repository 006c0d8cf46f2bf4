package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	syncerr "github.com/alexjbarnes/medsync/internal/errors"
	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/state"
	"github.com/alexjbarnes/medsync/internal/store"
)

// PullWithServer replaces the local copy of one resource with the
// server's. It is a no-op once the resource's pulled flag is set, unless
// force is true. The upserts run in one transaction: on any failure the
// store is untouched and the flag stays unset so the next run retries.
func (e *Engine) PullWithServer(ctx context.Context, name resource.Name, ownerID string, force bool) error {
	d, ok := resource.Lookup(name)
	if !ok {
		return &syncerr.SyncError{Op: "pull", Resource: string(name), Err: syncerr.ErrNoMapping}
	}

	if !force {
		pulled, err := e.state.Pulled(ownerID, string(name))
		if err != nil {
			return &syncerr.SyncError{Op: "pull", Resource: string(name), Err: err}
		}

		if pulled {
			return nil
		}
	}

	fail := func(err error) error {
		return &syncerr.SyncError{Op: "pull", Resource: string(name), Err: fmt.Errorf("%w: %w", syncerr.ErrPullFailed, err)}
	}

	objs, err := e.api.Fetch(ctx, name, ownerID)
	if err != nil {
		return fail(err)
	}

	err = e.store.InTx(ctx, func(tx *store.Store) error {
		for _, obj := range objs {
			row := d.FromWire(obj)
			if row.OwnerID() == "" {
				row[models.FieldOwnerID] = ownerID
			}

			if err := tx.Upsert(ctx, name, row, models.StatusSynced); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fail(err)
	}

	if err := e.state.SetPulled(ownerID, string(name), true); err != nil {
		return &syncerr.SyncError{Op: "pull", Resource: string(name), Err: err}
	}

	e.logger.Info("pulled resource",
		slog.String("resource", string(name)),
		slog.Int("rows", len(objs)),
	)

	return nil
}

// SyncLocalDatabaseWithRemote pulls every resource in sync order and sets
// the owner's fully-synced flag only when all of them succeeded. Only one
// call runs at a time; a concurrent call returns ErrSyncInProgress at
// once. force clears the pulled flags first.
func (e *Engine) SyncLocalDatabaseWithRemote(ctx context.Context, ownerID string, force bool) error {
	if !e.pullSem.TryAcquire(1) {
		return &syncerr.SyncError{Op: "pull", Err: syncerr.ErrSyncInProgress}
	}
	defer e.pullSem.Release(1)

	if !e.probe.Online(ctx) {
		e.logger.Debug("offline, pull deferred")
		return &syncerr.SyncError{Op: "pull", Err: syncerr.ErrOffline}
	}

	if force {
		if err := e.state.ResetPulled(ownerID); err != nil {
			return &syncerr.SyncError{Op: "pull", Err: err}
		}
	}

	var errs []error

	for _, name := range resource.Names() {
		if err := e.PullWithServer(ctx, name, ownerID, false); err != nil {
			e.logger.Warn("pull failed",
				slog.String("resource", string(name)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return e.state.UpdateMeta(ownerID, func(m *state.SyncMeta) {
		m.FullySynced = true
		m.LastPull = e.now().Unix()
	})
}

// FullySynced reports whether every resource has been pulled for owner.
func (e *Engine) FullySynced(ownerID string) (bool, error) {
	meta, err := e.state.Meta(ownerID)
	if err != nil {
		return false, err
	}

	return meta.FullySynced, nil
}
