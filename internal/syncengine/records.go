package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	syncerr "github.com/alexjbarnes/medsync/internal/errors"
	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/store"
)

// Create stores a new row as ADDED and pushes its resource right away.
// A failed push leaves the row ADDED for the next cycle; it is not an
// error for the caller.
func (e *Engine) Create(ctx context.Context, name resource.Name, ownerID string, row models.Row) (int64, error) {
	row = row.Clone()
	row[models.FieldOwnerID] = ownerID
	delete(row, models.FieldSyncStatus)

	id, err := e.store.Add(ctx, name, row, models.StatusAdded)
	if err != nil {
		return id, err
	}

	e.propagate(ctx, ownerID, name)

	return id, nil
}

// Update applies changes to a live row and pushes its resource. A row the
// server has never seen stays ADDED; otherwise it becomes UPDATED.
// Updating a tombstone returns ErrTombstoned.
func (e *Engine) Update(ctx context.Context, name resource.Name, ownerID string, id int64, changes models.Row) error {
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		return updateRow(ctx, tx, name, id, changes)
	})
	if err != nil {
		return err
	}

	e.propagate(ctx, ownerID, name)

	return nil
}

func updateRow(ctx context.Context, tx *store.Store, name resource.Name, id int64, changes models.Row) error {
	cur, err := tx.Get(ctx, name, id)
	if err != nil {
		return err
	}

	next, ok := models.Next(cur.Status(), models.EventUpdate)
	if !ok {
		return fmt.Errorf("update %s %d: %w", name, id, syncerr.ErrTombstoned)
	}

	changes = changes.Clone()
	changes[models.FieldSyncStatus] = next

	if _, err := tx.Update(ctx, name, id, changes, ""); err != nil {
		return err
	}

	return nil
}

// Delete tombstones a row and pushes its resource. Deleting a tombstone
// is a no-op.
func (e *Engine) Delete(ctx context.Context, name resource.Name, ownerID string, id int64) error {
	changed, err := e.store.Delete(ctx, name, id, "")
	if err != nil {
		return err
	}

	if changed {
		e.propagate(ctx, ownerID, name)
	}

	return nil
}

// DeleteGroup tombstones several rows at once and pushes their resource.
func (e *Engine) DeleteGroup(ctx context.Context, name resource.Name, ownerID string, ids []int64) error {
	changed, err := e.store.DeleteGroup(ctx, name, ids)
	if err != nil {
		return err
	}

	if changed {
		e.propagate(ctx, ownerID, name)
	}

	return nil
}

// List returns the live rows of a resource for owner.
func (e *Engine) List(ctx context.Context, name resource.Name, ownerID string) ([]models.Row, error) {
	return e.store.GetAll(ctx, name, ownerID)
}

// Get returns a row by id, tombstones included.
func (e *Engine) Get(ctx context.Context, name resource.Name, id int64) (models.Row, error) {
	return e.store.Get(ctx, name, id)
}

// propagate is the immediate best-effort push after a local write.
func (e *Engine) propagate(ctx context.Context, ownerID string, names ...resource.Name) {
	report := e.PushResources(ctx, ownerID, names...)
	if report.Offline {
		return
	}

	if err := report.Err(); err != nil {
		e.logger.Debug("immediate push incomplete, will retry next cycle",
			slog.String("error", err.Error()),
		)
	}
}

// PendingCount is how many rows of a resource await a push.
type PendingCount struct {
	Resource resource.Name `json:"resource" yaml:"resource"`
	Pending  int           `json:"pending" yaml:"pending"`
	Pulled   bool          `json:"pulled" yaml:"pulled"`
}

// Pending reports unsynced rows and the pulled flag per resource, in sync
// order.
func (e *Engine) Pending(ctx context.Context, ownerID string) ([]PendingCount, error) {
	out := make([]PendingCount, 0, len(resource.Names()))

	for _, name := range resource.Names() {
		rows, err := e.store.GetUnsynced(ctx, name, ownerID)
		if err != nil {
			return nil, err
		}

		pulled, err := e.state.Pulled(ownerID, string(name))
		if err != nil {
			return nil, err
		}

		out = append(out, PendingCount{Resource: name, Pending: len(rows), Pulled: pulled})
	}

	return out, nil
}
