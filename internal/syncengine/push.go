package syncengine

import (
	"context"
	"errors"
	"log/slog"

	syncerr "github.com/alexjbarnes/medsync/internal/errors"
	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/state"
)

// ResourceReport is the outcome of pushing one resource.
type ResourceReport struct {
	Resource resource.Name
	Pending  int
	Synced   int
	Err      error
}

// PushReport is the outcome of one push pass.
type PushReport struct {
	// Offline is set when the connectivity probe failed. Nothing was
	// attempted and no row changed.
	Offline   bool
	Resources []ResourceReport
}

// Synced returns the number of rows accepted by the server.
func (r PushReport) Synced() int {
	n := 0
	for _, rr := range r.Resources {
		n += rr.Synced
	}

	return n
}

// Pending returns the number of rows the pass found unsynced.
func (r PushReport) Pending() int {
	n := 0
	for _, rr := range r.Resources {
		n += rr.Pending
	}

	return n
}

// Err joins the per-resource failures, or returns nil.
func (r PushReport) Err() error {
	if r.Offline {
		return &syncerr.SyncError{Op: "push", Err: syncerr.ErrOffline}
	}

	var errs []error

	for _, rr := range r.Resources {
		if rr.Err != nil {
			errs = append(errs, rr.Err)
		}
	}

	return errors.Join(errs...)
}

// PushLocalUpdatesToServer sends every pending row of every resource to
// the backend, in sync order. Offline means deferred: nothing changes and
// no remote call is made. A failing resource does not stop the others.
// Rows already SYNCED never produce a remote call.
func (e *Engine) PushLocalUpdatesToServer(ctx context.Context, ownerID string) PushReport {
	return e.push(ctx, ownerID, resource.All())
}

// PushResources pushes only the named resources, keeping sync order.
func (e *Engine) PushResources(ctx context.Context, ownerID string, names ...resource.Name) PushReport {
	want := make(map[resource.Name]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var descs []*resource.Descriptor

	for _, d := range resource.All() {
		if want[d.Name] {
			descs = append(descs, d)
		}
	}

	return e.push(ctx, ownerID, descs)
}

func (e *Engine) push(ctx context.Context, ownerID string, descs []*resource.Descriptor) PushReport {
	if !e.probe.Online(ctx) {
		e.logger.Debug("offline, push deferred")
		return PushReport{Offline: true}
	}

	report := PushReport{Resources: make([]ResourceReport, 0, len(descs))}

	for _, d := range descs {
		rr := e.pushResource(ctx, d, ownerID)
		if rr.Err != nil {
			e.logger.Warn("push failed",
				slog.String("resource", string(d.Name)),
				slog.String("error", rr.Err.Error()),
			)
		}

		report.Resources = append(report.Resources, rr)
	}

	if report.Synced() > 0 {
		err := e.state.UpdateMeta(ownerID, func(m *state.SyncMeta) {
			m.LastPush = e.now().Unix()
		})
		if err != nil {
			e.logger.Warn("recording push time", slog.String("error", err.Error()))
		}
	}

	return report
}

// pushResource sends one resource's pending rows and marks the accepted
// ones synced. Live rows and tombstones are sent separately so a failed
// delete does not hold back creates.
func (e *Engine) pushResource(ctx context.Context, d *resource.Descriptor, ownerID string) ResourceReport {
	rr := ResourceReport{Resource: d.Name}
	fail := func(err error) error {
		return &syncerr.SyncError{Op: "push", Resource: string(d.Name), Err: err}
	}

	rows, err := e.store.GetUnsynced(ctx, d.Name, ownerID)
	if err != nil {
		rr.Err = fail(err)
		return rr
	}

	rr.Pending = len(rows)
	if len(rows) == 0 {
		return rr
	}

	var live, tombs []models.Row

	for _, row := range rows {
		if row.Status() == models.StatusDeleted {
			tombs = append(tombs, row)
		} else {
			live = append(live, row)
		}
	}

	var (
		accepted []models.Row
		errs     []error
	)

	ok, err := e.pushLive(ctx, d, live)
	accepted = append(accepted, ok...)

	if err != nil {
		errs = append(errs, err)
	}

	ok, err = e.pushTombstones(ctx, d, ownerID, tombs)
	accepted = append(accepted, ok...)

	if err != nil {
		errs = append(errs, err)
	}

	if len(accepted) > 0 {
		n, err := e.store.MarkSynced(ctx, d.Name, accepted)
		if err != nil {
			errs = append(errs, err)
		}

		rr.Synced = n

		if n < len(accepted) {
			e.logger.Debug("rows edited during push stay pending",
				slog.String("resource", string(d.Name)),
				slog.Int("count", len(accepted)-n),
			)
		}
	}

	if len(errs) > 0 {
		rr.Err = fail(errors.Join(errs...))
	}

	return rr
}

func (e *Engine) pushLive(ctx context.Context, d *resource.Descriptor, rows []models.Row) ([]models.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	if d.ListUpdate {
		bodies := make([]map[string]any, len(rows))
		for i, row := range rows {
			bodies[i] = d.ToWire(row)
		}

		if err := e.api.UpdateList(ctx, d.Name, bodies); err != nil {
			return nil, err
		}

		return rows, nil
	}

	var (
		accepted []models.Row
		errs     []error
	)

	for _, row := range rows {
		var err error
		if row.Status() == models.StatusAdded {
			err = e.api.Create(ctx, d.Name, d.ToWire(row))
		} else {
			err = e.api.Update(ctx, d.Name, d.ToWire(row))
		}

		if err != nil {
			e.logger.Debug("row push failed",
				slog.String("resource", string(d.Name)),
				slog.Int64("id", row.ID()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)

			continue
		}

		accepted = append(accepted, row)
	}

	return accepted, errors.Join(errs...)
}

func (e *Engine) pushTombstones(ctx context.Context, d *resource.Descriptor, ownerID string, rows []models.Row) ([]models.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	if d.BatchDelete {
		ids := make([]int64, len(rows))
		for i, row := range rows {
			ids[i] = row.ID()
		}

		if err := e.api.DeleteBatch(ctx, d.Name, ownerID, ids); err != nil {
			return nil, err
		}

		return rows, nil
	}

	var (
		accepted []models.Row
		errs     []error
	)

	for _, row := range rows {
		if err := e.api.Delete(ctx, d.Name, ownerID, row.ID()); err != nil {
			errs = append(errs, err)
			continue
		}

		accepted = append(accepted, row)
	}

	return accepted, errors.Join(errs...)
}
