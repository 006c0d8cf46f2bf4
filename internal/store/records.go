package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/alexjbarnes/medsync/internal/errors"
	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
)

func lookup(name resource.Name) (*resource.Descriptor, error) {
	d, ok := resource.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", name, apperrors.ErrNoMapping)
	}

	return d, nil
}

// keyColumn resolves the column a caller keys an update or delete by.
// An empty field means the primary key.
func keyColumn(d *resource.Descriptor, field string) (resource.Column, error) {
	if field == "" {
		field = models.FieldID
	}

	c, ok := d.Field(field)
	if !ok {
		return resource.Column{}, fmt.Errorf("resource %q field %q: %w", d.Name, field, apperrors.ErrNoMapping)
	}

	return c, nil
}

// Add inserts a row with the given sync status and returns its id. A
// non-zero id in row is kept; otherwise the table assigns the next one.
// For an unknown resource it returns -1 and ErrNoMapping.
func (s *Store) Add(ctx context.Context, name resource.Name, row models.Row, status models.SyncStatus) (int64, error) {
	d, err := lookup(name)
	if err != nil {
		return -1, err
	}

	if !status.Valid() {
		return -1, fmt.Errorf("add %s: invalid sync status %q", name, status)
	}

	now := s.timestamp()
	cols := make([]string, 0, len(d.Columns))
	args := make([]any, 0, len(d.Columns))

	for _, c := range d.Columns {
		var v any

		switch c.Field {
		case models.FieldSyncStatus:
			v = string(status)
		case models.FieldCreatedAt, models.FieldUpdatedAt:
			v = now
		case models.FieldID:
			if row.ID() == 0 {
				continue
			}

			v = row.ID()
		default:
			raw, ok := row[c.Field]
			if !ok {
				continue
			}

			if v, err = encodeValue(c, raw); err != nil {
				return -1, fmt.Errorf("add %s: %w", name, err)
			}
		}

		cols = append(cols, c.Name)
		args = append(args, v)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Table, strings.Join(cols, ", "), placeholders(len(cols)))

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return -1, fmt.Errorf("add %s: %w", name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return -1, fmt.Errorf("add %s: reading id: %w", name, err)
	}

	return id, nil
}

// Update applies a partial update to the rows whose keyField equals key.
// keyField "" means id; a foreign key such as "medicationId" is allowed.
// The id, createdAt and the key field itself are never rewritten. It
// reports whether any row changed.
func (s *Store) Update(ctx context.Context, name resource.Name, key any, row models.Row, keyField string) (bool, error) {
	d, err := lookup(name)
	if err != nil {
		return false, err
	}

	kc, err := keyColumn(d, keyField)
	if err != nil {
		return false, err
	}

	var (
		sets []string
		args []any
	)

	for _, c := range d.Columns {
		switch c.Field {
		case models.FieldID, models.FieldCreatedAt, models.FieldUpdatedAt, kc.Field:
			continue
		}

		raw, ok := row[c.Field]
		if !ok {
			continue
		}

		if c.Field == models.FieldSyncStatus {
			st, _ := raw.(models.SyncStatus)
			if str, isStr := raw.(string); isStr {
				st = models.SyncStatus(str)
			}

			if !st.Valid() {
				return false, fmt.Errorf("update %s: invalid sync status %v", name, raw)
			}
		}

		v, err := encodeValue(c, raw)
		if err != nil {
			return false, fmt.Errorf("update %s: %w", name, err)
		}

		sets = append(sets, c.Name+" = ?")
		args = append(args, v)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, s.timestamp())

	keyVal, err := encodeValue(kc, key)
	if err != nil {
		return false, fmt.Errorf("update %s: key: %w", name, err)
	}

	args = append(args, keyVal)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", d.Table, strings.Join(sets, ", "), kc.Name)

	return s.execChanged(ctx, "update "+string(name), query, args...)
}

// Delete tombstones the live rows whose keyField equals key. Tombstoned
// rows stay readable through Get but drop out of GetAll.
func (s *Store) Delete(ctx context.Context, name resource.Name, key any, keyField string) (bool, error) {
	d, err := lookup(name)
	if err != nil {
		return false, err
	}

	kc, err := keyColumn(d, keyField)
	if err != nil {
		return false, err
	}

	keyVal, err := encodeValue(kc, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: key: %w", name, err)
	}

	query := fmt.Sprintf(
		"UPDATE %s SET sync_status = ?, %s = 0, updated_at = ? WHERE %s = ? AND sync_status <> ?",
		d.Table, remoteDeletedColumn, kc.Name,
	)

	return s.execChanged(ctx, "delete "+string(name), query,
		string(models.StatusDeleted), s.timestamp(), keyVal, string(models.StatusDeleted))
}

// DeleteGroup tombstones a batch of rows by id.
func (s *Store) DeleteGroup(ctx context.Context, name resource.Name, ids []int64) (bool, error) {
	d, err := lookup(name)
	if err != nil {
		return false, err
	}

	if len(ids) == 0 {
		return false, nil
	}

	args := []any{string(models.StatusDeleted), s.timestamp()}
	for _, id := range ids {
		args = append(args, id)
	}

	args = append(args, string(models.StatusDeleted))

	query := fmt.Sprintf(
		"UPDATE %s SET sync_status = ?, %s = 0, updated_at = ? WHERE id IN (%s) AND sync_status <> ?",
		d.Table, remoteDeletedColumn, placeholders(len(ids)),
	)

	return s.execChanged(ctx, "delete group "+string(name), query, args...)
}

// GetAll returns the non-tombstoned rows of a resource ordered by id. An
// empty ownerID returns every owner's rows.
func (s *Store) GetAll(ctx context.Context, name resource.Name, ownerID string) ([]models.Row, error) {
	where := "sync_status <> ?"
	args := []any{string(models.StatusDeleted)}

	if ownerID != "" {
		where += " AND owner_id = ?"
		args = append(args, ownerID)
	}

	return s.selectRows(ctx, name, where, args...)
}

// GetBy returns the non-tombstoned rows whose field equals value.
func (s *Store) GetBy(ctx context.Context, name resource.Name, field string, value any) ([]models.Row, error) {
	d, err := lookup(name)
	if err != nil {
		return nil, err
	}

	c, err := keyColumn(d, field)
	if err != nil {
		return nil, err
	}

	v, err := encodeValue(c, value)
	if err != nil {
		return nil, fmt.Errorf("get %s by %s: %w", name, field, err)
	}

	return s.selectRows(ctx, name, c.Name+" = ? AND sync_status <> ?", v, string(models.StatusDeleted))
}

// GetUnsynced returns rows whose status is not SYNCED, tombstones
// included, except tombstones whose remote delete already succeeded.
func (s *Store) GetUnsynced(ctx context.Context, name resource.Name, ownerID string) ([]models.Row, error) {
	where := "sync_status <> ? AND " + remoteDeletedColumn + " = 0"
	args := []any{string(models.StatusSynced)}

	if ownerID != "" {
		where += " AND owner_id = ?"
		args = append(args, ownerID)
	}

	return s.selectRows(ctx, name, where, args...)
}

// Get returns a single row by id, tombstoned or not. It returns
// ErrNotFound when no row has that id.
func (s *Store) Get(ctx context.Context, name resource.Name, id int64) (models.Row, error) {
	rows, err := s.selectRows(ctx, name, "id = ?", id)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %d: %w", name, id, apperrors.ErrNotFound)
	}

	return rows[0], nil
}

// Upsert inserts or replaces a row by id with the given status. Used by
// the pull path, where the server copy wins. Server timestamps are kept
// when present.
func (s *Store) Upsert(ctx context.Context, name resource.Name, row models.Row, status models.SyncStatus) error {
	d, err := lookup(name)
	if err != nil {
		return err
	}

	if row.ID() == 0 {
		return fmt.Errorf("upsert %s: row has no id", name)
	}

	now := s.timestamp()
	cols := make([]string, 0, len(d.Columns)+1)
	args := make([]any, 0, len(d.Columns)+1)

	for _, c := range d.Columns {
		var v any

		switch c.Field {
		case models.FieldSyncStatus:
			v = string(status)
		case models.FieldCreatedAt, models.FieldUpdatedAt:
			v = row.String(c.Field)
			if v == "" {
				v = now
			}
		default:
			if v, err = encodeValue(c, row[c.Field]); err != nil {
				return fmt.Errorf("upsert %s: %w", name, err)
			}
		}

		cols = append(cols, c.Name)
		args = append(args, v)
	}

	cols = append(cols, remoteDeletedColumn)
	args = append(args, 0)

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", d.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}

	return nil
}

// MarkSynced records that the server accepted rows. Each row flips to
// SYNCED only if its updatedAt still matches the value that was pushed,
// so an edit made while the push was in flight stays pending. Accepted
// tombstones keep DELETED and become inert. Returns how many rows changed.
func (s *Store) MarkSynced(ctx context.Context, name resource.Name, rows []models.Row) (int, error) {
	d, err := lookup(name)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	live := fmt.Sprintf("UPDATE %s SET sync_status = ? WHERE id = ? AND updated_at = ? AND sync_status IN (?, ?)", d.Table)
	tomb := fmt.Sprintf("UPDATE %s SET %s = 1 WHERE id = ? AND updated_at = ? AND sync_status = ?", d.Table, remoteDeletedColumn)

	changed := 0
	err = s.InTx(ctx, func(tx *Store) error {
		for _, row := range rows {
			var (
				ok  bool
				err error
			)

			if row.Status() == models.StatusDeleted {
				ok, err = tx.execChanged(ctx, "mark synced "+string(name), tomb,
					row.ID(), row.UpdatedAt(), string(models.StatusDeleted))
			} else {
				ok, err = tx.execChanged(ctx, "mark synced "+string(name), live,
					string(models.StatusSynced), row.ID(), row.UpdatedAt(),
					string(models.StatusAdded), string(models.StatusUpdated))
			}

			if err != nil {
				return err
			}

			if ok {
				changed++
			}
		}

		return nil
	})

	return changed, err
}

// SaveUser inserts or replaces the session user.
func (s *Store) SaveUser(ctx context.Context, u models.User) error {
	if u.CreatedAt == "" {
		u.CreatedAt = s.timestamp()
	}

	_, err := s.q.ExecContext(ctx,
		"INSERT OR REPLACE INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Email, u.Name, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	return nil
}

// GetUser returns a user by id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		u           models.User
		email, name sql.NullString
	)

	err := s.q.QueryRowContext(ctx, "SELECT id, email, name, created_at FROM users WHERE id = ?", id).
		Scan(&u.ID, &email, &name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.Email = email.String
	u.Name = name.String

	return &u, nil
}

func (s *Store) selectRows(ctx context.Context, name resource.Name, where string, args ...any) ([]models.Row, error) {
	d, err := lookup(name)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id", strings.Join(names, ", "), d.Table, where)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var out []models.Row

	for rows.Next() {
		raw := make([]any, len(d.Columns))
		ptrs := make([]any, len(d.Columns))

		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}

		row := make(models.Row, len(d.Columns))

		for i, c := range d.Columns {
			v, err := decodeValue(c, raw[i])
			if err != nil {
				return nil, fmt.Errorf("scan %s: %w", name, err)
			}

			if v != nil {
				row[c.Field] = v
			}
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", name, err)
	}

	return out, nil
}

func (s *Store) execChanged(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}

	return n > 0, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
