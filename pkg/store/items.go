package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

const itemColumns = `id, parent_id, owner_id, kind, origin, title, notes, due_at, completed, completed_at,
	all_day, start_at, end_at, location, remote_id, remote_parent_id, remote_revision, remote_updated_at,
	created_at, updated_at`

// CreateItem inserts a new item. CreatedAt and UpdatedAt are stamped when zero.
func (db *DB) CreateItem(ctx context.Context, item *model.Item) error {
	if !item.Kind.IsValid() {
		return fmt.Errorf("invalid item kind: %s", item.Kind)
	}
	now := db.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}

	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %s: remote id %s already mirrored: %w", item.ID, item.RemoteID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID.
func (db *DB) GetItem(ctx context.Context, id string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", id, err)
	}
	return item, nil
}

// ItemByRemoteID finds the item mirrored from remoteID for the owner and kind.
func (db *DB) ItemByRemoteID(ctx context.Context, ownerID string, kind model.Kind, remoteID string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE owner_id = ? AND kind = ? AND remote_id = ?`,
		ownerID, kind, remoteID)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("item with remote id %s: %w", remoteID, err)
	}
	return item, nil
}

// ListItems returns the items in a container ordered by creation time.
func (db *DB) ListItems(ctx context.Context, containerID string) ([]*model.Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE parent_id = ? ORDER BY created_at, id`, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CountItems returns the number of items the owner has of the given kind.
func (db *DB) CountItems(ctx context.Context, ownerID string, kind model.Kind) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE owner_id = ? AND kind = ?`,
		ownerID, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// UpdateItem rewrites every mutable column of the item, including UpdatedAt
// exactly as given.
func (db *DB) UpdateItem(ctx context.Context, item *model.Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	// Drop id, owner_id, kind and created_at; append id for the WHERE clause.
	set := append([]any{args[1]}, args[4:18]...)
	set = append(set, args[19], item.ID)

	result, err := db.ExecContext(ctx, `
		UPDATE items SET parent_id = ?, origin = ?, title = ?, notes = ?, due_at = ?, completed = ?,
			completed_at = ?, all_day = ?, start_at = ?, end_at = ?, location = ?, remote_id = ?,
			remote_parent_id = ?, remote_revision = ?, remote_updated_at = ?, updated_at = ?
		WHERE id = ?`, set...)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %s: remote id %s already mirrored: %w", item.ID, item.RemoteID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return expectOneRow(result, "item", item.ID)
}

// SaveLocalEdit writes a local edit: the container, the payload and
// UpdatedAt. Origin and mirror bookkeeping are left to the sync engine.
func (db *DB) SaveLocalEdit(ctx context.Context, item *model.Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	set := append([]any{args[1]}, args[5:14]...)
	set = append(set, args[19], item.ID)

	result, err := db.ExecContext(ctx, `
		UPDATE items SET parent_id = ?, title = ?, notes = ?, due_at = ?, completed = ?, completed_at = ?,
			all_day = ?, start_at = ?, end_at = ?, location = ?, updated_at = ?
		WHERE id = ?`, set...)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return expectOneRow(result, "item", item.ID)
}

// SetRemoteRef stores mirror bookkeeping without touching updated_at.
func (db *DB) SetRemoteRef(ctx context.Context, id string, ref model.RemoteRef) error {
	result, err := db.ExecContext(ctx, `
		UPDATE items SET remote_id = ?, remote_parent_id = ?, remote_revision = ?, remote_updated_at = ?
		WHERE id = ?`,
		nullString(ref.RemoteID), nullString(ref.RemoteParentID), nullString(ref.RemoteRevision),
		formatTimePtr(ref.RemoteUpdatedAt), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %s: remote id %s already mirrored: %w", id, ref.RemoteID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to set remote ref: %w", err)
	}
	return expectOneRow(result, "item", id)
}

// ClearRemoteRef removes all mirror bookkeeping from the item.
func (db *DB) ClearRemoteRef(ctx context.Context, id string) error {
	return db.SetRemoteRef(ctx, id, model.RemoteRef{})
}

// DeleteItem removes an item.
func (db *DB) DeleteItem(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return expectOneRow(result, "item", id)
}

func expectOneRow(result sql.Result, what, id string) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func itemArgs(item *model.Item) ([]any, error) {
	var allDay int
	var start, end sql.NullString
	switch t := item.Event.Timing.(type) {
	case nil:
	case model.Timed:
		start = sql.NullString{String: formatTime(t.Start), Valid: true}
		end = sql.NullString{String: formatTime(t.End), Valid: true}
	case model.AllDay:
		allDay = 1
		start = sql.NullString{String: t.Start.String(), Valid: true}
		end = sql.NullString{String: t.End.String(), Valid: true}
	default:
		return nil, fmt.Errorf("unsupported timing %T", t)
	}

	completed := 0
	if item.Task.Completed {
		completed = 1
	}
	origin := item.Origin
	if origin == "" {
		origin = model.OriginLocal
	}

	return []any{
		item.ID, item.ParentID, item.OwnerID, item.Kind, origin,
		item.Title, item.Notes, formatTimePtr(item.Task.Due), completed, formatTimePtr(item.Task.CompletedAt),
		allDay, start, end, item.Event.Location,
		nullString(item.RemoteID), nullString(item.RemoteParentID), nullString(item.RemoteRevision),
		formatTimePtr(item.RemoteUpdatedAt),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	}, nil
}

func scanItem(row scanner) (*model.Item, error) {
	item := &model.Item{}
	var (
		dueAt, completedAt, startAt, endAt                sql.NullString
		remoteID, remoteParent, remoteRev, remoteUpdated sql.NullString
		createdAt, updatedAt                              string
		completed, allDay                                 int
	)
	err := row.Scan(&item.ID, &item.ParentID, &item.OwnerID, &item.Kind, &item.Origin,
		&item.Title, &item.Notes, &dueAt, &completed, &completedAt,
		&allDay, &startAt, &endAt, &item.Event.Location,
		&remoteID, &remoteParent, &remoteRev, &remoteUpdated,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	item.Task.Completed = completed == 1
	if item.Task.Due, err = parseTimePtr(dueAt); err != nil {
		return nil, err
	}
	if item.Task.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if item.Event.Timing, err = parseTiming(allDay == 1, startAt, endAt); err != nil {
		return nil, err
	}
	item.RemoteID = remoteID.String
	item.RemoteParentID = remoteParent.String
	item.RemoteRevision = remoteRev.String
	if item.RemoteUpdatedAt, err = parseTimePtr(remoteUpdated); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return item, nil
}

func parseTiming(allDay bool, start, end sql.NullString) (model.Timing, error) {
	if !start.Valid || !end.Valid {
		return nil, nil
	}
	if allDay {
		s, err := model.ParseDate(start.String)
		if err != nil {
			return nil, err
		}
		e, err := model.ParseDate(end.String)
		if err != nil {
			return nil, err
		}
		return model.AllDay{Start: s, End: e}, nil
	}
	s, err := time.Parse(time.RFC3339Nano, start.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored start %q: %w", start.String, err)
	}
	e, err := time.Parse(time.RFC3339Nano, end.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored end %q: %w", end.String, err)
	}
	return model.Timed{Start: s, End: e}, nil
}
