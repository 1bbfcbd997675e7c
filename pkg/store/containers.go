package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

// CreateContainer inserts a new container. IsMirror is ignored; use
// SetMirrorContainer to designate the mirror.
func (db *DB) CreateContainer(ctx context.Context, c *model.Container) error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("invalid container kind: %s", c.Kind)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO containers (id, owner_id, kind, name, is_mirror, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		c.ID, c.OwnerID, c.Kind, c.Name, formatTime(db.now()))
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	c.IsMirror = false
	return nil
}

// GetContainer retrieves a container by ID.
func (db *DB) GetContainer(ctx context.Context, id string) (*model.Container, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, is_mirror FROM containers WHERE id = ?`, id)
	c, err := scanContainer(row)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", id, err)
	}
	return c, nil
}

// MirrorContainer returns the container designated as the mirror for the
// owner and kind, or ErrNotFound.
func (db *DB) MirrorContainer(ctx context.Context, ownerID string, kind model.Kind) (*model.Container, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, is_mirror FROM containers
		WHERE owner_id = ? AND kind = ? AND is_mirror = 1`, ownerID, kind)
	c, err := scanContainer(row)
	if err != nil {
		return nil, fmt.Errorf("mirror container for %s/%s: %w", ownerID, kind, err)
	}
	return c, nil
}

// ListContainers returns every container of the owner ordered by name.
func (db *DB) ListContainers(ctx context.Context, ownerID string) ([]*model.Container, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, owner_id, kind, name, is_mirror FROM containers
		WHERE owner_id = ? ORDER BY kind, name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var out []*model.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetMirrorContainer makes id the single mirror container for its owner and kind.
func (db *DB) SetMirrorContainer(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID, kind string
	err = tx.QueryRowContext(ctx, `SELECT owner_id, kind FROM containers WHERE id = ?`, id).Scan(&ownerID, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read container: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE containers SET is_mirror = 0 WHERE owner_id = ? AND kind = ?`, ownerID, kind); err != nil {
		return fmt.Errorf("failed to clear mirror flag: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE containers SET is_mirror = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to set mirror flag: %w", err)
	}
	return tx.Commit()
}

// RemoteContainer returns the remote container mapped for the owner and kind,
// or "" when none is configured.
func (db *DB) RemoteContainer(ctx context.Context, ownerID string, kind model.Kind) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		SELECT remote_container_id FROM remote_containers WHERE owner_id = ? AND kind = ?`,
		ownerID, kind).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get remote container: %w", err)
	}
	return id, nil
}

// SetRemoteContainer maps the owner and kind to a remote list or calendar.
// Changing the mapping drops the kind's sync cursor, since a cursor is only
// meaningful for the container that issued it.
func (db *DB) SetRemoteContainer(ctx context.Context, ownerID string, kind model.Kind, remoteID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT remote_container_id FROM remote_containers WHERE owner_id = ? AND kind = ?`,
		ownerID, kind).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to get remote container: %w", err)
	}
	if err == nil && prev == remoteID {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO remote_containers (owner_id, kind, remote_container_id) VALUES (?, ?, ?)
		ON CONFLICT (owner_id, kind) DO UPDATE SET remote_container_id = excluded.remote_container_id`,
		ownerID, kind, remoteID); err != nil {
		return fmt.Errorf("failed to set remote container: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sync_cursors WHERE owner_id = ? AND kind = ?`, ownerID, kind); err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContainer(row scanner) (*model.Container, error) {
	c := &model.Container{}
	var isMirror int
	err := row.Scan(&c.ID, &c.OwnerID, &c.Kind, &c.Name, &isMirror)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan container: %w", err)
	}
	c.IsMirror = isMirror == 1
	return c, nil
}
