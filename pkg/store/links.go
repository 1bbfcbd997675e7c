package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

// Link returns the account link for the owner with its cursors, or ErrNotFound.
func (db *DB) Link(ctx context.Context, ownerID string) (*model.AccountLink, error) {
	link := &model.AccountLink{OwnerID: ownerID, Cursors: make(map[model.Kind]string)}
	var expiry string
	err := db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expiry FROM account_links WHERE owner_id = ?`, ownerID).
		Scan(&link.AccessToken, &link.RefreshToken, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account link for %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account link: %w", err)
	}
	if link.Expiry, err = parseTime(expiry); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT kind, cursor FROM sync_cursors WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind model.Kind
		var cursor string
		if err := rows.Scan(&kind, &cursor); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		link.Cursors[kind] = cursor
	}
	return link, rows.Err()
}

// SaveLink creates or replaces the owner's credentials. Cursors are left as
// they are; relinking an account does not force a full pull.
func (db *DB) SaveLink(ctx context.Context, link *model.AccountLink) error {
	if link.RefreshToken == "" {
		return fmt.Errorf("account link for %s has no refresh token", link.OwnerID)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO account_links (owner_id, access_token, refresh_token, expiry) VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry`,
		link.OwnerID, link.AccessToken, link.RefreshToken, formatTime(link.Expiry))
	if err != nil {
		return fmt.Errorf("failed to save account link: %w", err)
	}
	return nil
}

// SaveToken persists a refreshed access token. An empty refreshToken keeps
// the stored one.
func (db *DB) SaveToken(ctx context.Context, ownerID, accessToken, refreshToken string, expiry time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE account_links SET
			access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			expiry = ?
		WHERE owner_id = ?`,
		accessToken, refreshToken, refreshToken, formatTime(expiry), ownerID)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return expectOneRow(result, "account link", ownerID)
}

// DeleteLink unlinks the owner and drops its cursors.
func (db *DB) DeleteLink(ctx context.Context, ownerID string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM account_links WHERE owner_id = ?`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete account link: %w", err)
	}
	return expectOneRow(result, "account link", ownerID)
}

// Cursor returns the stored sync cursor, or "" when the next pass must be windowed.
func (db *DB) Cursor(ctx context.Context, ownerID string, kind model.Kind) (string, error) {
	var cursor string
	err := db.QueryRowContext(ctx, `
		SELECT cursor FROM sync_cursors WHERE owner_id = ? AND kind = ?`, ownerID, kind).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor stores the cursor for the owner and kind. An empty cursor clears it.
func (db *DB) SetCursor(ctx context.Context, ownerID string, kind model.Kind, cursor string) error {
	if cursor == "" {
		_, err := db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE owner_id = ? AND kind = ?`, ownerID, kind)
		if err != nil {
			return fmt.Errorf("failed to clear cursor: %w", err)
		}
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_cursors (owner_id, kind, cursor, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, kind) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		ownerID, kind, cursor, formatTime(db.now()))
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}
