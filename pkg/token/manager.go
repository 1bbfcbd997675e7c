// Package token hands out valid access tokens for linked accounts, refreshing
// them against the OAuth token endpoint when they are about to expire.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/harrisonrobin/mirrorsync/pkg/keylock"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
)

// SafetyMargin is subtracted from reported lifetimes and required on top of
// the stored expiry before a token is reused.
const SafetyMargin = 60 * time.Second

// defaultLifetime applies when the token endpoint omits expires_in.
const defaultLifetime = time.Hour

const defaultRefreshTimeout = 30 * time.Second

var (
	// ErrNotLinked means the owner has no account link.
	ErrNotLinked = errors.New("account not linked")
	// ErrRefreshFailed means the token endpoint rejected the refresh token.
	// The owner must relink.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrRefreshUnavailable means the token endpoint could not be reached,
	// timed out or failed on its side. A later attempt may succeed.
	ErrRefreshUnavailable = errors.New("token endpoint unavailable")
)

// Store is the credential persistence the manager needs.
type Store interface {
	Link(ctx context.Context, ownerID string) (*model.AccountLink, error)
	SaveToken(ctx context.Context, ownerID, accessToken, refreshToken string, expiry time.Time) error
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Config holds the Manager's collaborators. Store and Refresher are required.
type Config struct {
	Store     Store
	Refresher Refresher
	// RefreshTimeout bounds one call to the token endpoint. Defaults to 30s.
	RefreshTimeout time.Duration
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Manager returns valid access tokens per owner. Refreshes for one owner are
// serialized; different owners refresh independently.
type Manager struct {
	store     Store
	refresher Refresher
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
	locks     keylock.Map
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("token: Store is required")
	}
	if cfg.Refresher == nil {
		return nil, fmt.Errorf("token: Refresher is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	return &Manager{store: cfg.Store, refresher: cfg.Refresher, timeout: timeout, now: now, logger: logger}, nil
}

// AccessToken returns a token that stays valid for at least SafetyMargin,
// refreshing and persisting a new one first when needed.
func (m *Manager) AccessToken(ctx context.Context, ownerID string) (string, error) {
	link, err := m.load(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if m.valid(link) {
		return link.AccessToken, nil
	}

	unlock := m.locks.Lock(ownerID)
	defer unlock()

	// Another caller may have refreshed while we waited.
	link, err = m.load(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if m.valid(link) {
		return link.AccessToken, nil
	}
	return m.refresh(ctx, link)
}

// ForceRefresh replaces a token the remote side rejected. If the stored token
// already differs from rejected, it was refreshed concurrently and is returned.
func (m *Manager) ForceRefresh(ctx context.Context, ownerID, rejected string) (string, error) {
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	link, err := m.load(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if link.AccessToken != rejected && m.valid(link) {
		return link.AccessToken, nil
	}
	return m.refresh(ctx, link)
}

func (m *Manager) load(ctx context.Context, ownerID string) (*model.AccountLink, error) {
	link, err := m.store.Link(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotLinked, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account link: %w", err)
	}
	return link, nil
}

func (m *Manager) valid(link *model.AccountLink) bool {
	return link.AccessToken != "" && link.Expiry.After(m.now().Add(SafetyMargin))
}

// refresh must be called with the owner's lock held. Stored state is only
// written after a successful exchange.
func (m *Manager) refresh(ctx context.Context, link *model.AccountLink) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	tok, err := m.refresher.Refresh(rctx, link.RefreshToken)
	cancel()
	if err != nil {
		m.logger.Warn("token refresh failed", "owner", link.OwnerID, "error", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if rejected(err) {
			return "", fmt.Errorf("%w for %s: %w", ErrRefreshFailed, link.OwnerID, err)
		}
		return "", fmt.Errorf("%w for %s: %w", ErrRefreshUnavailable, link.OwnerID, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w for %s: empty access token", ErrRefreshFailed, link.OwnerID)
	}

	lifetime := defaultLifetime
	if !tok.Expiry.IsZero() {
		lifetime = time.Until(tok.Expiry)
	}
	expiry := m.now().Add(lifetime - SafetyMargin)

	// The endpoint may rotate the refresh token; an empty one keeps the stored value.
	refreshToken := tok.RefreshToken
	if refreshToken == link.RefreshToken {
		refreshToken = ""
	}
	if err := m.store.SaveToken(ctx, link.OwnerID, tok.AccessToken, refreshToken, expiry); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Debug("token refreshed", "owner", link.OwnerID, "expiry", expiry)
	return tok.AccessToken, nil
}

// rejected reports whether the token endpoint answered with a client error,
// which means the refresh token itself is bad.
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	return re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
}
