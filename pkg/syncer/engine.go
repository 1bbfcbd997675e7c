// Package syncer keeps local task lists and calendars in step with their
// remote mirrors. Pull passes go through the Reconciler; local mutations are
// pushed by the Dispatcher. Both paths for one owner and kind are serialized
// by the Engine.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/keylock"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
)

// ErrNoMirrorContainer means the owner has not designated a mirror container
// for the kind.
var ErrNoMirrorContainer = errors.New("no mirror container")

const (
	defaultLookback  = 30 * 24 * time.Hour
	defaultLookahead = 365 * 24 * time.Hour
)

// Store is the local persistence the engine reads and writes.
type Store interface {
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ItemByRemoteID(ctx context.Context, ownerID string, kind model.Kind, remoteID string) (*model.Item, error)
	CreateItem(ctx context.Context, item *model.Item) error
	UpdateItem(ctx context.Context, item *model.Item) error
	SetRemoteRef(ctx context.Context, id string, ref model.RemoteRef) error
	ClearRemoteRef(ctx context.Context, id string) error
	DeleteItem(ctx context.Context, id string) error

	MirrorContainer(ctx context.Context, ownerID string, kind model.Kind) (*model.Container, error)
	RemoteContainer(ctx context.Context, ownerID string, kind model.Kind) (string, error)

	Cursor(ctx context.Context, ownerID string, kind model.Kind) (string, error)
	SetCursor(ctx context.Context, ownerID string, kind model.Kind, cursor string) error
}

// Remote is the subset of the remote client the engine calls.
type Remote interface {
	List(ctx context.Context, ownerID string, kind model.Kind, containerID string, q google.ListQuery) (*google.Page, error)
	Create(ctx context.Context, ownerID string, kind model.Kind, containerID string, body *google.RemoteItem) (*google.RemoteItem, error)
	Update(ctx context.Context, ownerID string, kind model.Kind, containerID, id string, body *google.RemoteItem) (*google.RemoteItem, error)
	Delete(ctx context.Context, ownerID string, kind model.Kind, containerID, id string) error
}

// Config holds the engine's collaborators. Store and Remote are required.
type Config struct {
	Store  Store
	Remote Remote
	// Lookback and Lookahead bound a windowed pull when no cursor is stored.
	Lookback  time.Duration
	Lookahead time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID generates local ids for items first seen remotely. Defaults to
	// uuid.NewString.
	NewID  func() string
	Logger *slog.Logger
}

// Engine is the sync entry point. It runs at most one pull pass or mirror
// push at a time per owner and kind.
type Engine struct {
	store      Store
	remote     Remote
	reconciler *Reconciler
	driver     *driver
	dispatcher *dispatcher
	locks      keylock.Map
	logger     *slog.Logger
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("syncer: Store is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("syncer: Remote is required")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = defaultLookahead
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Reconciler{store: cfg.Store, now: cfg.Now, newID: cfg.NewID, logger: cfg.Logger}
	e := &Engine{
		store:      cfg.Store,
		remote:     cfg.Remote,
		reconciler: r,
		logger:     cfg.Logger,
	}
	e.driver = &driver{
		store:      cfg.Store,
		remote:     cfg.Remote,
		reconciler: r,
		lookback:   cfg.Lookback,
		lookahead:  cfg.Lookahead,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	e.dispatcher = &dispatcher{store: cfg.Store, remote: cfg.Remote, logger: cfg.Logger}
	return e, nil
}

// Reconciler exposes the engine's reconciler.
func (e *Engine) Reconciler() *Reconciler {
	return e.reconciler
}

// SyncAccount runs one pull pass for the owner and kind.
func (e *Engine) SyncAccount(ctx context.Context, ownerID string, kind model.Kind) (Result, error) {
	if !kind.IsValid() {
		return Result{}, fmt.Errorf("invalid kind: %s", kind)
	}
	unlock := e.locks.Lock(lockKey(ownerID, kind))
	defer unlock()

	res, err := e.driver.syncAccount(ctx, ownerID, kind)
	if err != nil {
		return res, fmt.Errorf("sync %s for %s: %w", kind, ownerID, err)
	}
	e.logger.Info("sync pass complete", "owner", ownerID, "kind", kind,
		"changed", res.ItemsChanged, "created", res.Created, "updated", res.Updated,
		"deleted", res.Deleted, "skipped", res.Skipped)
	return res, nil
}

// SyncAll runs a pull pass for every kind that has a mirror container. The
// kinds run concurrently; the first failure cancels the rest.
func (e *Engine) SyncAll(ctx context.Context, ownerID string) (map[model.Kind]Result, error) {
	var mu sync.Mutex
	results := make(map[model.Kind]Result, len(model.Kinds))

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range model.Kinds {
		kind := kind
		g.Go(func() error {
			res, err := e.SyncAccount(gctx, ownerID, kind)
			if errors.Is(err, ErrNoMirrorContainer) {
				e.logger.Debug("no mirror container, skipping", "owner", ownerID, "kind", kind)
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			results[kind] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// OnLocalMutation pushes a committed local mutation to the remote side. It
// never fails: errors are logged with the item id and operation.
func (e *Engine) OnLocalMutation(ctx context.Context, m Mutation) {
	item := m.subject()
	if item == nil {
		e.logger.Warn("ignoring mutation without item", "op", m.Kind)
		return
	}
	unlock := e.locks.Lock(lockKey(item.OwnerID, item.Kind))
	defer unlock()

	e.dispatcher.dispatch(ctx, m)
}

func lockKey(ownerID string, kind model.Kind) string {
	return ownerID + "/" + string(kind)
}

// mirrorContainer returns the owner's mirror container id for kind.
func mirrorContainer(ctx context.Context, s Store, ownerID string, kind model.Kind) (string, error) {
	c, err := s.MirrorContainer(ctx, ownerID, kind)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNoMirrorContainer, kind)
	}
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// remoteContainer returns the mapped remote container, or the account
// default when none is mapped.
func remoteContainer(ctx context.Context, s Store, ownerID string, kind model.Kind) (string, error) {
	id, err := s.RemoteContainer(ctx, ownerID, kind)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = google.DefaultContainer(kind)
	}
	return id, nil
}
