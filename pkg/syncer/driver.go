package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

// Result counts what a pull pass did. ItemsChanged excludes noop and
// skipped items.
type Result struct {
	ItemsChanged int
	Created      int
	Updated      int
	Deleted      int
	Skipped      int
}

func (r *Result) add(o Outcome) {
	switch o {
	case Created:
		r.Created++
	case Updated:
		r.Updated++
	case Deleted:
		r.Deleted++
	case SkippedLocalNewer:
		r.Skipped++
	}
	if o.Changed() {
		r.ItemsChanged++
	}
}

type driver struct {
	store      Store
	remote     Remote
	reconciler *Reconciler
	lookback   time.Duration
	lookahead  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// syncAccount pages through the remote container and reconciles every item.
// The cursor is stored only after the last page is fully reconciled. An
// expired cursor is dropped and the pass restarts once as a windowed pull.
func (d *driver) syncAccount(ctx context.Context, ownerID string, kind model.Kind) (Result, error) {
	var res Result

	mirrorID, err := mirrorContainer(ctx, d.store, ownerID, kind)
	if err != nil {
		return res, err
	}
	remoteID, err := remoteContainer(ctx, d.store, ownerID, kind)
	if err != nil {
		return res, err
	}
	cursor, err := d.store.Cursor(ctx, ownerID, kind)
	if err != nil {
		return res, err
	}

	err = d.pass(ctx, ownerID, kind, mirrorID, remoteID, cursor, &res)
	if cursor != "" && google.IsGone(err) {
		d.logger.Warn("sync cursor expired, falling back to windowed pull", "owner", ownerID, "kind", kind)
		if err := d.store.SetCursor(ctx, ownerID, kind, ""); err != nil {
			return res, err
		}
		err = d.pass(ctx, ownerID, kind, mirrorID, remoteID, "", &res)
	}
	return res, err
}

func (d *driver) pass(ctx context.Context, ownerID string, kind model.Kind, mirrorID, remoteID, cursor string, res *Result) error {
	asOf := d.now()
	q := google.ListQuery{Cursor: cursor, AsOf: asOf}
	if cursor == "" {
		q.TimeMin = asOf.Add(-d.lookback)
		q.TimeMax = asOf.Add(d.lookahead)
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := d.remote.List(ctx, ownerID, kind, remoteID, q)
		if err != nil {
			return err
		}

		for _, item := range resp.Items {
			outcome, err := d.reconciler.Reconcile(ctx, ownerID, mirrorID, item)
			if errors.Is(err, ErrUnmappable) {
				d.logger.Warn("skipping remote item", "owner", ownerID, "kind", kind, "remote_id", item.ID, "error", err)
				res.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			res.add(outcome)
		}
		d.logger.Debug("reconciled page", "owner", ownerID, "kind", kind, "page", page, "items", len(resp.Items))

		if resp.NextPageToken == "" {
			if resp.NextCursor == "" {
				return nil
			}
			return d.store.SetCursor(ctx, ownerID, kind, resp.NextCursor)
		}
		q.PageToken = resp.NextPageToken
	}
}
