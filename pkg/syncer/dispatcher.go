package syncer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/mapper"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
)

// MutationKind is the local operation that was committed.
type MutationKind string

const (
	MutationCreated MutationKind = "create"
	MutationUpdated MutationKind = "update"
	MutationMoved   MutationKind = "move"
	MutationDeleted MutationKind = "delete"
)

// Mutation describes a committed local write. Before is nil for a create;
// After is nil for a delete.
type Mutation struct {
	Kind   MutationKind
	Before *model.Item
	After  *model.Item
}

func (m Mutation) subject() *model.Item {
	if m.After != nil {
		return m.After
	}
	return m.Before
}

type dispatcher struct {
	store  Store
	remote Remote
	logger *slog.Logger
}

func (d *dispatcher) dispatch(ctx context.Context, m Mutation) {
	if m.Kind == MutationDeleted || m.After == nil {
		if m.Before != nil && m.Before.RemoteID != "" {
			d.remoteDelete(ctx, m.Before, string(MutationDeleted))
		}
		return
	}

	// Reload so that bookkeeping written by a sync pass is not missed.
	item, err := d.store.GetItem(ctx, m.After.ID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		d.fail(m.After, "load", err)
		return
	}

	mirrorID, err := mirrorContainer(ctx, d.store, item.OwnerID, item.Kind)
	if err != nil && !errors.Is(err, ErrNoMirrorContainer) {
		d.fail(item, string(m.Kind), err)
		return
	}
	inMirror := mirrorID != "" && item.ParentID == mirrorID
	mirrored := item.RemoteID != ""

	switch {
	case inMirror && !mirrored:
		d.enter(ctx, item, m.Kind)
	case inMirror && mirrored:
		if m.Kind == MutationUpdated && m.Before != nil && !mapper.Changed(m.Before, item) {
			return
		}
		d.push(ctx, item, m.Kind)
	case !inMirror && mirrored:
		if d.remoteDelete(ctx, item, "exit") {
			if err := d.store.ClearRemoteRef(ctx, item.ID); err != nil {
				d.fail(item, "exit", err)
			}
		}
	}
}

// enter creates the remote copy of an item that joined the mirror container,
// or whose earlier create failed.
func (d *dispatcher) enter(ctx context.Context, item *model.Item, op MutationKind) {
	body, err := mapper.ToRemote(item)
	if errors.Is(err, mapper.ErrUnscheduled) {
		d.logger.Info("item cannot be mirrored yet", "owner", item.OwnerID, "item", item.ID, "op", op, "error", err)
		return
	}
	if err != nil {
		d.fail(item, string(op), err)
		return
	}
	containerID, err := remoteContainer(ctx, d.store, item.OwnerID, item.Kind)
	if err != nil {
		d.fail(item, string(op), err)
		return
	}

	created, err := d.remote.Create(ctx, item.OwnerID, item.Kind, containerID, body)
	if err != nil {
		d.fail(item, "create", err)
		return
	}
	if err := d.store.SetRemoteRef(ctx, item.ID, refFrom(created, containerID)); err != nil {
		d.fail(item, "create", err)
		return
	}
	d.logger.Debug("mirrored item", "owner", item.OwnerID, "item", item.ID, "op", "create", "remote_id", created.ID)
}

// push sends the current payload of a mirrored item.
func (d *dispatcher) push(ctx context.Context, item *model.Item, op MutationKind) {
	body, err := mapper.ToRemote(item)
	if err != nil {
		d.fail(item, string(op), err)
		return
	}
	containerID, err := d.containerOf(ctx, item)
	if err != nil {
		d.fail(item, string(op), err)
		return
	}

	updated, err := d.remote.Update(ctx, item.OwnerID, item.Kind, containerID, item.RemoteID, body)
	if err != nil {
		d.fail(item, "update", err)
		return
	}
	if err := d.store.SetRemoteRef(ctx, item.ID, refFrom(updated, containerID)); err != nil {
		d.fail(item, "update", err)
		return
	}
	d.logger.Debug("mirrored item", "owner", item.OwnerID, "item", item.ID, "op", "update", "remote_id", item.RemoteID)
}

// remoteDelete deletes the remote copy and reports whether it is gone. A
// remote copy that no longer exists counts as deleted.
func (d *dispatcher) remoteDelete(ctx context.Context, item *model.Item, op string) bool {
	containerID, err := d.containerOf(ctx, item)
	if err != nil {
		d.fail(item, op, err)
		return false
	}
	err = d.remote.Delete(ctx, item.OwnerID, item.Kind, containerID, item.RemoteID)
	if err != nil && !google.IsNotFound(err) && !google.IsGone(err) {
		d.fail(item, op, err)
		return false
	}
	d.logger.Debug("deleted remote copy", "owner", item.OwnerID, "item", item.ID, "op", op, "remote_id", item.RemoteID)
	return true
}

func (d *dispatcher) containerOf(ctx context.Context, item *model.Item) (string, error) {
	if item.RemoteParentID != "" {
		return item.RemoteParentID, nil
	}
	return remoteContainer(ctx, d.store, item.OwnerID, item.Kind)
}

func (d *dispatcher) fail(item *model.Item, op string, err error) {
	d.logger.Error("mirror failed", "owner", item.OwnerID, "kind", item.Kind, "item", item.ID, "op", op, "error", err)
}

func refFrom(ri *google.RemoteItem, containerID string) model.RemoteRef {
	ref := model.RemoteRef{
		RemoteID:       ri.ID,
		RemoteParentID: containerID,
		RemoteRevision: ri.ETag,
	}
	if !ri.Updated.IsZero() {
		updated := ri.Updated
		ref.RemoteUpdatedAt = &updated
	}
	return ref
}
