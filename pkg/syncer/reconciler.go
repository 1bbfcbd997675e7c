package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/mapper"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
)

// Outcome is what reconciling one remote item did to the local store.
type Outcome string

const (
	Created           Outcome = "created"
	Updated           Outcome = "updated"
	Deleted           Outcome = "deleted"
	SkippedLocalNewer Outcome = "skipped_local_newer"
	Noop              Outcome = "noop"
)

// Changed reports whether the outcome counts as a local change.
func (o Outcome) Changed() bool {
	return o == Created || o == Updated || o == Deleted
}

// ErrUnmappable wraps a remote item the mapper could not read.
var ErrUnmappable = errors.New("unmappable remote item")

// Reconciler applies remote items to the local store using last-writer-wins
// on the local updated time versus the remote reported update time.
type Reconciler struct {
	store  Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Reconcile decides create, update, delete or skip for remote against the
// owner's items, creating new items in mirrorContainerID.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID, mirrorContainerID string, remote *google.RemoteItem) (Outcome, error) {
	patch, err := mapper.FromRemote(remote)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnmappable, err)
	}

	existing, err := r.lookup(ctx, ownerID, mirrorContainerID, remote, patch)
	if err != nil {
		return "", err
	}

	if patch.Tombstone {
		if existing == nil {
			return Noop, nil
		}
		if err := r.store.DeleteItem(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		r.logger.Debug("deleted item cancelled remotely", "owner", ownerID, "item", existing.ID, "remote_id", remote.ID)
		return Deleted, nil
	}

	if existing == nil {
		item := &model.Item{
			ID:        r.newID(),
			ParentID:  mirrorContainerID,
			OwnerID:   ownerID,
			Kind:      remote.Kind,
			Origin:    model.OriginRemote,
			RemoteRef: r.remoteRef(remote, model.RemoteRef{}),
			UpdatedAt: r.remoteTime(remote),
		}
		mapper.Apply(item, patch)
		if err := r.store.CreateItem(ctx, item); err != nil {
			return "", err
		}
		r.logger.Debug("created item from remote", "owner", ownerID, "item", item.ID, "remote_id", remote.ID)
		return Created, nil
	}

	// A remote item without an update time is always applied.
	if !remote.Updated.IsZero() && existing.UpdatedAt.After(remote.Updated) {
		if existing.RemoteID == "" {
			// Adopted by local id: keep the payload but record the mirror.
			if err := r.store.SetRemoteRef(ctx, existing.ID, r.remoteRef(remote, existing.RemoteRef)); err != nil {
				return "", err
			}
		}
		r.logger.Debug("local edit is newer, skipping", "owner", ownerID, "item", existing.ID,
			"local_updated", existing.UpdatedAt, "remote_updated", remote.Updated)
		return SkippedLocalNewer, nil
	}
	if existing.RemoteID == remote.ID && existing.RemoteRevision != "" && existing.RemoteRevision == remote.ETag {
		return Noop, nil
	}

	item := existing.Clone()
	mapper.Apply(item, patch)
	item.RemoteRef = r.remoteRef(remote, existing.RemoteRef)
	item.UpdatedAt = r.remoteTime(remote)
	if err := r.store.UpdateItem(ctx, item); err != nil {
		return "", err
	}
	r.logger.Debug("updated item from remote", "owner", ownerID, "item", item.ID, "remote_id", remote.ID)
	return Updated, nil
}

// lookup finds the local item for remote by remote id, then by the local id
// the item was pushed with. The second lookup adopts an item whose push
// succeeded remotely but whose bookkeeping was never stored; only items still
// in the mirror container are adopted.
func (r *Reconciler) lookup(ctx context.Context, ownerID, mirrorContainerID string, remote *google.RemoteItem, patch mapper.Patch) (*model.Item, error) {
	existing, err := r.store.ItemByRemoteID(ctx, ownerID, remote.Kind, remote.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if patch.LocalID == "" {
		return nil, nil
	}

	item, err := r.store.GetItem(ctx, patch.LocalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.OwnerID != ownerID || item.Kind != remote.Kind || item.RemoteID != "" || item.ParentID != mirrorContainerID {
		return nil, nil
	}
	return item, nil
}

func (r *Reconciler) remoteRef(remote *google.RemoteItem, prev model.RemoteRef) model.RemoteRef {
	ref := model.RemoteRef{
		RemoteID:       remote.ID,
		RemoteParentID: remote.ContainerID,
		RemoteRevision: remote.ETag,
	}
	if ref.RemoteParentID == "" {
		ref.RemoteParentID = prev.RemoteParentID
	}
	if !remote.Updated.IsZero() {
		updated := remote.Updated
		ref.RemoteUpdatedAt = &updated
	}
	return ref
}

func (r *Reconciler) remoteTime(remote *google.RemoteItem) time.Time {
	if remote.Updated.IsZero() {
		return r.now()
	}
	return remote.Updated
}
