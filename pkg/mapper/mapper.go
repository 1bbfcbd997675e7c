// Package mapper translates between local items and the Google Tasks and
// Calendar wire shapes. Every function here is pure.
package mapper

import (
	"errors"
	"fmt"

	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

// LocalIDProperty is the private extended property carrying the local item id
// on pushed events.
const LocalIDProperty = "mirrorsync_id"

// ErrUnscheduled is returned for an event with no timing; the remote API
// requires a start and end.
var ErrUnscheduled = errors.New("event has no start or end")

// Patch is the local view of a remote item. A tombstone carries no payload.
type Patch struct {
	Tombstone bool
	Payload   model.Payload
	// LocalID is the local id the item was pushed with, if the wire shape
	// carries one.
	LocalID string
}

// ToRemote projects item onto the wire shape for its kind.
func ToRemote(item *model.Item) (*google.RemoteItem, error) {
	if item == nil {
		return nil, fmt.Errorf("could not convert nil item")
	}
	switch item.Kind {
	case model.KindTask:
		return &google.RemoteItem{Kind: model.KindTask, Task: taskToRemote(item)}, nil
	case model.KindEvent:
		ev, err := eventToRemote(item)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		return &google.RemoteItem{Kind: model.KindEvent, Event: ev}, nil
	}
	return nil, fmt.Errorf("item %s: unsupported kind %q", item.ID, item.Kind)
}

// FromRemote extracts a local patch from a remote item.
func FromRemote(ri *google.RemoteItem) (Patch, error) {
	if ri == nil {
		return Patch{}, fmt.Errorf("could not convert nil remote item")
	}
	switch {
	case ri.Kind == model.KindTask && ri.Task != nil:
		return taskFromRemote(ri.Task)
	case ri.Kind == model.KindEvent && ri.Event != nil:
		return eventFromRemote(ri.Event)
	}
	return Patch{}, fmt.Errorf("remote item %s: no %s body", ri.ID, ri.Kind)
}

// Apply writes the patch payload onto item. Fields of the other kind are
// reset.
func Apply(item *model.Item, p Patch) {
	item.Payload = p.Payload
}

// Changed reports whether the remote projection of after differs from that
// of before, i.e. whether an update must be pushed.
func Changed(before, after *model.Item) bool {
	if before == nil || after == nil || before.Kind != after.Kind {
		return true
	}
	b, a := before.Payload, after.Payload
	if b.Title != a.Title || b.Notes != a.Notes {
		return true
	}
	switch after.Kind {
	case model.KindTask:
		return b.Task.Completed != a.Task.Completed ||
			!sameDay(b.Task.Due, a.Task.Due)
	case model.KindEvent:
		return b.Event.Location != a.Event.Location ||
			!sameTiming(b.Event.Timing, a.Event.Timing)
	}
	return true
}
