package model

import (
	"fmt"
	"time"
)

// Kind names a synchronized resource collection.
type Kind string

const (
	KindTask  Kind = "task"
	KindEvent Kind = "event"
)

// Kinds lists every kind the engine knows how to synchronize.
var Kinds = []Kind{KindTask, KindEvent}

func (k Kind) IsValid() bool {
	return k == KindTask || k == KindEvent
}

// ParseKind accepts the singular and plural spellings used on the command line.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "task", "tasks":
		return KindTask, nil
	case "event", "events":
		return KindEvent, nil
	}
	return "", fmt.Errorf("unknown kind %q (want task or event)", s)
}

// Origin records which side most recently authored an item's existence.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// TaskFields is the task-specific payload.
type TaskFields struct {
	Due         *time.Time
	Completed   bool
	CompletedAt *time.Time
}

// EventFields is the event-specific payload. Timing is nil for an event that
// has not been scheduled yet; such events cannot be mirrored.
type EventFields struct {
	Timing   Timing
	Location string
}

// Payload holds the user-facing fields shared by the local store and the mappers.
type Payload struct {
	Title string
	Notes string
	Task  TaskFields
	Event EventFields
}

// RemoteRef is the mirror bookkeeping kept on a synced item.
type RemoteRef struct {
	RemoteID        string
	RemoteParentID  string
	RemoteRevision  string
	RemoteUpdatedAt *time.Time
}

// IsZero reports whether the item has never been mirrored.
func (r RemoteRef) IsZero() bool {
	return r.RemoteID == ""
}

// Item is one task or event owned by a local account.
type Item struct {
	ID       string
	ParentID string
	OwnerID  string
	Kind     Kind
	Origin   Origin

	Payload
	RemoteRef

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that shares no pointers with i.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	c.Task.Due = cloneTime(i.Task.Due)
	c.Task.CompletedAt = cloneTime(i.Task.CompletedAt)
	c.RemoteUpdatedAt = cloneTime(i.RemoteUpdatedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Container is a local list (tasks) or calendar (events).
type Container struct {
	ID       string
	OwnerID  string
	Kind     Kind
	Name     string
	IsMirror bool
}

// AccountLink holds the linked remote account credentials and sync cursors.
type AccountLink struct {
	OwnerID      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	// Cursors maps a kind to its opaque sync cursor; a missing entry means the
	// next pass is a windowed pull.
	Cursors map[Kind]string
}
