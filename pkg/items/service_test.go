package items

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
	"github.com/harrisonrobin/mirrorsync/pkg/syncer"
)

type recordingMirror struct {
	mutations []syncer.Mutation
}

func (m *recordingMirror) OnLocalMutation(ctx context.Context, mut syncer.Mutation) {
	m.mutations = append(m.mutations, mut)
}

func setup(t *testing.T) (*Service, *store.DB, *recordingMirror) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "items.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Init(); err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, c := range []*model.Container{
		{ID: "inbox", OwnerID: "u1", Kind: model.KindTask, Name: "Inbox"},
		{ID: "later", OwnerID: "u1", Kind: model.KindTask, Name: "Later"},
		{ID: "cal", OwnerID: "u1", Kind: model.KindEvent, Name: "Calendar"},
		{ID: "theirs", OwnerID: "u2", Kind: model.KindTask, Name: "Theirs"},
	} {
		if err := db.CreateContainer(ctx, c); err != nil {
			t.Fatalf("CreateContainer failed: %v", err)
		}
	}

	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	seq := 0
	mirror := &recordingMirror{}
	svc := NewService(db, mirror,
		WithClock(func() time.Time { clock = clock.Add(time.Minute); return clock }),
		WithIDs(func() string { seq++; return fmt.Sprintf("i%d", seq) }),
	)
	return svc, db, mirror
}

func TestCreateUsesContainerKindAndOwner(t *testing.T) {
	svc, db, mirror := setup(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, "cal", model.Payload{Title: "Dentist"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if item.ID != "i1" || item.Kind != model.KindEvent || item.OwnerID != "u1" || item.Origin != model.OriginLocal {
		t.Errorf("unexpected item %+v", item)
	}
	if _, err := db.GetItem(ctx, "i1"); err != nil {
		t.Errorf("item not stored: %v", err)
	}
	if len(mirror.mutations) != 1 || mirror.mutations[0].Kind != syncer.MutationCreated || mirror.mutations[0].After.ID != "i1" {
		t.Errorf("unexpected mutations %+v", mirror.mutations)
	}

	if _, err := svc.Create(ctx, "nope", model.Payload{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBumpsUpdatedAt(t *testing.T) {
	svc, _, mirror := setup(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "inbox", model.Payload{Title: "a"})

	updated, err := svc.Update(ctx, created.ID, func(p *model.Payload) error {
		p.Title = "b"
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Title != "b" || !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("unexpected update %+v", updated)
	}
	m := mirror.mutations[1]
	if m.Kind != syncer.MutationUpdated || m.Before.Title != "a" || m.After.Title != "b" {
		t.Errorf("unexpected mutation %+v", m)
	}
}

func TestUpdateEditErrorWritesNothing(t *testing.T) {
	svc, db, mirror := setup(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "inbox", model.Payload{Title: "a"})

	errBad := errors.New("bad due date")
	_, err := svc.Update(ctx, created.ID, func(p *model.Payload) error {
		p.Title = "half-applied"
		return errBad
	})
	if !errors.Is(err, errBad) {
		t.Fatalf("Expected edit error, got %v", err)
	}
	got, _ := db.GetItem(ctx, created.ID)
	if got.Title != "a" || !got.UpdatedAt.Equal(created.UpdatedAt) {
		t.Errorf("failed edit was saved: %+v", got)
	}
	if len(mirror.mutations) != 1 {
		t.Errorf("failed edit was dispatched: %+v", mirror.mutations)
	}
}

func TestMove(t *testing.T) {
	svc, _, mirror := setup(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "inbox", model.Payload{Title: "a"})

	moved, err := svc.Move(ctx, created.ID, "later")
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if moved.ParentID != "later" {
		t.Errorf("ParentID = %q", moved.ParentID)
	}
	if m := mirror.mutations[1]; m.Kind != syncer.MutationMoved || m.Before.ParentID != "inbox" || m.After.ParentID != "later" {
		t.Errorf("unexpected mutation %+v", m)
	}

	if _, err := svc.Move(ctx, created.ID, "later"); err != nil {
		t.Errorf("Move to same container failed: %v", err)
	}
	if len(mirror.mutations) != 2 {
		t.Errorf("no-op move was dispatched")
	}

	if _, err := svc.Move(ctx, created.ID, "cal"); err == nil {
		t.Error("Expected error moving a task into a calendar")
	}
	if _, err := svc.Move(ctx, created.ID, "theirs"); err == nil {
		t.Error("Expected error moving into another owner's list")
	}
}

func TestDelete(t *testing.T) {
	svc, db, mirror := setup(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "inbox", model.Payload{Title: "a"})

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := db.GetItem(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if m := mirror.mutations[1]; m.Kind != syncer.MutationDeleted || m.Before == nil || m.After != nil {
		t.Errorf("unexpected mutation %+v", m)
	}
	if err := svc.Delete(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestNilMirror(t *testing.T) {
	_, db, _ := setup(t)
	svc := NewService(db, nil)
	if _, err := svc.Create(context.Background(), "inbox", model.Payload{Title: "x"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

type failingRemote struct{ calls int }

func (f *failingRemote) List(ctx context.Context, ownerID string, kind model.Kind, containerID string, q google.ListQuery) (*google.Page, error) {
	f.calls++
	return nil, &google.RemoteAPIError{StatusCode: 500}
}

func (f *failingRemote) Create(ctx context.Context, ownerID string, kind model.Kind, containerID string, body *google.RemoteItem) (*google.RemoteItem, error) {
	f.calls++
	return nil, &google.RemoteAPIError{StatusCode: 500}
}

func (f *failingRemote) Update(ctx context.Context, ownerID string, kind model.Kind, containerID, id string, body *google.RemoteItem) (*google.RemoteItem, error) {
	f.calls++
	return nil, &google.RemoteAPIError{StatusCode: 500}
}

func (f *failingRemote) Delete(ctx context.Context, ownerID string, kind model.Kind, containerID, id string) error {
	f.calls++
	return &google.RemoteAPIError{StatusCode: 500}
}

func TestLocalOpsSucceedWhenMirrorFails(t *testing.T) {
	_, db, _ := setup(t)
	ctx := context.Background()
	if err := db.SetMirrorContainer(ctx, "inbox"); err != nil {
		t.Fatalf("SetMirrorContainer failed: %v", err)
	}
	remote := &failingRemote{}
	engine, err := syncer.NewEngine(syncer.Config{
		Store:  db,
		Remote: remote,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	svc := NewService(db, engine)

	item, err := svc.Create(ctx, "inbox", model.Payload{Title: "a"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Update(ctx, item.ID, func(p *model.Payload) error {
		p.Notes = "n"
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := svc.Move(ctx, item.ID, "later"); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if err := svc.Delete(ctx, item.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Create and the retried create on update reached the remote.
	if remote.calls != 2 {
		t.Errorf("Expected 2 remote calls, got %d", remote.calls)
	}
}
