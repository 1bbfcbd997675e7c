package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const owner = "alice"

type listCall struct {
	containerID string
	q           google.ListQuery
}

type fakeRemote struct {
	mu    sync.Mutex
	list  func(q google.ListQuery) (*google.Page, error)
	calls []listCall

	// err fails every create, update and delete; deleteErr only deletes.
	err       error
	deleteErr error

	creates []string
	updates []string
	deletes []string
	seq     int
}

func (f *fakeRemote) List(ctx context.Context, ownerID string, kind model.Kind, containerID string, q google.ListQuery) (*google.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, listCall{containerID: containerID, q: q})
	list := f.list
	f.mu.Unlock()
	if list == nil {
		return &google.Page{}, nil
	}
	page, err := list(q)
	if err != nil {
		return nil, err
	}
	for _, item := range page.Items {
		item.ContainerID = containerID
	}
	return page, nil
}

func (f *fakeRemote) Create(ctx context.Context, ownerID string, kind model.Kind, containerID string, body *google.RemoteItem) (*google.RemoteItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, containerID)
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	return &google.RemoteItem{Kind: kind, ID: fmt.Sprintf("r%d", f.seq), ETag: "etag-c", Updated: t0, ContainerID: containerID}, nil
}

func (f *fakeRemote) Update(ctx context.Context, ownerID string, kind model.Kind, containerID, id string, body *google.RemoteItem) (*google.RemoteItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id)
	if f.err != nil {
		return nil, f.err
	}
	return &google.RemoteItem{Kind: kind, ID: id, ETag: fmt.Sprintf("etag-u%d", len(f.updates)), Updated: t0, ContainerID: containerID}, nil
}

func (f *fakeRemote) Delete(ctx context.Context, ownerID string, kind model.Kind, containerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.err != nil {
		return f.err
	}
	return f.deleteErr
}

func (f *fakeRemote) listCalls() []listCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]listCall(nil), f.calls...)
}

type testEnv struct {
	db     *store.DB
	remote *fakeRemote
	engine *Engine
}

// newEnv links alice with two task lists (inbox is the mirror) and two
// calendars (cal is the mirror).
func newEnv(t *testing.T) *testEnv {
	t.Helper()
	return newEnvWithStore(t, nil)
}

func newEnvWithStore(t *testing.T, wrap func(*store.DB) Store) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Init(); err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetClock(func() time.Time { return t0.Add(-2 * time.Hour) })

	for _, c := range []*model.Container{
		{ID: "inbox", OwnerID: owner, Kind: model.KindTask, Name: "Inbox"},
		{ID: "someday", OwnerID: owner, Kind: model.KindTask, Name: "Someday"},
		{ID: "cal", OwnerID: owner, Kind: model.KindEvent, Name: "Calendar"},
		{ID: "private", OwnerID: owner, Kind: model.KindEvent, Name: "Private"},
	} {
		if err := db.CreateContainer(ctx, c); err != nil {
			t.Fatalf("CreateContainer failed: %v", err)
		}
	}
	for _, id := range []string{"inbox", "cal"} {
		if err := db.SetMirrorContainer(ctx, id); err != nil {
			t.Fatalf("SetMirrorContainer failed: %v", err)
		}
	}
	if err := db.SaveLink(ctx, &model.AccountLink{OwnerID: owner, AccessToken: "at", RefreshToken: "rt", Expiry: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("SaveLink failed: %v", err)
	}

	var s Store = db
	if wrap != nil {
		s = wrap(db)
	}
	remote := &fakeRemote{}
	engine, err := NewEngine(Config{
		Store:     s,
		Remote:    remote,
		Lookback:  24 * time.Hour,
		Lookahead: 48 * time.Hour,
		Now:       func() time.Time { return t0 },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return &testEnv{db: db, remote: remote, engine: engine}
}

func remoteTask(id, etag string, updated time.Time, title string) *google.RemoteItem {
	return &google.RemoteItem{
		Kind:    model.KindTask,
		ID:      id,
		ETag:    etag,
		Updated: updated,
		Task:    &tasks.Task{Id: id, Etag: etag, Title: title, Status: "needsAction", Updated: updated.Format(time.RFC3339)},
	}
}

func deletedTask(id string) *google.RemoteItem {
	return &google.RemoteItem{Kind: model.KindTask, ID: id, ETag: "gone", Updated: t0, Task: &tasks.Task{Id: id, Deleted: true}}
}

func remoteEvent(id, etag string, updated time.Time, title string, start time.Time) *google.RemoteItem {
	return &google.RemoteItem{
		Kind:    model.KindEvent,
		ID:      id,
		ETag:    etag,
		Updated: updated,
		Event: &calendar.Event{
			Id:      id,
			Etag:    etag,
			Summary: title,
			Start:   &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
			End:     &calendar.EventDateTime{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
		},
	}
}

func cancelledEvent(id string) *google.RemoteItem {
	return &google.RemoteItem{Kind: model.KindEvent, ID: id, ETag: "gone", Updated: t0, Event: &calendar.Event{Id: id, Status: "cancelled"}}
}

func (e *testEnv) createItem(t *testing.T, item *model.Item) *model.Item {
	t.Helper()
	if item.OwnerID == "" {
		item.OwnerID = owner
	}
	if item.Origin == "" {
		item.Origin = model.OriginLocal
	}
	if err := e.db.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	return e.getItem(t, item.ID)
}

func (e *testEnv) getItem(t *testing.T, id string) *model.Item {
	t.Helper()
	item, err := e.db.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetItem(%s) failed: %v", id, err)
	}
	return item
}

// edit commits fn against the stored item and dispatches the mutation, as
// the local mutation API does.
func (e *testEnv) edit(t *testing.T, kind MutationKind, id string, fn func(*model.Item)) *model.Item {
	t.Helper()
	before := e.getItem(t, id)
	after := before.Clone()
	fn(after)
	after.UpdatedAt = after.UpdatedAt.Add(time.Second)
	if err := e.db.SaveLocalEdit(context.Background(), after); err != nil {
		t.Fatalf("SaveLocalEdit failed: %v", err)
	}
	e.engine.OnLocalMutation(context.Background(), Mutation{Kind: kind, Before: before, After: after})
	return e.getItem(t, id)
}

func (e *testEnv) count(t *testing.T, kind model.Kind) int {
	t.Helper()
	n, err := e.db.CountItems(context.Background(), owner, kind)
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	return n
}

func (e *testEnv) cursor(t *testing.T, kind model.Kind) string {
	t.Helper()
	c, err := e.db.Cursor(context.Background(), owner, kind)
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	return c
}
