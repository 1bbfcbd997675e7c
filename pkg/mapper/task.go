package mapper

import (
	"fmt"
	"time"

	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

const (
	taskStatusCompleted   = "completed"
	taskStatusNeedsAction = "needsAction"
)

// Google Tasks keeps only the date part of a due time; it is sent as
// midnight UTC.
func taskToRemote(item *model.Item) *tasks.Task {
	t := &tasks.Task{
		Title:  item.Title,
		Notes:  item.Notes,
		Status: taskStatusNeedsAction,
	}
	if item.Task.Due != nil {
		t.Due = model.DateOf(*item.Task.Due).In(time.UTC).Format(time.RFC3339)
	}
	if item.Task.Completed {
		t.Status = taskStatusCompleted
		if item.Task.CompletedAt != nil {
			completed := item.Task.CompletedAt.UTC().Format(time.RFC3339)
			t.Completed = &completed
		}
	}
	return t
}

func taskFromRemote(t *tasks.Task) (Patch, error) {
	if t.Deleted {
		return Patch{Tombstone: true}, nil
	}

	p := Patch{Payload: model.Payload{
		Title: t.Title,
		Notes: t.Notes,
		Task:  model.TaskFields{Completed: t.Status == taskStatusCompleted},
	}}
	if t.Due != "" {
		due, err := time.Parse(time.RFC3339, t.Due)
		if err != nil {
			return Patch{}, fmt.Errorf("task %s: invalid due %q: %w", t.Id, t.Due, err)
		}
		due = due.UTC()
		p.Payload.Task.Due = &due
	}
	if t.Completed != nil && *t.Completed != "" {
		completed, err := time.Parse(time.RFC3339, *t.Completed)
		if err != nil {
			return Patch{}, fmt.Errorf("task %s: invalid completed %q: %w", t.Id, *t.Completed, err)
		}
		completed = completed.UTC()
		p.Payload.Task.CompletedAt = &completed
	}
	return p, nil
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return model.DateOf(*a) == model.DateOf(*b)
}
