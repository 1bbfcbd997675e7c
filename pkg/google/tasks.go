package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

const tasksPageSize = 100

func taskItem(t *tasks.Task) *RemoteItem {
	return &RemoteItem{
		Kind:    model.KindTask,
		ID:      t.Id,
		ETag:    t.Etag,
		Updated: parseUpdated(t.Updated),
		Task:    t,
	}
}

// listTasks fetches one page of tasks updated since the cursor (or since
// TimeMin on a first pull). Task lists have no sync token: the cursor is an
// updatedMin instant and deleted tasks come back flagged.
func (c *Client) listTasks(ctx context.Context, hc *http.Client, listID string, q ListQuery) (*Page, error) {
	srv, err := c.tasksService(ctx, hc)
	if err != nil {
		return nil, err
	}

	updatedMin := q.Cursor
	if updatedMin == "" {
		updatedMin = q.TimeMin.UTC().Format(time.RFC3339)
	}
	call := srv.Tasks.List(listID).
		ShowDeleted(true).
		ShowHidden(true).
		ShowCompleted(true).
		UpdatedMin(updatedMin).
		MaxResults(tasksPageSize)
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve tasks from list: %w", err)
	}

	page := &Page{NextPageToken: resp.NextPageToken}
	if page.NextPageToken == "" {
		asOf := q.AsOf
		if asOf.IsZero() {
			asOf = time.Now()
		}
		page.NextCursor = asOf.UTC().Format(time.RFC3339)
	}
	for _, t := range resp.Items {
		page.Items = append(page.Items, taskItem(t))
	}
	return page, nil
}

func (c *Client) getTask(ctx context.Context, hc *http.Client, listID, taskID string) (*RemoteItem, error) {
	srv, err := c.tasksService(ctx, hc)
	if err != nil {
		return nil, err
	}
	t, err := srv.Tasks.Get(listID, taskID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return taskItem(t), nil
}

func (c *Client) insertTask(ctx context.Context, hc *http.Client, listID string, body *RemoteItem) (*RemoteItem, error) {
	if body == nil || body.Task == nil {
		return nil, localError{fmt.Errorf("insert task: missing body")}
	}
	srv, err := c.tasksService(ctx, hc)
	if err != nil {
		return nil, err
	}
	t, err := srv.Tasks.Insert(listID, body.Task).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return taskItem(t), nil
}

func (c *Client) updateTask(ctx context.Context, hc *http.Client, listID, taskID string, body *RemoteItem) (*RemoteItem, error) {
	if body == nil || body.Task == nil {
		return nil, localError{fmt.Errorf("update task: missing body")}
	}
	srv, err := c.tasksService(ctx, hc)
	if err != nil {
		return nil, err
	}
	// Update replaces the resource and requires the id in the body.
	task := *body.Task
	task.Id = taskID
	t, err := srv.Tasks.Update(listID, taskID, &task).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return taskItem(t), nil
}

func (c *Client) deleteTask(ctx context.Context, hc *http.Client, listID, taskID string) error {
	srv, err := c.tasksService(ctx, hc)
	if err != nil {
		return err
	}
	return srv.Tasks.Delete(listID, taskID).Context(ctx).Do()
}

// findTaskList returns the id of the task list titled title.
func (c *Client) findTaskList(ctx context.Context, hc *http.Client, title string) (string, error) {
	srv, err := c.tasksService(ctx, hc)
	if err != nil {
		return "", err
	}

	var listID string
	err = srv.Tasklists.List().Pages(ctx, func(lists *tasks.TaskLists) error {
		for _, l := range lists.Items {
			if listID == "" && l.Title == title {
				listID = l.Id
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unable to retrieve task lists: %w", err)
	}
	return listID, nil
}
