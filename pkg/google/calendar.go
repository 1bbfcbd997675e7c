package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

const eventsPageSize = 250

func eventItem(ev *calendar.Event) *RemoteItem {
	return &RemoteItem{
		Kind:    model.KindEvent,
		ID:      ev.Id,
		ETag:    ev.Etag,
		Updated: parseUpdated(ev.Updated),
		Event:   ev,
	}
}

// listEvents fetches one page of events. Cancelled events are included so
// deletions reach the caller as tombstones.
func (c *Client) listEvents(ctx context.Context, hc *http.Client, calendarID string, q ListQuery) (*Page, error) {
	srv, err := c.calendarService(ctx, hc)
	if err != nil {
		return nil, err
	}

	call := srv.Events.List(calendarID).ShowDeleted(true).MaxResults(eventsPageSize)
	if q.Cursor != "" {
		// timeMin/timeMax are rejected together with a sync token.
		call = call.SyncToken(q.Cursor)
	} else {
		call = call.TimeMin(q.TimeMin.Format(time.RFC3339)).TimeMax(q.TimeMax.Format(time.RFC3339))
	}
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}

	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from calendar: %w", err)
	}

	page := &Page{NextPageToken: events.NextPageToken, NextCursor: events.NextSyncToken}
	for _, ev := range events.Items {
		page.Items = append(page.Items, eventItem(ev))
	}
	return page, nil
}

func (c *Client) getEvent(ctx context.Context, hc *http.Client, calendarID, eventID string) (*RemoteItem, error) {
	srv, err := c.calendarService(ctx, hc)
	if err != nil {
		return nil, err
	}
	ev, err := srv.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return eventItem(ev), nil
}

func (c *Client) insertEvent(ctx context.Context, hc *http.Client, calendarID string, body *RemoteItem) (*RemoteItem, error) {
	if body == nil || body.Event == nil {
		return nil, localError{fmt.Errorf("insert event: missing body")}
	}
	srv, err := c.calendarService(ctx, hc)
	if err != nil {
		return nil, err
	}
	ev, err := srv.Events.Insert(calendarID, body.Event).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return eventItem(ev), nil
}

func (c *Client) updateEvent(ctx context.Context, hc *http.Client, calendarID, eventID string, body *RemoteItem) (*RemoteItem, error) {
	if body == nil || body.Event == nil {
		return nil, localError{fmt.Errorf("update event: missing body")}
	}
	srv, err := c.calendarService(ctx, hc)
	if err != nil {
		return nil, err
	}
	ev, err := srv.Events.Update(calendarID, eventID, body.Event).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return eventItem(ev), nil
}

func (c *Client) deleteEvent(ctx context.Context, hc *http.Client, calendarID, eventID string) error {
	srv, err := c.calendarService(ctx, hc)
	if err != nil {
		return err
	}
	return srv.Events.Delete(calendarID, eventID).Context(ctx).Do()
}

// findCalendar returns the id of the calendar whose summary is name.
func (c *Client) findCalendar(ctx context.Context, hc *http.Client, name string) (string, error) {
	srv, err := c.calendarService(ctx, hc)
	if err != nil {
		return "", err
	}

	var calendarID string
	err = srv.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			if calendarID == "" && item.Summary == name {
				calendarID = item.Id
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	return calendarID, nil
}
