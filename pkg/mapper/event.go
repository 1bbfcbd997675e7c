package mapper

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

const eventStatusCancelled = "cancelled"

func eventToRemote(item *model.Item) (*calendar.Event, error) {
	event := &calendar.Event{
		Summary:     item.Title,
		Description: item.Notes,
		Location:    item.Event.Location,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				LocalIDProperty: item.ID,
			},
		},
	}

	// The API rejects a dateTime on an all-day event and a date on a timed one.
	switch timing := item.Event.Timing.(type) {
	case model.Timed:
		if timing.End.Before(timing.Start) {
			return nil, fmt.Errorf("event ends at %s, before it starts at %s", timing.End, timing.Start)
		}
		event.Start = &calendar.EventDateTime{DateTime: timing.Start.UTC().Format(time.RFC3339)}
		event.End = &calendar.EventDateTime{DateTime: timing.End.UTC().Format(time.RFC3339)}
	case model.AllDay:
		end := timing.End
		if !end.In(time.UTC).After(timing.Start.In(time.UTC)) {
			end = timing.Start.AddDays(1)
		}
		event.Start = &calendar.EventDateTime{Date: timing.Start.String()}
		event.End = &calendar.EventDateTime{Date: end.String()}
	case nil:
		return nil, ErrUnscheduled
	default:
		return nil, fmt.Errorf("unknown timing %T", timing)
	}
	return event, nil
}

func eventFromRemote(ev *calendar.Event) (Patch, error) {
	if ev.Status == eventStatusCancelled {
		return Patch{Tombstone: true}, nil
	}

	p := Patch{Payload: model.Payload{
		Title: ev.Summary,
		Notes: ev.Description,
		Event: model.EventFields{Location: ev.Location},
	}}
	if ev.ExtendedProperties != nil {
		p.LocalID = ev.ExtendedProperties.Private[LocalIDProperty]
	}

	timing, err := timingFromRemote(ev.Start, ev.End)
	if err != nil {
		return Patch{}, fmt.Errorf("event %s: %w", ev.Id, err)
	}
	p.Payload.Event.Timing = timing
	return p, nil
}

// timingFromRemote infers the all-day flag from the presence of date-only
// fields on the start.
func timingFromRemote(start, end *calendar.EventDateTime) (model.Timing, error) {
	if start == nil {
		return nil, ErrUnscheduled
	}

	if start.Date != "" {
		s, err := model.ParseDate(start.Date)
		if err != nil {
			return nil, err
		}
		e := s.AddDays(1)
		if end != nil && end.Date != "" {
			if e, err = model.ParseDate(end.Date); err != nil {
				return nil, err
			}
		}
		return model.AllDay{Start: s, End: e}, nil
	}

	s, err := time.Parse(time.RFC3339, start.DateTime)
	if err != nil {
		return nil, fmt.Errorf("invalid start %q: %w", start.DateTime, err)
	}
	e := s
	if end != nil && end.DateTime != "" {
		if e, err = time.Parse(time.RFC3339, end.DateTime); err != nil {
			return nil, fmt.Errorf("invalid end %q: %w", end.DateTime, err)
		}
	}
	return model.Timed{Start: s.UTC(), End: e.UTC()}, nil
}

func sameTiming(a, b model.Timing) bool {
	switch at := a.(type) {
	case model.Timed:
		bt, ok := b.(model.Timed)
		return ok && at.Start.Equal(bt.Start) && at.End.Equal(bt.End)
	case model.AllDay:
		bt, ok := b.(model.AllDay)
		return ok && at == bt
	case nil:
		return b == nil
	}
	return false
}
