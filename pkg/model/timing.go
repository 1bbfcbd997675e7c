package model

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the date t falls on in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.In(time.UTC).Format(dateLayout)
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Timing is either Timed or AllDay. The unexported method closes the set so
// that type switches over it can be exhaustive.
type Timing interface {
	timing()
}

// Timed is an event with an instant start and end.
type Timed struct {
	Start time.Time
	End   time.Time
}

// AllDay is an event spanning whole days. End is exclusive.
type AllDay struct {
	Start Date
	End   Date
}

func (Timed) timing()  {}
func (AllDay) timing() {}

// IsAllDay reports whether t is an all-day timing.
func IsAllDay(t Timing) bool {
	_, ok := t.(AllDay)
	return ok
}
