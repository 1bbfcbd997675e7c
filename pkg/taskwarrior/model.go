package taskwarrior

import (
	"fmt"
	"strings"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusWaiting   = "waiting"
	StatusRecurring = "recurring"
	StatusDeleted   = "deleted"
)

// timeLayout is the UTC stamp format of `task export`.
const timeLayout = "20060102T150405Z"

// Time decodes Taskwarrior's compact UTC timestamps.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "0" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		return fmt.Errorf("failed to parse taskwarrior time %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.UTC().Format(timeLayout) + `"`), nil
}

type Annotation struct {
	Description string `json:"description"`
	Entry       *Time  `json:"entry,omitempty"`
}

// Task is the subset of a Taskwarrior export record the importer reads.
type Task struct {
	UUID        string       `json:"uuid"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Project     string       `json:"project,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Due         *Time        `json:"due,omitempty"`
	Scheduled   *Time        `json:"scheduled,omitempty"`
	End         *Time        `json:"end,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}
