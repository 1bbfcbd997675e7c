// Package taskwarrior reads Taskwarrior exports so existing tasks can be
// imported as local items.
package taskwarrior

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

// Export runs `task <filter> export` with hooks disabled.
func Export(ctx context.Context, filter []string) ([]Task, error) {
	args := append(append([]string{}, filter...), "export", "rc.hooks=0")
	cmd := exec.CommandContext(ctx, "task", args...)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("taskwarrior command failed: exit code %d, stderr: %s",
				exitErr.ExitCode(), bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("taskwarrior command failed: %w", err)
	}
	return Decode(bytes.NewReader(output))
}

// Decode reads either a JSON array, as written by `task export`, or one JSON
// object per line, as fed to hooks.
func Decode(r io.Reader) ([]Task, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var tasks []Task
		if err := dec.Decode(&tasks); err != nil {
			return nil, fmt.Errorf("failed to decode task export: %w", err)
		}
		return tasks, nil
	}

	var tasks []Task
	for {
		var task Task
		if err := dec.Decode(&task); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode task json: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// ToPayload converts a task to a local task payload. Deleted and recurring
// template tasks are not importable.
func ToPayload(t Task) (model.Payload, bool) {
	switch t.Status {
	case StatusDeleted, StatusRecurring:
		return model.Payload{}, false
	}
	if strings.TrimSpace(t.Description) == "" {
		return model.Payload{}, false
	}

	p := model.Payload{Title: t.Description, Notes: notes(t)}
	if due := t.Due; due != nil && !due.IsZero() {
		d := due.UTC()
		p.Task.Due = &d
	} else if s := t.Scheduled; s != nil && !s.IsZero() {
		d := s.UTC()
		p.Task.Due = &d
	}
	if t.Status == StatusCompleted {
		p.Task.Completed = true
		if t.End != nil && !t.End.IsZero() {
			end := t.End.UTC()
			p.Task.CompletedAt = &end
		}
	}
	return p, true
}

func notes(t Task) string {
	var lines []string
	if t.Project != "" {
		lines = append(lines, "project: "+t.Project)
	}
	if len(t.Tags) > 0 {
		lines = append(lines, "tags: "+strings.Join(t.Tags, " "))
	}
	for _, a := range t.Annotations {
		if a.Entry != nil && !a.Entry.IsZero() {
			lines = append(lines, a.Entry.UTC().Format(time.DateOnly)+" "+a.Description)
		} else {
			lines = append(lines, a.Description)
		}
	}
	return strings.Join(lines, "\n")
}
