package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
)

// Tokens supplies bearer tokens per owner.
type Tokens interface {
	AccessToken(ctx context.Context, ownerID string) (string, error)
	ForceRefresh(ctx context.Context, ownerID, rejected string) (string, error)
}

// RemoteItem is a task or event as the remote service reports it, with the
// envelope fields the sync engine reads pulled out.
type RemoteItem struct {
	Kind model.Kind
	ID   string
	// ContainerID is the task list or calendar the item was read from.
	ContainerID string
	ETag        string
	Updated     time.Time
	Task        *tasks.Task
	Event       *calendar.Event
}

// ListQuery selects one page of a list call. A non-empty Cursor selects
// cursor mode; otherwise TimeMin/TimeMax bound a windowed pull.
type ListQuery struct {
	Cursor    string
	PageToken string
	TimeMin   time.Time
	TimeMax   time.Time
	// AsOf is the instant the pass started. Task lists have no sync token, so
	// it becomes the next cursor.
	AsOf time.Time
}

// Page is one page of list results. NextCursor is set only on the last page.
type Page struct {
	Items         []*RemoteItem
	NextPageToken string
	NextCursor    string
}

type Config struct {
	Tokens Tokens
	// HTTPClient supplies the base transport. Defaults to http.DefaultTransport.
	HTTPClient *http.Client
	// Endpoint overrides for the two APIs.
	TasksEndpoint    string
	CalendarEndpoint string
	// Timeout bounds each attempt. Defaults to 30s.
	Timeout time.Duration
	// MaxAttempts bounds tries for transient failures. Defaults to 4.
	MaxAttempts int
	// BaseDelay is the first backoff delay, doubled per retry. Defaults to 500ms.
	BaseDelay time.Duration
	Logger    *slog.Logger
}

// Client performs list/get/create/update/delete against Google Tasks and
// Google Calendar on behalf of a linked owner.
type Client struct {
	tokens           Tokens
	base             http.RoundTripper
	tasksEndpoint    string
	calendarEndpoint string
	timeout          time.Duration
	maxAttempts      int
	baseDelay        time.Duration
	logger           *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("google: Tokens is required")
	}
	c := &Client{
		tokens:           cfg.Tokens,
		base:             http.DefaultTransport,
		tasksEndpoint:    cfg.TasksEndpoint,
		calendarEndpoint: cfg.CalendarEndpoint,
		timeout:          cfg.Timeout,
		maxAttempts:      cfg.MaxAttempts,
		baseDelay:        cfg.BaseDelay,
		logger:           cfg.Logger,
	}
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		c.base = cfg.HTTPClient.Transport
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 4
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 500 * time.Millisecond
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// List fetches one page of the remote container.
func (c *Client) List(ctx context.Context, ownerID string, kind model.Kind, containerID string, q ListQuery) (*Page, error) {
	var page *Page
	err := c.do(ctx, ownerID, "list", func(ctx context.Context, hc *http.Client) (err error) {
		switch kind {
		case model.KindTask:
			page, err = c.listTasks(ctx, hc, containerID, q)
		case model.KindEvent:
			page, err = c.listEvents(ctx, hc, containerID, q)
		default:
			err = unsupported(kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, item := range page.Items {
		item.ContainerID = containerID
	}
	return page, nil
}

// Get fetches a single item by remote id.
func (c *Client) Get(ctx context.Context, ownerID string, kind model.Kind, containerID, id string) (*RemoteItem, error) {
	var item *RemoteItem
	err := c.do(ctx, ownerID, "get", func(ctx context.Context, hc *http.Client) (err error) {
		switch kind {
		case model.KindTask:
			item, err = c.getTask(ctx, hc, containerID, id)
		case model.KindEvent:
			item, err = c.getEvent(ctx, hc, containerID, id)
		default:
			err = unsupported(kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	item.ContainerID = containerID
	return item, nil
}

// Create inserts body into the remote container and returns the stored item.
func (c *Client) Create(ctx context.Context, ownerID string, kind model.Kind, containerID string, body *RemoteItem) (*RemoteItem, error) {
	var item *RemoteItem
	err := c.do(ctx, ownerID, "create", func(ctx context.Context, hc *http.Client) (err error) {
		switch kind {
		case model.KindTask:
			item, err = c.insertTask(ctx, hc, containerID, body)
		case model.KindEvent:
			item, err = c.insertEvent(ctx, hc, containerID, body)
		default:
			err = unsupported(kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	item.ContainerID = containerID
	return item, nil
}

// Update replaces the remote item id with body.
func (c *Client) Update(ctx context.Context, ownerID string, kind model.Kind, containerID, id string, body *RemoteItem) (*RemoteItem, error) {
	var item *RemoteItem
	err := c.do(ctx, ownerID, "update", func(ctx context.Context, hc *http.Client) (err error) {
		switch kind {
		case model.KindTask:
			item, err = c.updateTask(ctx, hc, containerID, id, body)
		case model.KindEvent:
			item, err = c.updateEvent(ctx, hc, containerID, id, body)
		default:
			err = unsupported(kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	item.ContainerID = containerID
	return item, nil
}

// Delete removes the remote item id.
func (c *Client) Delete(ctx context.Context, ownerID string, kind model.Kind, containerID, id string) error {
	return c.do(ctx, ownerID, "delete", func(ctx context.Context, hc *http.Client) error {
		switch kind {
		case model.KindTask:
			return c.deleteTask(ctx, hc, containerID, id)
		case model.KindEvent:
			return c.deleteEvent(ctx, hc, containerID, id)
		}
		return unsupported(kind)
	})
}

// ResolveContainer finds the remote task list or calendar titled title.
func (c *Client) ResolveContainer(ctx context.Context, ownerID string, kind model.Kind, title string) (string, error) {
	var id string
	err := c.do(ctx, ownerID, "resolve", func(ctx context.Context, hc *http.Client) (err error) {
		switch kind {
		case model.KindTask:
			id, err = c.findTaskList(ctx, hc, title)
		case model.KindEvent:
			id, err = c.findCalendar(ctx, hc, title)
		default:
			err = unsupported(kind)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%s container '%s' not found", kind, title)
	}
	return id, nil
}

// DefaultContainer is the remote container used when none is mapped.
func DefaultContainer(kind model.Kind) string {
	if kind == model.KindTask {
		return "@default"
	}
	return "primary"
}

// do runs call with a bearer token for the owner. Transient failures are
// retried with exponential backoff up to maxAttempts; a 401 forces one token
// refresh and one extra attempt. Token lookups share the per-attempt timeout;
// token errors are returned unchanged.
func (c *Client) do(ctx context.Context, ownerID, op string, call func(context.Context, *http.Client) error) error {
	refreshed := false
	for attempt := 1; ; attempt++ {
		tokenCtx, cancel := context.WithTimeout(ctx, c.timeout)
		access, err := c.tokens.AccessToken(tokenCtx, ownerID)
		cancel()
		if err != nil {
			return err
		}

		hc := &http.Client{Transport: &oauth2.Transport{
			Base:   c.base,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access, TokenType: "Bearer"}),
		}}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = call(attemptCtx, hc)
		if err != nil {
			err = classify(attemptCtx, err)
		}
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if IsUnauthorized(err) && !refreshed {
			refreshed = true
			c.logger.Info("remote rejected token, refreshing", "owner", ownerID, "op", op)
			tokenCtx, cancel := context.WithTimeout(ctx, c.timeout)
			_, ferr := c.tokens.ForceRefresh(tokenCtx, ownerID, access)
			cancel()
			if ferr != nil {
				return ferr
			}
			attempt--
			continue
		}
		if !IsTransient(err) || attempt >= c.maxAttempts {
			return err
		}

		delay := c.baseDelay << (attempt - 1)
		c.logger.Debug("retrying remote call", "owner", ownerID, "op", op, "attempt", attempt, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) tasksService(ctx context.Context, hc *http.Client) (*tasks.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.tasksEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.tasksEndpoint))
	}
	srv, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, localError{fmt.Errorf("unable to create Tasks service: %w", err)}
	}
	return srv, nil
}

func (c *Client) calendarService(ctx context.Context, hc *http.Client) (*calendar.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.calendarEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.calendarEndpoint))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, localError{fmt.Errorf("unable to create Calendar service: %w", err)}
	}
	return srv, nil
}

func unsupported(kind model.Kind) error {
	return localError{errors.New("unsupported kind " + string(kind))}
}

func parseUpdated(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
