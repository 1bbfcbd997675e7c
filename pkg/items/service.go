// Package items is the local mutation API: it commits creates, edits, moves
// and deletes to the store and then hands each committed change to the
// mirror. Mirroring never changes the result of a local operation.
package items

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/syncer"
)

// Store is the local persistence the service writes to.
type Store interface {
	GetContainer(ctx context.Context, id string) (*model.Container, error)
	CreateItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, containerID string) ([]*model.Item, error)
	SaveLocalEdit(ctx context.Context, item *model.Item) error
	DeleteItem(ctx context.Context, id string) error
}

// Mirror receives committed mutations.
type Mirror interface {
	OnLocalMutation(ctx context.Context, m syncer.Mutation)
}

type Service struct {
	store  Store
	mirror Mirror
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs sets the item id generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService returns a Service. A nil mirror disables mirroring.
func NewService(store Store, mirror Mirror, opts ...Option) *Service {
	s := &Service{
		store:  store,
		mirror: mirror,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds an item to the container. The kind and owner come from the
// container.
func (s *Service) Create(ctx context.Context, containerID string, p model.Payload) (*model.Item, error) {
	c, err := s.store.GetContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	item := &model.Item{
		ID:        s.newID(),
		ParentID:  c.ID,
		OwnerID:   c.OwnerID,
		Kind:      c.Kind,
		Origin:    model.OriginLocal,
		Payload:   p,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Debug("created item", "owner", item.OwnerID, "item", item.ID, "container", c.ID)

	s.notify(ctx, syncer.Mutation{Kind: syncer.MutationCreated, After: item.Clone()})
	return item, nil
}

// Update applies edit to the item's payload. Nothing is written when edit
// returns an error.
func (s *Service) Update(ctx context.Context, id string, edit func(*model.Payload) error) (*model.Item, error) {
	before, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	after := before.Clone()
	if err := edit(&after.Payload); err != nil {
		return nil, err
	}
	after.UpdatedAt = s.now()
	if err := s.store.SaveLocalEdit(ctx, after); err != nil {
		return nil, err
	}

	s.notify(ctx, syncer.Mutation{Kind: syncer.MutationUpdated, Before: before, After: after.Clone()})
	return after, nil
}

// Move puts the item into another container of the same owner and kind.
func (s *Service) Move(ctx context.Context, id, containerID string) (*model.Item, error) {
	before, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != before.OwnerID || c.Kind != before.Kind {
		return nil, fmt.Errorf("cannot move %s %s into %s container %s", before.Kind, id, c.Kind, c.ID)
	}
	if before.ParentID == c.ID {
		return before, nil
	}

	after := before.Clone()
	after.ParentID = c.ID
	after.UpdatedAt = s.now()
	if err := s.store.SaveLocalEdit(ctx, after); err != nil {
		return nil, err
	}

	s.notify(ctx, syncer.Mutation{Kind: syncer.MutationMoved, Before: before, After: after.Clone()})
	return after, nil
}

// Delete removes the item.
func (s *Service) Delete(ctx context.Context, id string) error {
	before, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return err
	}

	s.notify(ctx, syncer.Mutation{Kind: syncer.MutationDeleted, Before: before})
	return nil
}

// List returns the items of a container.
func (s *Service) List(ctx context.Context, containerID string) ([]*model.Item, error) {
	return s.store.ListItems(ctx, containerID)
}

func (s *Service) notify(ctx context.Context, m syncer.Mutation) {
	if s.mirror == nil {
		return
	}
	s.mirror.OnLocalMutation(ctx, m)
}
