package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turtton/kmnlib-sub000/internal/database"
	"github.com/turtton/kmnlib-sub000/internal/event"
	"github.com/turtton/kmnlib-sub000/pkg/eventlog"
	"github.com/turtton/kmnlib-sub000/pkg/logger"
)

// Service owns the user aggregate; the write and read paths mirror the book
// service over the per-user event streams.
type Service struct {
	db    *database.DB
	log   *eventlog.Client
	users *database.UserRepository
}

// NewService creates a new user service instance
func NewService(db *database.DB, log *eventlog.Client, users *database.UserRepository) *Service {
	return &Service{
		db:    db,
		log:   log,
		users: users,
	}
}

// Create emits a Created event for a fresh aggregate id.
func (s *Service) Create(ctx context.Context, name string, rentLimit int32) (uuid.UUID, error) {
	id := uuid.New()
	expected := eventlog.Nothing()
	cmd := event.CommandInfo[event.UserEvent]{
		Event:           event.UserEvent{Type: event.TypeCreated, Name: &name, RentLimit: &rentLimit},
		ExpectedVersion: &expected,
	}
	return s.Handle(ctx, id, cmd)
}

// Handle runs one write command; see book.Service.Handle for the contract.
func (s *Service) Handle(ctx context.Context, id uuid.UUID, cmd event.CommandInfo[event.UserEvent]) (uuid.UUID, error) {
	if err := cmd.Event.Validate(); err != nil {
		return uuid.Nil, err
	}
	payload, err := cmd.Event.ToJSON()
	if err != nil {
		return uuid.Nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	version, err := s.log.Append(ctx, event.UserStream, &id, cmd.ExpectedVersion, cmd.Event.Type, payload)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.project(ctx, tx, id, &cmd.Event, version); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit user projection: %w", err)
	}

	logger.Debug("Handled user command",
		zap.String("id", id.String()),
		zap.String("type", cmd.Event.Type),
		zap.String("version", version.String()))
	return id, nil
}

func (s *Service) project(ctx context.Context, q database.DBTX, id uuid.UUID, e *event.UserEvent, version eventlog.Version) error {
	v := version.Wire()

	switch e.Type {
	case event.TypeCreated:
		row, err := s.users.FindByID(ctx, q, id)
		if errors.Is(err, database.ErrUserNotFound) {
			return s.users.Insert(ctx, q, &database.User{ID: id, Name: *e.Name, RentLimit: *e.RentLimit, Version: v})
		}
		if err != nil {
			return err
		}
		row.Name = *e.Name
		row.RentLimit = *e.RentLimit
		row.Version = v
		return s.users.Update(ctx, q, row)
	case event.TypeUpdated:
		row, err := s.users.FindByID(ctx, q, id)
		if errors.Is(err, database.ErrUserNotFound) {
			// The projection lags behind the log; the next read rehydrates it.
			return nil
		}
		if err != nil {
			return err
		}
		applyUpdate(row, e)
		row.Version = v
		return s.users.Update(ctx, q, row)
	case event.TypeDeleted:
		return s.users.Delete(ctx, q, id)
	default:
		return fmt.Errorf("unknown user event type %q", e.Type)
	}
}

// Get rehydrates the user projection from the event stream; see
// book.Service.Get for the invariants.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*database.User, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := s.users.FindByID(ctx, tx, id)
	if err != nil && !errors.Is(err, database.ErrUserNotFound) {
		return nil, err
	}

	var since *eventlog.Version
	if row != nil {
		v := eventlog.Exact(row.Version)
		since = &v
	}

	events, err := s.log.Read(ctx, event.UserStream, &id, since)
	if err != nil {
		return nil, err
	}

	projected, err := fold(id, row, events)
	if err != nil {
		return nil, err
	}

	if len(events) > 0 {
		switch {
		case row == nil && projected != nil:
			err = s.users.Insert(ctx, tx, projected)
		case row != nil && projected != nil:
			err = s.users.Update(ctx, tx, projected)
		case row != nil && projected == nil:
			err = s.users.Delete(ctx, tx, id)
		}
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit user rehydration: %w", err)
		}
	}

	if projected == nil {
		return nil, database.ErrUserNotFound
	}
	return projected, nil
}

// List returns the projected users without rehydration; rows may lag the log.
func (s *Service) List(ctx context.Context) ([]database.User, error) {
	return s.users.FindAll(ctx, s.db.Pool())
}

func fold(id uuid.UUID, row *database.User, events []eventlog.Event) (*database.User, error) {
	var cur *database.User
	if row != nil {
		copied := *row
		cur = &copied
	}

	for _, entry := range events {
		e, err := event.DecodeUserEvent(entry.Payload)
		if err != nil {
			return nil, err
		}
		v := entry.Version.Wire()

		switch e.Type {
		case event.TypeCreated:
			cur = &database.User{ID: id, Name: *e.Name, RentLimit: *e.RentLimit, Version: v}
		case event.TypeUpdated:
			if cur == nil {
				continue
			}
			applyUpdate(cur, e)
			cur.Version = v
		case event.TypeDeleted:
			cur = nil
		}
	}
	return cur, nil
}

func applyUpdate(row *database.User, e *event.UserEvent) {
	if e.Name != nil {
		row.Name = *e.Name
	}
	if e.RentLimit != nil {
		row.RentLimit = *e.RentLimit
	}
}
