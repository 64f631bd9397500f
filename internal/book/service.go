package book

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

// Service owns the book aggregate: commands append to the per-book event
// stream and project into the read model inside one transaction, queries
// rehydrate the projection from the stream before answering.
type Service struct {
	db    *database.DB
	log   *eventlog.Client
	books *database.BookRepository
}

// NewService creates a new book service instance
func NewService(db *database.DB, log *eventlog.Client, books *database.BookRepository) *Service {
	return &Service{
		db:    db,
		log:   log,
		books: books,
	}
}

// Create emits a Created event for a fresh aggregate id. The expected
// version is pinned to the empty stream so an id collision cannot
// silently overwrite history.
func (s *Service) Create(ctx context.Context, title string, amount int32) (uuid.UUID, error) {
	id := uuid.New()
	expected := eventlog.Nothing()
	cmd := event.CommandInfo[event.BookEvent]{
		Event:           event.BookEvent{Type: event.TypeCreated, Title: &title, Amount: &amount},
		ExpectedVersion: &expected,
	}
	return s.Handle(ctx, id, cmd)
}

// Handle runs one write command: validate, append with the caller's
// optimistic-concurrency expectation, then fold the new event into the read
// model. A version mismatch rolls everything back and surfaces as a
// Concurrency-class error. If the append lands but the commit fails, the
// event is durable and the projection catches up on the next read.
func (s *Service) Handle(ctx context.Context, id uuid.UUID, cmd event.CommandInfo[event.BookEvent]) (uuid.UUID, error) {
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

	version, err := s.log.Append(ctx, event.BookStream, &id, cmd.ExpectedVersion, cmd.Event.Type, payload)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.project(ctx, tx, id, &cmd.Event, version); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit book projection: %w", err)
	}

	logger.Debug("Handled book command",
		zap.String("id", id.String()),
		zap.String("type", cmd.Event.Type),
		zap.String("version", version.String()))
	return id, nil
}

// project applies the just-emitted event to the stored row.
func (s *Service) project(ctx context.Context, q database.DBTX, id uuid.UUID, e *event.BookEvent, version eventlog.Version) error {
	v := version.Wire()

	switch e.Type {
	case event.TypeCreated:
		row, err := s.books.FindByID(ctx, q, id)
		if errors.Is(err, database.ErrBookNotFound) {
			return s.books.Insert(ctx, q, &database.Book{ID: id, Title: *e.Title, Amount: *e.Amount, Version: v})
		}
		if err != nil {
			return err
		}
		row.Title = *e.Title
		row.Amount = *e.Amount
		row.Version = v
		return s.books.Update(ctx, q, row)
	case event.TypeUpdated:
		row, err := s.books.FindByID(ctx, q, id)
		if errors.Is(err, database.ErrBookNotFound) {
			// The projection lags behind the log; the next read rehydrates it.
			return nil
		}
		if err != nil {
			return err
		}
		applyUpdate(row, e)
		row.Version = v
		return s.books.Update(ctx, q, row)
	case event.TypeDeleted:
		return s.books.Delete(ctx, q, id)
	default:
		return fmt.Errorf("unknown book event type %q", e.Type)
	}
}

// Get rehydrates the book projection: load the row, fold every event the
// row has not seen, reconcile the result back, and return it. After a
// successful return the stored version equals the stream tail as observed
// in this transaction; the terminal reconciliation is idempotent so
// concurrent callers are safe.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*database.Book, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := s.books.FindByID(ctx, tx, id)
	if err != nil && !errors.Is(err, database.ErrBookNotFound) {
		return nil, err
	}

	var since *eventlog.Version
	if row != nil {
		v := eventlog.Exact(row.Version)
		since = &v
	}

	events, err := s.log.Read(ctx, event.BookStream, &id, since)
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
			err = s.books.Insert(ctx, tx, projected)
		case row != nil && projected != nil:
			err = s.books.Update(ctx, tx, projected)
		case row != nil && projected == nil:
			err = s.books.Delete(ctx, tx, id)
		}
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit book rehydration: %w", err)
		}
	}

	if projected == nil {
		return nil, database.ErrBookNotFound
	}
	return projected, nil
}

// List returns the projected books without rehydration; rows may lag the log.
func (s *Service) List(ctx context.Context) ([]database.Book, error) {
	return s.books.FindAll(ctx, s.db.Pool())
}

// fold replays events over the stored row. A nil result means the book no
// longer exists.
func fold(id uuid.UUID, row *database.Book, events []eventlog.Event) (*database.Book, error) {
	var cur *database.Book
	if row != nil {
		copied := *row
		cur = &copied
	}

	for _, entry := range events {
		e, err := event.DecodeBookEvent(entry.Payload)
		if err != nil {
			return nil, err
		}
		v := entry.Version.Wire()

		switch e.Type {
		case event.TypeCreated:
			cur = &database.Book{ID: id, Title: *e.Title, Amount: *e.Amount, Version: v}
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

func applyUpdate(row *database.Book, e *event.BookEvent) {
	if e.Title != nil {
		row.Title = *e.Title
	}
	if e.Amount != nil {
		row.Amount = *e.Amount
	}
}
