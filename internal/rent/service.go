package rent

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turtton/kmnlib-sub000/internal/database"
	"github.com/turtton/kmnlib-sub000/internal/event"
	"github.com/turtton/kmnlib-sub000/pkg/eventlog"
	"github.com/turtton/kmnlib-sub000/pkg/logger"
)

// Service owns the rent relationship. Unlike books and users, every rent
// event lives on one global stream, so reads fold the whole stream instead
// of a per-aggregate one and queries filter the folded set.
type Service struct {
	db    *database.DB
	log   *eventlog.Client
	rents *database.RentRepository
}

// NewService creates a new rent service instance
func NewService(db *database.DB, log *eventlog.Client, rents *database.RentRepository) *Service {
	return &Service{
		db:    db,
		log:   log,
		rents: rents,
	}
}

// Rent appends a Rented event and projects the new active rent.
func (s *Service) Rent(ctx context.Context, bookID, userID uuid.UUID, expected *eventlog.Version) error {
	return s.handle(ctx, event.RentEvent{Type: event.TypeRented, BookID: bookID, UserID: userID}, expected)
}

// Return appends a Returned event and removes the active rent.
func (s *Service) Return(ctx context.Context, bookID, userID uuid.UUID, expected *eventlog.Version) error {
	return s.handle(ctx, event.RentEvent{Type: event.TypeReturned, BookID: bookID, UserID: userID}, expected)
}

func (s *Service) handle(ctx context.Context, e event.RentEvent, expected *eventlog.Version) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := e.ToJSON()
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	version, err := s.log.Append(ctx, event.RentStream, nil, expected, e.Type, payload)
	if err != nil {
		return err
	}

	switch e.Type {
	case event.TypeRented:
		err = s.rents.Upsert(ctx, tx, &database.Rent{BookID: e.BookID, UserID: e.UserID, Version: version.Wire()})
	case event.TypeReturned:
		err = s.rents.Delete(ctx, tx, e.BookID, e.UserID)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rent projection: %w", err)
	}

	logger.Debug("Handled rent command",
		zap.String("type", e.Type),
		zap.String("book_id", e.BookID.String()),
		zap.String("user_id", e.UserID.String()),
		zap.String("version", version.String()))
	return nil
}

// List rehydrates and returns every active rent.
func (s *Service) List(ctx context.Context) ([]database.Rent, error) {
	return s.rehydrate(ctx)
}

// ListByBook rehydrates and returns the active rents of one book.
func (s *Service) ListByBook(ctx context.Context, bookID uuid.UUID) ([]database.Rent, error) {
	rents, err := s.rehydrate(ctx)
	if err != nil {
		return nil, err
	}
	var filtered []database.Rent
	for _, r := range rents {
		if r.BookID == bookID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// ListByUser rehydrates and returns the active rents held by one user.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]database.Rent, error) {
	rents, err := s.rehydrate(ctx)
	if err != nil {
		return nil, err
	}
	var filtered []database.Rent
	for _, r := range rents {
		if r.UserID == userID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

type rentKey struct {
	bookID uuid.UUID
	userID uuid.UUID
}

// rehydrate folds the global rent stream into the set of active rents and
// reconciles the book_rents table with it. Deleted rows carry no cursor the
// fold could resume from, so the stream is replayed from its origin; the
// reconciliation is a pure diff and therefore idempotent under concurrent
// callers.
func (s *Service) rehydrate(ctx context.Context) ([]database.Rent, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	events, err := s.log.Read(ctx, event.RentStream, nil, nil)
	if err != nil {
		return nil, err
	}

	active := make(map[rentKey]int64)
	for _, entry := range events {
		e, err := event.DecodeRentEvent(entry.Payload)
		if err != nil {
			return nil, err
		}
		key := rentKey{bookID: e.BookID, userID: e.UserID}
		switch e.Type {
		case event.TypeRented:
			active[key] = entry.Version.Wire()
		case event.TypeReturned:
			delete(active, key)
		}
	}

	existing, err := s.rents.FindAll(ctx, tx)
	if err != nil {
		return nil, err
	}

	existingVersions := make(map[rentKey]int64, len(existing))
	for _, r := range existing {
		existingVersions[rentKey{bookID: r.BookID, userID: r.UserID}] = r.Version
	}

	changed := false
	for key, version := range active {
		if cur, ok := existingVersions[key]; !ok || cur != version {
			if err := s.rents.Upsert(ctx, tx, &database.Rent{BookID: key.bookID, UserID: key.userID, Version: version}); err != nil {
				return nil, err
			}
			changed = true
		}
	}
	for key := range existingVersions {
		if _, ok := active[key]; !ok {
			if err := s.rents.Delete(ctx, tx, key.bookID, key.userID); err != nil {
				return nil, err
			}
			changed = true
		}
	}

	if changed {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit rent rehydration: %w", err)
		}
	}

	rents := make([]database.Rent, 0, len(active))
	for key, version := range active {
		rents = append(rents, database.Rent{BookID: key.bookID, UserID: key.userID, Version: version})
	}
	sort.Slice(rents, func(i, j int) bool {
		if rents[i].BookID != rents[j].BookID {
			return rents[i].BookID.String() < rents[j].BookID.String()
		}
		return rents[i].UserID.String() < rents[j].UserID.String()
	})
	return rents, nil
}
