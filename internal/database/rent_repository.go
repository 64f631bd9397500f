package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RentRepository handles all read-model operations for active rents.
// Rows live in book_rents keyed by (book_id, user_id).
type RentRepository struct{}

// NewRentRepository creates a new rent repository instance
func NewRentRepository() *RentRepository {
	return &RentRepository{}
}

// Upsert records an active rent, refreshing the version on conflict so the
// reconciliation pass can run repeatedly.
func (r *RentRepository) Upsert(ctx context.Context, q DBTX, rent *Rent) error {
	query := `INSERT INTO book_rents (book_id, user_id, version) VALUES ($1, $2, $3)
		ON CONFLICT (book_id, user_id) DO UPDATE SET version = EXCLUDED.version`

	if _, err := q.Exec(ctx, query, rent.BookID, rent.UserID, rent.Version); err != nil {
		return fmt.Errorf("failed to upsert rent %s/%s: %w", rent.BookID, rent.UserID, err)
	}
	return nil
}

// Delete removes a rent row; absent rows are a no-op.
func (r *RentRepository) Delete(ctx context.Context, q DBTX, bookID, userID uuid.UUID) error {
	query := `DELETE FROM book_rents WHERE book_id = $1 AND user_id = $2`

	if _, err := q.Exec(ctx, query, bookID, userID); err != nil {
		return fmt.Errorf("failed to delete rent %s/%s: %w", bookID, userID, err)
	}
	return nil
}

// FindAll lists every active rent.
func (r *RentRepository) FindAll(ctx context.Context, q DBTX) ([]Rent, error) {
	query := `SELECT book_id, user_id, version FROM book_rents ORDER BY book_id, user_id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rents: %w", err)
	}
	defer rows.Close()

	var rents []Rent
	for rows.Next() {
		var rent Rent
		if err := rows.Scan(&rent.BookID, &rent.UserID, &rent.Version); err != nil {
			return nil, fmt.Errorf("failed to scan rent row: %w", err)
		}
		rents = append(rents, rent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rent rows: %w", err)
	}
	return rents, nil
}

// FindByBookID lists active rents of one book.
func (r *RentRepository) FindByBookID(ctx context.Context, q DBTX, bookID uuid.UUID) ([]Rent, error) {
	query := `SELECT book_id, user_id, version FROM book_rents WHERE book_id = $1 ORDER BY user_id`

	rows, err := q.Query(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rents for book %s: %w", bookID, err)
	}
	defer rows.Close()

	var rents []Rent
	for rows.Next() {
		var rent Rent
		if err := rows.Scan(&rent.BookID, &rent.UserID, &rent.Version); err != nil {
			return nil, fmt.Errorf("failed to scan rent row: %w", err)
		}
		rents = append(rents, rent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rent rows: %w", err)
	}
	return rents, nil
}

// FindByUserID lists active rents held by one user.
func (r *RentRepository) FindByUserID(ctx context.Context, q DBTX, userID uuid.UUID) ([]Rent, error) {
	query := `SELECT book_id, user_id, version FROM book_rents WHERE user_id = $1 ORDER BY book_id`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rents for user %s: %w", userID, err)
	}
	defer rows.Close()

	var rents []Rent
	for rows.Next() {
		var rent Rent
		if err := rows.Scan(&rent.BookID, &rent.UserID, &rent.Version); err != nil {
			return nil, fmt.Errorf("failed to scan rent row: %w", err)
		}
		rents = append(rents, rent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rent rows: %w", err)
	}
	return rents, nil
}
