package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrBookNotFound is returned when a book is not found in the read model
var ErrBookNotFound = errors.New("book not found")

// BookRepository handles all read-model operations for books
type BookRepository struct{}

// NewBookRepository creates a new book repository instance
func NewBookRepository() *BookRepository {
	return &BookRepository{}
}

// Insert adds a freshly projected book row.
func (r *BookRepository) Insert(ctx context.Context, q DBTX, book *Book) error {
	query := `INSERT INTO books (id, title, amount, version) VALUES ($1, $2, $3, $4)`

	if _, err := q.Exec(ctx, query, book.ID, book.Title, book.Amount, book.Version); err != nil {
		return fmt.Errorf("failed to insert book %s: %w", book.ID, err)
	}
	return nil
}

// Update persists the current projection state of an existing row.
func (r *BookRepository) Update(ctx context.Context, q DBTX, book *Book) error {
	query := `UPDATE books SET title = $2, amount = $3, version = $4 WHERE id = $1`

	if _, err := q.Exec(ctx, query, book.ID, book.Title, book.Amount, book.Version); err != nil {
		return fmt.Errorf("failed to update book %s: %w", book.ID, err)
	}
	return nil
}

// Delete removes a book row. Deleting an absent row is a no-op so the
// projection reconciliation stays idempotent.
func (r *BookRepository) Delete(ctx context.Context, q DBTX, id uuid.UUID) error {
	query := `DELETE FROM books WHERE id = $1`

	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", id, err)
	}
	return nil
}

// FindByID retrieves a book by id.
// Returns ErrBookNotFound if no row exists.
func (r *BookRepository) FindByID(ctx context.Context, q DBTX, id uuid.UUID) (*Book, error) {
	query := `SELECT id, title, amount, version FROM books WHERE id = $1`

	var book Book
	err := q.QueryRow(ctx, query, id).Scan(&book.ID, &book.Title, &book.Amount, &book.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to find book %s: %w", id, err)
	}
	return &book, nil
}

// FindAll lists every projected book.
func (r *BookRepository) FindAll(ctx context.Context, q DBTX) ([]Book, error) {
	query := `SELECT id, title, amount, version FROM books ORDER BY title, id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		var book Book
		if err := rows.Scan(&book.ID, &book.Title, &book.Amount, &book.Version); err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate book rows: %w", err)
	}
	return books, nil
}
