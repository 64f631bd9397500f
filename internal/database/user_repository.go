package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrUserNotFound is returned when a user is not found in the read model
var ErrUserNotFound = errors.New("user not found")

// UserRepository handles all read-model operations for users
type UserRepository struct{}

// NewUserRepository creates a new user repository instance
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// Insert adds a freshly projected user row.
func (r *UserRepository) Insert(ctx context.Context, q DBTX, user *User) error {
	query := `INSERT INTO users (id, name, rent_limit, version) VALUES ($1, $2, $3, $4)`

	if _, err := q.Exec(ctx, query, user.ID, user.Name, user.RentLimit, user.Version); err != nil {
		return fmt.Errorf("failed to insert user %s: %w", user.ID, err)
	}
	return nil
}

// Update persists the current projection state of an existing row.
func (r *UserRepository) Update(ctx context.Context, q DBTX, user *User) error {
	query := `UPDATE users SET name = $2, rent_limit = $3, version = $4 WHERE id = $1`

	if _, err := q.Exec(ctx, query, user.ID, user.Name, user.RentLimit, user.Version); err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	return nil
}

// Delete removes a user row; absent rows are a no-op.
func (r *UserRepository) Delete(ctx context.Context, q DBTX, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1`

	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	return nil
}

// FindByID retrieves a user by id.
// Returns ErrUserNotFound if no row exists.
func (r *UserRepository) FindByID(ctx context.Context, q DBTX, id uuid.UUID) (*User, error) {
	query := `SELECT id, name, rent_limit, version FROM users WHERE id = $1`

	var user User
	err := q.QueryRow(ctx, query, id).Scan(&user.ID, &user.Name, &user.RentLimit, &user.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}
	return &user, nil
}

// FindAll lists every projected user.
func (r *UserRepository) FindAll(ctx context.Context, q DBTX) ([]User, error) {
	query := `SELECT id, name, rent_limit, version FROM users ORDER BY name, id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.RentLimit, &user.Version); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}
