package database

import "github.com/google/uuid"

// Read-model rows. These are projections derived from the event log; the
// log owns the truth and rows may lag until the next rehydrating read.
// Version is the revision of the last event folded into the row.

type Book struct {
	ID      uuid.UUID `json:"id" db:"id"`
	Title   string    `json:"title" db:"title"`
	Amount  int32     `json:"amount" db:"amount"`
	Version int64     `json:"version" db:"version"`
}

type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	RentLimit int32     `json:"rent_limit" db:"rent_limit"`
	Version   int64     `json:"version" db:"version"`
}

// Rent is existing-or-not: a row means the book is currently rented by the
// user, and a Returned event removes it.
type Rent struct {
	BookID  uuid.UUID `json:"book_id" db:"book_id"`
	UserID  uuid.UUID `json:"user_id" db:"user_id"`
	Version int64     `json:"version" db:"version"`
}
