package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Domain events carried through the event log. Each is a tagged union
// serialized as JSON with a "type" discriminator; optional fields are
// pointers so partial updates keep absent-vs-zero distinct on the wire.

// Logical stream names. Book and user events live on per-aggregate streams
// ({name}_{id}); rent events share one global stream.
const (
	BookStream = "book"
	UserStream = "user"
	RentStream = "rent"
)

const (
	TypeCreated  = "Created"
	TypeUpdated  = "Updated"
	TypeDeleted  = "Deleted"
	TypeRented   = "Rented"
	TypeReturned = "Returned"
)

// BookEvent is Created{title,amount} | Updated{title?,amount?} | Deleted.
type BookEvent struct {
	Type   string  `json:"type"`
	Title  *string `json:"title,omitempty"`
	Amount *int32  `json:"amount,omitempty"`
}

// ToJSON serializes the event payload.
func (e *BookEvent) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal book event: %w", err)
	}
	return data, nil
}

// DecodeBookEvent deserializes and validates a book event payload.
func DecodeBookEvent(data []byte) (*BookEvent, error) {
	e := &BookEvent{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal book event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the event shape against its type.
func (e *BookEvent) Validate() error {
	switch e.Type {
	case TypeCreated:
		if e.Title == nil {
			return errors.New("book Created requires title")
		}
		if e.Amount == nil {
			return errors.New("book Created requires amount")
		}
		if *e.Amount < 0 {
			return errors.New("book amount must not be negative")
		}
	case TypeUpdated:
		if e.Title == nil && e.Amount == nil {
			return errors.New("book Updated requires at least one field")
		}
		if e.Amount != nil && *e.Amount < 0 {
			return errors.New("book amount must not be negative")
		}
	case TypeDeleted:
	default:
		return fmt.Errorf("unknown book event type %q", e.Type)
	}
	return nil
}

// UserEvent is Created{name,rent_limit} | Updated{name?,rent_limit?} | Deleted.
type UserEvent struct {
	Type      string  `json:"type"`
	Name      *string `json:"name,omitempty"`
	RentLimit *int32  `json:"rent_limit,omitempty"`
}

// ToJSON serializes the event payload.
func (e *UserEvent) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user event: %w", err)
	}
	return data, nil
}

// DecodeUserEvent deserializes and validates a user event payload.
func DecodeUserEvent(data []byte) (*UserEvent, error) {
	e := &UserEvent{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the event shape against its type.
func (e *UserEvent) Validate() error {
	switch e.Type {
	case TypeCreated:
		if e.Name == nil {
			return errors.New("user Created requires name")
		}
		if e.RentLimit == nil {
			return errors.New("user Created requires rent_limit")
		}
		if *e.RentLimit < 0 {
			return errors.New("user rent_limit must not be negative")
		}
	case TypeUpdated:
		if e.Name == nil && e.RentLimit == nil {
			return errors.New("user Updated requires at least one field")
		}
		if e.RentLimit != nil && *e.RentLimit < 0 {
			return errors.New("user rent_limit must not be negative")
		}
	case TypeDeleted:
	default:
		return fmt.Errorf("unknown user event type %q", e.Type)
	}
	return nil
}

// RentEvent is Rented{book_id,user_id} | Returned{book_id,user_id}.
type RentEvent struct {
	Type   string    `json:"type"`
	BookID uuid.UUID `json:"book_id"`
	UserID uuid.UUID `json:"user_id"`
}

// ToJSON serializes the event payload.
func (e *RentEvent) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rent event: %w", err)
	}
	return data, nil
}

// DecodeRentEvent deserializes and validates a rent event payload.
func DecodeRentEvent(data []byte) (*RentEvent, error) {
	e := &RentEvent{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rent event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the event shape against its type.
func (e *RentEvent) Validate() error {
	switch e.Type {
	case TypeRented, TypeReturned:
		if e.BookID == uuid.Nil {
			return errors.New("rent event requires book_id")
		}
		if e.UserID == uuid.Nil {
			return errors.New("rent event requires user_id")
		}
	default:
		return fmt.Errorf("unknown rent event type %q", e.Type)
	}
	return nil
}
