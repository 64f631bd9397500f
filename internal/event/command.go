package event

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/turtton/kmnlib-sub000/pkg/eventlog"
)

// CommandInfo is the input to a write handler: the event to emit plus the
// caller's optimistic-concurrency expectation. A nil ExpectedVersion appends
// unconditionally.
type CommandInfo[E any] struct {
	Event           E                 `json:"event"`
	ExpectedVersion *eventlog.Version `json:"expected_version,omitempty"`
}

// Targets of an asynchronous command operation.
const (
	TargetBook = "book"
	TargetUser = "user"
)

// CommandOperation is the envelope the HTTP layer enqueues for asynchronous
// update/delete: exactly one of Book or User is set, matching Target.
type CommandOperation struct {
	Target          string            `json:"target"`
	ID              uuid.UUID         `json:"id"`
	Book            *BookEvent        `json:"book,omitempty"`
	User            *UserEvent        `json:"user,omitempty"`
	ExpectedVersion *eventlog.Version `json:"expected_version,omitempty"`
}

// BookOperation builds an operation targeting a book aggregate.
func BookOperation(id uuid.UUID, e BookEvent, expected *eventlog.Version) CommandOperation {
	return CommandOperation{Target: TargetBook, ID: id, Book: &e, ExpectedVersion: expected}
}

// UserOperation builds an operation targeting a user aggregate.
func UserOperation(id uuid.UUID, e UserEvent, expected *eventlog.Version) CommandOperation {
	return CommandOperation{Target: TargetUser, ID: id, User: &e, ExpectedVersion: expected}
}

// Validate checks the envelope invariants before dispatch.
func (op *CommandOperation) Validate() error {
	if op.ID == uuid.Nil {
		return errors.New("command operation requires an aggregate id")
	}
	switch op.Target {
	case TargetBook:
		if op.Book == nil {
			return errors.New("book command operation requires a book event")
		}
		return op.Book.Validate()
	case TargetUser:
		if op.User == nil {
			return errors.New("user command operation requires a user event")
		}
		return op.User.Validate()
	default:
		return fmt.Errorf("unknown command target %q", op.Target)
	}
}
