package command

import (
	"context"
	"fmt"

	"github.com/turtton/kmnlib-sub000/internal/book"
	"github.com/turtton/kmnlib-sub000/internal/event"
	"github.com/turtton/kmnlib-sub000/internal/user"
	"github.com/turtton/kmnlib-sub000/pkg/apperror"
	"github.com/turtton/kmnlib-sub000/pkg/queue"
	"github.com/turtton/kmnlib-sub000/pkg/stream"
)

// QueueName is the logical queue carrying asynchronous command operations
// enqueued by the HTTP layer for update and delete.
const QueueName = "command_worker"

// Module is the per-queue context handed to every handler invocation. The
// services it carries are safe for concurrent use.
type Module struct {
	Books *book.Service
	Users *user.Service
}

// NewQueue builds the command queue with Handle registered.
func NewQueue(client *stream.Client, module Module, cfg queue.Config) (*queue.Queue[Module, event.CommandOperation], error) {
	return queue.New(client, module, QueueName, cfg, Handle)
}

// Handle dispatches one operation to the owning aggregate service.
// Malformed envelopes and optimistic-concurrency rejections are abandoned:
// redelivering them cannot change the outcome. Everything else is treated
// as transient and retried.
func Handle(ctx context.Context, module Module, op event.CommandOperation) error {
	if err := op.Validate(); err != nil {
		return queue.Abandon(err)
	}

	var err error
	switch op.Target {
	case event.TargetBook:
		_, err = module.Books.Handle(ctx, op.ID, event.CommandInfo[event.BookEvent]{
			Event:           *op.Book,
			ExpectedVersion: op.ExpectedVersion,
		})
	case event.TargetUser:
		_, err = module.Users.Handle(ctx, op.ID, event.CommandInfo[event.UserEvent]{
			Event:           *op.User,
			ExpectedVersion: op.ExpectedVersion,
		})
	default:
		return queue.Abandon(fmt.Errorf("unknown command target %q", op.Target))
	}

	if err != nil {
		if apperror.IsConcurrency(err) {
			return queue.Abandon(err)
		}
		return queue.Delay(err)
	}
	return nil
}
