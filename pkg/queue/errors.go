package queue

import (
	"errors"
	"fmt"
)

// Handler errors steer the retry decision. Delay keeps the message pending so
// a worker picks it up again after the retry delay; Abandon dead-letters it
// immediately regardless of the remaining retry budget. A plain error is
// treated like Delay.

type delayError struct{ err error }

func (e *delayError) Error() string { return fmt.Sprintf("delayed: %v", e.err) }
func (e *delayError) Unwrap() error { return e.err }

type abandonError struct{ err error }

func (e *abandonError) Error() string { return fmt.Sprintf("abandoned: %v", e.err) }
func (e *abandonError) Unwrap() error { return e.err }

// Delay marks a handler failure as transient; the message stays pending and
// is retried while the budget allows.
func Delay(err error) error {
	if err == nil {
		return nil
	}
	return &delayError{err: err}
}

// Abandon marks a handler failure as permanent; the message is moved to the
// failed hash without further retries.
func Abandon(err error) error {
	if err == nil {
		return nil
	}
	return &abandonError{err: err}
}

func isAbandon(err error) bool {
	var ae *abandonError
	return errors.As(err, &ae)
}
