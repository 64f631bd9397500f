package apperror

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the public error class. Every error leaving a service layer maps
// to exactly one of these; HTTP turns them into 409/408/500 respectively.
type Kind int

const (
	KindInternal Kind = iota
	KindConcurrency
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConcurrency:
		return "concurrency"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error attaches a Kind to an underlying cause. Wrapping layers add context
// with fmt.Errorf("...: %w", err) and the class survives unwrapping.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Concurrency marks an optimistic-version mismatch.
func Concurrency(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindConcurrency, err: err}
}

// Timeout marks a pool-acquisition or deadline failure.
func Timeout(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindTimeout, err: err}
}

// Internal marks everything else explicitly; unclassified errors are
// Internal by default anyway.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindInternal, err: err}
}

// KindOf resolves the class of an error chain. Context deadline errors
// count as Timeout even when nothing tagged them.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

func IsConcurrency(err error) bool {
	return KindOf(err) == KindConcurrency
}

func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}
