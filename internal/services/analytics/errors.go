package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// ErrorKind classifies failures surfaced to callers.
type ErrorKind string

const (
	KindInvalidTimeframe  ErrorKind = "invalid_timeframe"
	KindInvalidPagination ErrorKind = "invalid_pagination"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindNotFound          ErrorKind = "not_found"
)

// Error is the structured failure returned by every operation.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidTimeframe  = &Error{Kind: KindInvalidTimeframe}
	ErrInvalidPagination = &Error{Kind: KindInvalidPagination}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// classify maps a failure from the store fan-out onto the public taxonomy.
// Cancellation by the caller is returned untouched; anything else the store
// reports, including its own deadlines, becomes store_unavailable.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, recordstore.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: "record not found", Err: err}
	}
	return &Error{Kind: KindStoreUnavailable, Message: "record store unavailable", Err: err}
}
