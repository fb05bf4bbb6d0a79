package timeline

import (
	"errors"
)

// Error kinds returned by store and edit operations.
var (
	ErrPolicyViolation  = errors.New("policy violation")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrClipNotFound     = errors.New("clip not found")
	// ErrStale marks a command that referenced state which no longer exists.
	// Callers treat it as a no-op.
	ErrStale = errors.New("stale reference")
)

// EditError carries a user-facing message alongside its kind.
type EditError struct {
	Kind    error
	Op      string
	Message string
}

func (e *EditError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *EditError) Unwrap() error {
	return e.Kind
}

func policyError(op, msg string) error {
	return &EditError{Kind: ErrPolicyViolation, Op: op, Message: msg}
}

func invalidOp(op, msg string) error {
	return &EditError{Kind: ErrInvalidOperation, Op: op, Message: msg}
}

func notFound(op, id string) error {
	return &EditError{Kind: ErrClipNotFound, Op: op, Message: "clip " + id + " not found"}
}

// InvalidOperation builds an ErrInvalidOperation for callers outside the
// package, such as session commands that need a selection.
func InvalidOperation(op, msg string) error {
	return invalidOp(op, msg)
}

// Stale builds an ErrStale error.
func Stale(op, msg string) error {
	return &EditError{Kind: ErrStale, Op: op, Message: msg}
}

// UserMessage returns the message meant for display, falling back to the
// error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var editErr *EditError
	if errors.As(err, &editErr) {
		return editErr.Message
	}
	return err.Error()
}

// IsStale reports whether err came from a reference that no longer resolves.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale) || errors.Is(err, ErrClipNotFound)
}
