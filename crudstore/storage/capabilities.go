package storage

import "github.com/cockroachdb/errors"

type Capabilities struct {
	// Regex reports whether OpRegex predicates can be executed.
	Regex bool
	// Transactions reports whether Atomic spans every statement of fn.
	// Without it, a failed fn is undone by compensating writes.
	Transactions bool
}

var (
	// ErrUnreachable marks connection level failures.
	ErrUnreachable = errors.New("storage unreachable")
	// ErrUnsupported marks predicates or options a backend cannot execute.
	ErrUnsupported = errors.New("unsupported by backend")
	// ErrDuplicate marks writes rejected by the primary key or a unique index.
	ErrDuplicate = errors.New("duplicate key violation")
)

// DuplicateError names the columns of the key or unique index a write
// collided with. Columns is empty when the backend did not report them.
type DuplicateError struct {
	Collection string
	Columns    []string
	cause      error
}

func (e *DuplicateError) Error() string { return e.cause.Error() }

func (e *DuplicateError) Unwrap() error { return e.cause }

// Duplicate marks err as a key violation on columns of collection.
func Duplicate(err error, collection string, columns ...string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(&DuplicateError{Collection: collection, Columns: columns, cause: err}, ErrDuplicate)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// Unreachable marks err so that errors.Is(err, ErrUnreachable) holds.
func Unreachable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrUnreachable)
}

func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
