package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return e.Kind + " not found: " + e.ID
}

// IsNotFound reports whether err is an ErrNotFound of any kind.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// DuplicateItemError is returned when a user already tracks a source with an
// active recall item. It carries the existing item id so callers can redirect
// instead of retrying.
type DuplicateItemError struct {
	ExistingID string
}

func (e DuplicateItemError) Error() string {
	return fmt.Sprintf("source already tracked by active item %s", e.ExistingID)
}

// ErrStaleUpdate is returned by UpdateStrength when the stored review count
// no longer matches the expected value, meaning a concurrent review won.
var ErrStaleUpdate = errors.New("scheduling state changed concurrently")

// ErrNotSuggested is returned when accepting or dismissing an item that is
// not in the suggested state.
var ErrNotSuggested = errors.New("item is not in suggested state")
