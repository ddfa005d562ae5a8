package arengo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/arengo/internal/arena"
)

var (
	// ErrClosed is returned by operations on a closed Runtime.
	ErrClosed = errors.New("arengo: runtime closed")

	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("arengo: invalid allocation size")

	// ErrNotAncestor is returned when a promotion targets an arena that
	// is not a proper ancestor of the handle's owner.
	ErrNotAncestor = errors.New("arengo: promotion target is not an ancestor")
)

// ErrAllocFailed indicates that backing memory for an allocation could not
// be acquired, typically because the configured memory limit is exhausted.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrAllocFailed struct {
	Size  int
	cause error
}

func (e *ErrAllocFailed) Error() string {
	return fmt.Sprintf("allocation of %d bytes failed", e.Size)
}

func (e *ErrAllocFailed) Unwrap() error { return e.cause }

func translateError(err error, size int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, arena.ErrInvalidSize) {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if errors.Is(err, arena.ErrNotAncestor) {
		return fmt.Errorf("%w: %w", ErrNotAncestor, err)
	}
	if errors.Is(err, arena.ErrMapFailed) {
		// The host refused to map more memory. Managed code cannot
		// recover from this, unlike a governor limit.
		panic(err)
	}
	return &ErrAllocFailed{Size: size, cause: err}
}
