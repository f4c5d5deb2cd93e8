package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAllocation          = errors.New("allocation failed")
	ErrDoubleRelease       = errors.New("tensor released twice")
	ErrStaleHandle         = errors.New("stale tensor handle")
	ErrLocation            = errors.New("tensor in wrong memory location")
	ErrUndefined           = errors.New("tensor contents undefined")
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrNumericOverflow     = errors.New("numeric overflow")
	ErrFastMemoryExhausted = errors.New("fast memory exhausted")
)

// SimulationError reports the queued instruction that failed a flush.
type SimulationError struct {
	// Index is the position of the instruction in the flushed queue.
	Index    int
	Op       Op
	Operands []string
	Err      error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("instruction %d (%v %s): %v", e.Index, e.Op, strings.Join(e.Operands, ", "), e.Err)
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}
