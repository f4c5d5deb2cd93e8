package engine

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Scope tracks the temporaries of one sequence position so that all of them
// are released exactly once before the next position begins.
type Scope struct {
	sim      *Simulator
	position int

	live   []Handle
	queued []Handle
}

func NewScope(sim *Simulator, position int) *Scope {
	return &Scope{
		sim:      sim,
		position: position,
	}
}

// Allocate allocates a tensor named base_position[_index...].
func (s *Scope) Allocate(base string, indices ...int) (Handle, error) {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("_")
	b.WriteString(strconv.Itoa(s.position))
	for _, index := range indices {
		b.WriteString("_")
		b.WriteString(strconv.Itoa(index))
	}

	h, err := s.sim.store.Allocate(b.String())
	if err != nil {
		return Handle{}, err
	}
	s.live = append(s.live, h)
	return h, nil
}

// Adopt makes the scope responsible for releasing a tensor it did not allocate.
func (s *Scope) Adopt(h Handle) {
	s.live = append(s.live, h)
}

// Release queues the release of h; it takes effect at the next flush.
func (s *Scope) Release(h Handle) {
	s.sim.Release(h)
	if i := slices.Index(s.live, h); i >= 0 {
		s.live = slices.Delete(s.live, i, i+1)
		s.queued = append(s.queued, h)
	}
}

// Live is the number of tensors the scope still has to release.
func (s *Scope) Live() int {
	return len(s.live)
}

// Close releases every remaining tensor immediately. The queue must have been
// flushed, since queued instructions may still reference those tensors.
func (s *Scope) Close() error {
	if n := s.sim.Pending(); n > 0 {
		return fmt.Errorf("closing scope for position %d with %d unflushed instructions", s.position, n)
	}
	var errs []error
	for i := len(s.live) - 1; i >= 0; i-- {
		if err := s.sim.store.Release(s.live[i]); err != nil {
			errs = append(errs, err)
		}
	}
	s.live, s.queued = nil, nil
	return errors.Join(errs...)
}

// Abort discards the simulator's pending instructions and releases every
// tensor of the scope, including those whose queued release never executed.
// It leaves the store as it was before the position started.
func (s *Scope) Abort() error {
	s.sim.Discard()

	var errs []error
	all := slices.Concat(s.queued, s.live)
	for i := len(all) - 1; i >= 0; i-- {
		if _, err := s.sim.store.lookup(all[i]); err != nil {
			continue
		}
		if err := s.sim.store.Release(all[i]); err != nil {
			errs = append(errs, err)
		}
	}
	s.live, s.queued = nil, nil
	return errors.Join(errs...)
}
