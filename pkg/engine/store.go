package engine

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Store owns the storage of every tensor, from Allocate to Release.
// Slots are reused after release; each release bumps the slot generation
// so that handles to the previous occupant are detected.
type Store struct {
	capacity int

	slots []slot
	free  []int32
	names map[string]int32

	live int
	peak int
}

type slot struct {
	name     string
	gen      uint32
	live     bool
	location Location
	data     *mat.Dense
}

// NewStore builds a store holding at most capacity live tensors; 0 means unlimited.
func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		names:    make(map[string]int32),
	}
}

func (s *Store) Allocate(name string) (Handle, error) {
	if _, found := s.names[name]; found {
		return Handle{}, fmt.Errorf("%w: tensor %q is already live", ErrAllocation, name)
	}
	if s.capacity > 0 && s.live >= s.capacity {
		return Handle{}, fmt.Errorf("%w: store exhausted allocating %q (capacity %d)", ErrAllocation, name, s.capacity)
	}

	var index int32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{gen: 1})
		index = int32(len(s.slots) - 1)
	}

	sl := &s.slots[index]
	sl.name = name
	sl.live = true
	sl.location = Unplaced
	sl.data = nil

	s.names[name] = index
	s.live++
	if s.live > s.peak {
		s.peak = s.live
	}
	return Handle{slot: index, gen: sl.gen}, nil
}

func (s *Store) Release(h Handle) error {
	if err := s.checkRelease(h); err != nil {
		return err
	}
	s.release(h.slot)
	return nil
}

func (s *Store) checkRelease(h Handle) error {
	if h.IsZero() || h.slot < 0 || int(h.slot) >= len(s.slots) {
		return fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	sl := &s.slots[h.slot]
	switch {
	case h.gen < sl.gen:
		return fmt.Errorf("%w: %v", ErrDoubleRelease, h)
	case h.gen > sl.gen || !sl.live:
		return fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	return nil
}

func (s *Store) release(index int32) {
	sl := &s.slots[index]
	delete(s.names, sl.name)
	sl.live = false
	sl.location = Unplaced
	sl.data = nil
	sl.gen++
	s.free = append(s.free, index)
	s.live--
}

func (s *Store) lookup(h Handle) (*slot, error) {
	if h.IsZero() || h.slot < 0 || int(h.slot) >= len(s.slots) {
		return nil, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	sl := &s.slots[h.slot]
	if sl.gen != h.gen || !sl.live {
		return nil, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	return sl, nil
}

func (s *Store) Name(h Handle) (string, error) {
	sl, err := s.lookup(h)
	if err != nil {
		return "", err
	}
	return sl.name, nil
}

func (s *Store) Location(h Handle) (Location, error) {
	sl, err := s.lookup(h)
	if err != nil {
		return Unplaced, err
	}
	return sl.location, nil
}

// Shape returns the dimensions of h, or ErrUndefined before its first write.
func (s *Store) Shape(h Handle) (int, int, error) {
	sl, err := s.lookup(h)
	if err != nil {
		return 0, 0, err
	}
	if sl.data == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrUndefined, sl.name)
	}
	r, c := sl.data.Dims()
	return r, c, nil
}

// Data returns a copy of the contents of h.
func (s *Store) Data(h Handle) (*mat.Dense, error) {
	sl, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	if sl.data == nil {
		return nil, fmt.Errorf("%w: %q", ErrUndefined, sl.name)
	}
	return mat.DenseCopyOf(sl.data), nil
}

// Load places m at location without going through an instruction queue.
// It is how externally supplied tensors (queries, keys, values) enter the store.
func (s *Store) Load(h Handle, m mat.Matrix, location Location) error {
	sl, err := s.lookup(h)
	if err != nil {
		return err
	}
	if location == Unplaced {
		return fmt.Errorf("%w: cannot load %q as %v", ErrLocation, sl.name, location)
	}
	sl.data = mat.DenseCopyOf(m)
	sl.location = location
	return nil
}

func (s *Store) Live() int {
	return s.live
}

// Peak is the largest number of simultaneously live tensors seen.
func (s *Store) Peak() int {
	return s.peak
}

func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) LiveNames() []string {
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) fastElements() int {
	n := 0
	for i := range s.slots {
		n += elements(s.slots[i].live, s.slots[i].location, s.slots[i].data)
	}
	return n
}

func elements(live bool, location Location, data *mat.Dense) int {
	if !live || location != FastMemory || data == nil {
		return 0
	}
	r, c := data.Dims()
	return r * c
}
