package engine

import "fmt"

// Location is the memory tier a tensor currently lives in.
type Location int

const (
	Unplaced Location = iota
	FastMemory
	SlowMemory
)

func (l Location) String() string {
	switch l {
	case Unplaced:
		return "Unplaced"
	case FastMemory:
		return "FastMemory"
	case SlowMemory:
		return "SlowMemory"
	default:
		return fmt.Sprintf("Location(%d)", int(l))
	}
}

// Handle is a non-owning reference to a tensor in a Store.
// The generation detects use after release; the zero Handle is never valid.
type Handle struct {
	slot int32
	gen  uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.slot, h.gen)
}

func (h Handle) IsZero() bool {
	return h.gen == 0
}
