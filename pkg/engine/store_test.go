package engine

import (
	"errors"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestStoreAllocate(t *testing.T) {
	store := NewStore(0)

	h, err := store.Allocate("query_0")
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	location, err := store.Location(h)
	if err != nil {
		t.Fatalf("failed to get location: %v", err)
	}
	if location != Unplaced {
		t.Errorf("expected new tensor to be %v, got %v", Unplaced, location)
	}
	if _, _, err := store.Shape(h); !errors.Is(err, ErrUndefined) {
		t.Errorf("expected shape of new tensor to be undefined, got %v", err)
	}

	if _, err := store.Allocate("query_0"); !errors.Is(err, ErrAllocation) {
		t.Errorf("expected name collision to fail with ErrAllocation, got %v", err)
	}
	if store.Live() != 1 {
		t.Errorf("expected 1 live tensor, got %d", store.Live())
	}
}

func TestStoreCapacity(t *testing.T) {
	store := NewStore(2)

	a, err := store.Allocate("a")
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if _, err := store.Allocate("b"); err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if _, err := store.Allocate("c"); !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected exhausted store to fail with ErrAllocation, got %v", err)
	}

	if err := store.Release(a); err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if _, err := store.Allocate("c"); err != nil {
		t.Fatalf("expected allocation after release to succeed, got %v", err)
	}
	if store.Peak() != 2 {
		t.Errorf("expected peak 2, got %d", store.Peak())
	}
}

func TestStoreRelease(t *testing.T) {
	store := NewStore(0)

	old, err := store.Allocate("scores_0")
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if err := store.Release(old); err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if err := store.Release(old); !errors.Is(err, ErrDoubleRelease) {
		t.Errorf("expected ErrDoubleRelease, got %v", err)
	}

	// The slot is reused, but the old handle must not see the new tensor.
	reused, err := store.Allocate("scores_0")
	if err != nil {
		t.Fatalf("failed to reallocate released name: %v", err)
	}
	if reused.slot != old.slot {
		t.Fatalf("expected slot %d to be reused, got %d", old.slot, reused.slot)
	}
	if _, err := store.Name(old); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected ErrStaleHandle for released handle, got %v", err)
	}
	if err := store.Release(old); !errors.Is(err, ErrDoubleRelease) {
		t.Errorf("expected ErrDoubleRelease for released handle, got %v", err)
	}
	if err := store.Release(Handle{}); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected ErrStaleHandle for zero handle, got %v", err)
	}
	if name, err := store.Name(reused); err != nil || name != "scores_0" {
		t.Errorf("expected reused handle to be named scores_0, got %q (%v)", name, err)
	}
}

func TestStoreLoad(t *testing.T) {
	store := NewStore(0)

	h, err := store.Allocate("key_0")
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if err := store.Load(h, mat.NewDense(1, 2, []float64{1, 2}), Unplaced); !errors.Is(err, ErrLocation) {
		t.Errorf("expected loading as Unplaced to fail, got %v", err)
	}
	if err := store.Load(h, mat.NewDense(1, 2, []float64{1, 2}), SlowMemory); err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	data, err := store.Data(h)
	if err != nil {
		t.Fatalf("failed to read data: %v", err)
	}
	data.Set(0, 0, 42)
	again, _ := store.Data(h)
	if again.At(0, 0) != 1 {
		t.Errorf("expected Data to return a copy, store now holds %v", again.At(0, 0))
	}

	if got := store.LiveNames(); !slices.Equal(got, []string{"key_0"}) {
		t.Errorf("unexpected live names %v", got)
	}
}
