package engine

import (
	"context"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestScopeNamesAndRelease(t *testing.T) {
	ctx := context.Background()
	store := NewStore(0)
	sim := NewSimulator(store, Options{})

	query, err := store.Allocate("query_3")
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if err := store.Load(query, mat.NewDense(1, 2, []float64{1, 2}), SlowMemory); err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	scope := NewScope(sim, 3)
	scope.Adopt(query)

	a, err := scope.Allocate("qk_result", 1)
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	b, err := scope.Allocate("attention_result")
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if got := store.LiveNames(); !slices.Equal(got, []string{"attention_result_3", "qk_result_3_1", "query_3"}) {
		t.Fatalf("unexpected live names %v", got)
	}

	sim.Copy(query, a, FastMemory)
	sim.Copy(a, b, FastMemory)
	scope.Release(a)
	if scope.Live() != 2 {
		t.Errorf("expected 2 tensors left in scope, got %d", scope.Live())
	}

	if err := scope.Close(); err == nil {
		t.Fatalf("expected Close with pending instructions to fail")
	}
	if err := sim.Flush(ctx, false); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if err := scope.Close(); err != nil {
		t.Fatalf("failed to close scope: %v", err)
	}
	if store.Live() != 0 {
		t.Errorf("expected no live tensors after Close, got %v", store.LiveNames())
	}
}

func TestScopeAbort(t *testing.T) {
	ctx := context.Background()
	store := NewStore(0)
	sim := NewSimulator(store, Options{})

	key, _ := store.Allocate("key_0")
	if err := store.Load(key, mat.NewDense(1, 2, []float64{1, 2}), SlowMemory); err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	query, _ := store.Allocate("query_0")
	if err := store.Load(query, mat.NewDense(1, 2, []float64{3, 4}), SlowMemory); err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	scope := NewScope(sim, 0)
	scope.Adopt(query)
	staged, err := scope.Allocate("k_transposed", 0)
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	result, err := scope.Allocate("qk_result", 0)
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	sim.MoveToFast(query)
	sim.Copy(key, staged, FastMemory)
	sim.MatMul(query, staged, result)
	scope.Release(staged)

	if err := scope.Abort(); err != nil {
		t.Fatalf("failed to abort: %v", err)
	}
	if sim.Pending() != 0 {
		t.Errorf("expected pending instructions discarded, got %d", sim.Pending())
	}
	if got := store.LiveNames(); !slices.Equal(got, []string{"key_0"}) {
		t.Errorf("expected only key_0 live, got %v", got)
	}

	if err := sim.Flush(ctx, false); err != nil {
		t.Fatalf("expected empty flush to succeed: %v", err)
	}
	if loc, _ := store.Location(key); loc != SlowMemory {
		t.Errorf("expected key untouched in %v, got %v", SlowMemory, loc)
	}
}
