package rater

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
	"k8s.io/examples/AI/attnsim/pkg/engine"
)

func newRater(t *testing.T, store *engine.Store) *Rater {
	t.Helper()
	keys := []*mat.Dense{mat.NewDense(1, 2, []float64{1, 0})}
	values := []*mat.Dense{mat.NewDense(1, 3, []float64{1, 2, 3})}
	queries := []*mat.Dense{mat.NewDense(1, 2, []float64{0, 1})}
	expected := []*mat.Dense{mat.NewDense(1, 3, []float64{1, 2, 3})}

	r, err := New(store, keys, values, queries, expected)
	if err != nil {
		t.Fatalf("failed to create rater: %v", err)
	}
	return r
}

func TestQueries(t *testing.T) {
	store := engine.NewStore(0)
	r := newRater(t, store)

	if _, err := r.GetNextQuery(); err != nil {
		t.Fatalf("failed to get query: %v", err)
	}
	if _, err := r.GetNextQuery(); !errors.Is(err, ErrNoMoreQueries) {
		t.Errorf("expected ErrNoMoreQueries, got %v", err)
	}
	if got := store.LiveNames(); strings.Join(got, ",") != "key_0,query_0,value_0" {
		t.Errorf("unexpected live tensors %v", got)
	}
}

func TestCommitAnswer(t *testing.T) {
	store := engine.NewStore(0)
	r := newRater(t, store)

	answer, err := store.Allocate("answer")
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if err := store.Load(answer, mat.NewDense(1, 3, []float64{1, 2, 3}), engine.SlowMemory); err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if err := r.CommitAnswer(answer); !errors.Is(err, ErrUnexpectedCommit) {
		t.Fatalf("expected commit before query to fail, got %v", err)
	}

	if _, err := r.GetNextQuery(); err != nil {
		t.Fatalf("failed to get query: %v", err)
	}

	inFast, _ := store.Allocate("in_fast")
	_ = store.Load(inFast, mat.NewDense(1, 3, []float64{1, 2, 3}), engine.FastMemory)
	if err := r.CommitAnswer(inFast); !errors.Is(err, ErrBadAnswer) {
		t.Errorf("expected answer in fast memory to be rejected, got %v", err)
	}

	wrongShape, _ := store.Allocate("wrong_shape")
	_ = store.Load(wrongShape, mat.NewDense(1, 2, []float64{1, 2}), engine.SlowMemory)
	if err := r.CommitAnswer(wrongShape); !errors.Is(err, ErrBadAnswer) {
		t.Errorf("expected answer with wrong shape to be rejected, got %v", err)
	}

	if err := r.CommitAnswer(answer); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if err := r.Verify(); err != nil {
		t.Errorf("expected answer to verify: %v", err)
	}
	if r.Passed() != 1 {
		t.Errorf("expected 1 position passed, got %d", r.Passed())
	}

	var report bytes.Buffer
	if err := r.PrintResult(&report, engine.Stats{Flushes: 1}); err != nil {
		t.Fatalf("failed to print result: %v", err)
	}
	if !strings.Contains(report.String(), "passed 1/1 positions") {
		t.Errorf("unexpected report:\n%s", report.String())
	}

	if err := r.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if got := store.LiveNames(); strings.Join(got, ",") != "answer,in_fast,query_0,wrong_shape" {
		t.Errorf("expected keys and values released, live tensors are %v", got)
	}
}

func TestVerifyDetectsWrongAnswer(t *testing.T) {
	store := engine.NewStore(0)
	r := newRater(t, store)
	if _, err := r.GetNextQuery(); err != nil {
		t.Fatalf("failed to get query: %v", err)
	}

	answer, _ := store.Allocate("answer")
	_ = store.Load(answer, mat.NewDense(1, 3, []float64{1, 2, 3.1}), engine.SlowMemory)
	if err := r.CommitAnswer(answer); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if err := r.Verify(); !errors.Is(err, ErrBadAnswer) {
		t.Errorf("expected ErrBadAnswer, got %v", err)
	}
	if r.Passed() != 0 {
		t.Errorf("expected no position passed, got %d", r.Passed())
	}
}

func TestNewRejectsMisshapedExpected(t *testing.T) {
	keys := []*mat.Dense{mat.NewDense(1, 2, []float64{1, 0})}
	values := []*mat.Dense{mat.NewDense(1, 2, []float64{1, 2})}
	queries := []*mat.Dense{mat.NewDense(1, 2, []float64{0, 1})}

	grid := []struct {
		name     string
		expected *mat.Dense
	}{
		{name: "extra row", expected: mat.NewDense(2, 2, []float64{1, 2, 3, 4})},
		{name: "extra column", expected: mat.NewDense(1, 3, []float64{1, 2, 3})},
		{name: "missing column", expected: mat.NewDense(1, 1, []float64{1})},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			store := engine.NewStore(0)
			if _, err := New(store, keys, values, queries, []*mat.Dense{g.expected}); err == nil {
				t.Fatalf("expected mis-shaped expected answer to be rejected")
			}
			if store.Live() != 0 {
				t.Errorf("expected nothing loaded, live tensors %v", store.LiveNames())
			}
		})
	}
}
