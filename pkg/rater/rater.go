// Package rater supplies queries, keys and values to the attention engine,
// collects the answer committed for every position and grades the answers.
package rater

import (
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
	"k8s.io/examples/AI/attnsim/pkg/engine"
)

var (
	ErrNoMoreQueries    = errors.New("no more queries")
	ErrUnexpectedCommit = errors.New("unexpected commit")
	ErrBadAnswer        = errors.New("bad answer")
)

// DefaultTolerance is the relative tolerance used when grading answers.
const DefaultTolerance = 1e-5

type Rater struct {
	store *engine.Store

	keys      []engine.Handle
	values    []engine.Handle
	valueCols int

	queries  []*mat.Dense
	expected []*mat.Dense
	answers  []*mat.Dense
	issued   int

	Tolerance float64
}

// New loads keys and values into slow memory. expected may be nil, in which
// case answers are collected but not graded.
func New(store *engine.Store, keys, values, queries, expected []*mat.Dense) (*Rater, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%d keys but %d values", len(keys), len(values))
	}
	if len(queries) != len(keys) {
		return nil, fmt.Errorf("%d queries for %d positions", len(queries), len(keys))
	}
	if expected != nil && len(expected) != len(queries) {
		return nil, fmt.Errorf("%d expected answers for %d positions", len(expected), len(queries))
	}

	r := &Rater{
		store:     store,
		queries:   queries,
		expected:  expected,
		Tolerance: DefaultTolerance,
	}
	for j := range values {
		_, cols := values[j].Dims()
		if j == 0 {
			r.valueCols = cols
		} else if cols != r.valueCols {
			return nil, fmt.Errorf("value %d has %d columns, want %d", j, cols, r.valueCols)
		}
	}
	for i := range expected {
		rows, cols := expected[i].Dims()
		wantRows, _ := queries[i].Dims()
		if rows != wantRows || cols != r.valueCols {
			return nil, fmt.Errorf("expected answer %d has shape (%d,%d), want (%d,%d)", i, rows, cols, wantRows, r.valueCols)
		}
	}

	for j := range keys {
		key, err := r.load(fmt.Sprintf("key_%d", j), keys[j])
		if err != nil {
			return nil, err
		}
		r.keys = append(r.keys, key)

		value, err := r.load(fmt.Sprintf("value_%d", j), values[j])
		if err != nil {
			return nil, err
		}
		r.values = append(r.values, value)
	}
	return r, nil
}

func (r *Rater) load(name string, m *mat.Dense) (engine.Handle, error) {
	h, err := r.store.Allocate(name)
	if err != nil {
		return engine.Handle{}, fmt.Errorf("allocating %s: %w", name, err)
	}
	if err := r.store.Load(h, m, engine.SlowMemory); err != nil {
		return engine.Handle{}, fmt.Errorf("loading %s: %w", name, err)
	}
	return h, nil
}

func (r *Rater) Keys() []engine.Handle {
	return r.keys
}

func (r *Rater) Values() []engine.Handle {
	return r.values
}

// GetNextQuery places the next query in slow memory. The caller owns the
// returned tensor and must release it.
func (r *Rater) GetNextQuery() (engine.Handle, error) {
	if r.issued >= len(r.queries) {
		return engine.Handle{}, fmt.Errorf("%w: all %d queries issued", ErrNoMoreQueries, len(r.queries))
	}
	h, err := r.load(fmt.Sprintf("query_%d", r.issued), r.queries[r.issued])
	if err != nil {
		return engine.Handle{}, err
	}
	r.issued++
	return h, nil
}

// CommitAnswer records the answer for the oldest position without one. The
// tensor must be in slow memory and have the query's rows and the values'
// columns. Its contents are copied; the caller still releases it.
func (r *Rater) CommitAnswer(h engine.Handle) error {
	position := len(r.answers)
	if position >= r.issued {
		return fmt.Errorf("%w: position %d has no query issued", ErrUnexpectedCommit, position)
	}

	location, err := r.store.Location(h)
	if err != nil {
		return err
	}
	if location != engine.SlowMemory {
		return fmt.Errorf("%w: answer for position %d is in %v, want %v", ErrBadAnswer, position, location, engine.SlowMemory)
	}

	rows, cols, err := r.store.Shape(h)
	if err != nil {
		return err
	}
	wantRows, _ := r.queries[position].Dims()
	if rows != wantRows || cols != r.valueCols {
		return fmt.Errorf("%w: answer for position %d has shape (%d,%d), want (%d,%d)", ErrBadAnswer, position, rows, cols, wantRows, r.valueCols)
	}

	data, err := r.store.Data(h)
	if err != nil {
		return err
	}
	r.answers = append(r.answers, data)
	return nil
}

func (r *Rater) Answers() []*mat.Dense {
	return r.answers
}

// Done reports whether every position has a committed answer.
func (r *Rater) Done() bool {
	return len(r.answers) == len(r.queries)
}

// MaxError is the largest relative error of the answer at position.
func (r *Rater) MaxError(position int) float64 {
	got, want := r.answers[position], r.expected[position]
	rows, cols := want.Dims()
	worst := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			w := want.At(i, j)
			diff := math.Abs(got.At(i, j)-w) / math.Max(1, math.Abs(w))
			if math.IsNaN(diff) {
				return math.Inf(1)
			}
			worst = math.Max(worst, diff)
		}
	}
	return worst
}

// Verify checks that every position is committed and, when expected answers
// were given, within Tolerance of them.
func (r *Rater) Verify() error {
	if !r.Done() {
		return fmt.Errorf("%w: %d of %d positions committed", ErrBadAnswer, len(r.answers), len(r.queries))
	}
	if r.expected == nil {
		return nil
	}
	for i := range r.answers {
		if e := r.MaxError(i); e > r.Tolerance {
			return fmt.Errorf("%w: position %d is off by %g (tolerance %g)", ErrBadAnswer, i, e, r.Tolerance)
		}
	}
	return nil
}

// Passed counts the committed positions within Tolerance, or returns -1 when
// there are no expected answers.
func (r *Rater) Passed() int {
	if r.expected == nil {
		return -1
	}
	passed := 0
	for i := range r.answers {
		if r.MaxError(i) <= r.Tolerance {
			passed++
		}
	}
	return passed
}

// PrintResult writes a report of the committed answers and the simulator statistics.
func (r *Rater) PrintResult(w io.Writer, stats engine.Stats) error {
	passed := 0
	for i := range r.answers {
		if r.expected == nil {
			if _, err := fmt.Fprintf(w, "position %d: committed\n", i); err != nil {
				return err
			}
			continue
		}
		e := r.MaxError(i)
		verdict := "ok"
		if e <= r.Tolerance {
			passed++
		} else {
			verdict = "WRONG"
		}
		if _, err := fmt.Fprintf(w, "position %d: max relative error %.3g %s\n", i, e, verdict); err != nil {
			return err
		}
	}

	if r.expected != nil {
		if _, err := fmt.Fprintf(w, "passed %d/%d positions (tolerance %g)\n", passed, len(r.queries), r.Tolerance); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "committed %d/%d positions (ungraded)\n", len(r.answers), len(r.queries)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "simulator: %d flushes, %d instructions, peak %d live tensors, peak %d fast memory elements\n",
		stats.Flushes, stats.Instructions, r.store.Peak(), stats.PeakFastElements)
	return err
}

// Close releases the keys and values.
func (r *Rater) Close() error {
	var errs []error
	for _, h := range append(r.keys, r.values...) {
		if err := r.store.Release(h); err != nil {
			errs = append(errs, err)
		}
	}
	r.keys, r.values = nil, nil
	return errors.Join(errs...)
}
