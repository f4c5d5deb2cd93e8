package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kernels never mutate their inputs; flush relies on that to stage results.

func matMul(a, b *mat.Dense) (*mat.Dense, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ca != rb {
		return nil, fmt.Errorf("%w in MatMul: (%d,%d) x (%d,%d)", ErrShapeMismatch, ra, ca, rb, cb)
	}
	var c mat.Dense
	c.Mul(a, b)
	return &c, nil
}

func transpose(a *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(a.T())
}

func zeros(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

func exp(a *mat.Dense) *mat.Dense {
	var c mat.Dense
	c.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, a)
	return &c
}

func rowSum(a *mat.Dense) *mat.Dense {
	r, _ := a.Dims()
	c := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		c.Set(i, 0, floats.Sum(a.RawRowView(i)))
	}
	return c
}

func rowMax(a *mat.Dense) *mat.Dense {
	r, _ := a.Dims()
	c := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		c.Set(i, 0, floats.Max(a.RawRowView(i)))
	}
	return c
}

func add(a, b *mat.Dense) (*mat.Dense, error) {
	if err := sameShape("Add", a, b); err != nil {
		return nil, err
	}
	var c mat.Dense
	c.Add(a, b)
	return &c, nil
}

func maximum(a, b *mat.Dense) (*mat.Dense, error) {
	if err := sameShape("Max", a, b); err != nil {
		return nil, err
	}
	var c mat.Dense
	c.Apply(func(i, j int, v float64) float64 { return math.Max(v, b.At(i, j)) }, a)
	return &c, nil
}

// div divides a by b, where b is either a's shape or a [rows,1] column
// broadcast across a's columns.
func div(a, b *mat.Dense) (*mat.Dense, error) {
	return broadcast("Div", a, b, func(x, y float64) float64 { return x / y })
}

func sub(a, b *mat.Dense) (*mat.Dense, error) {
	return broadcast("Sub", a, b, func(x, y float64) float64 { return x - y })
}

func broadcast(op string, a, b *mat.Dense, fn func(x, y float64) float64) (*mat.Dense, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || (cb != 1 && cb != ca) {
		return nil, fmt.Errorf("%w in %s: (%d,%d) by (%d,%d)", ErrShapeMismatch, op, ra, ca, rb, cb)
	}
	var c mat.Dense
	c.Apply(func(i, j int, v float64) float64 {
		if cb == 1 {
			return fn(v, b.At(i, 0))
		}
		return fn(v, b.At(i, j))
	}, a)
	return &c, nil
}

func concatRows(a, b *mat.Dense) (*mat.Dense, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ca != cb {
		return nil, fmt.Errorf("%w in ConcatRows: (%d,%d) over (%d,%d)", ErrShapeMismatch, ra, ca, rb, cb)
	}
	var c mat.Dense
	c.Stack(a, b)
	return &c, nil
}

func sameShape(op string, a, b *mat.Dense) error {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		return fmt.Errorf("%w in %s: (%d,%d) vs (%d,%d)", ErrShapeMismatch, op, ra, ca, rb, cb)
	}
	return nil
}

func checkFinite(op Op, m *mat.Dense) error {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i)[:c] {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				return fmt.Errorf("%w: %v produced %v at (%d,%d)", ErrNumericOverflow, op, v, i, j)
			}
		}
	}
	return nil
}
