package attention

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
	api "k8s.io/examples/AI/attnsim/api/v1alpha1"
)

func ToDense(m *api.Matrix) (*mat.Dense, error) {
	rows, cols := int(m.GetRows()), int(m.GetCols())
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid shape (%d,%d)", rows, cols)
	}
	if n := len(m.GetValues()); n != rows*cols {
		return nil, fmt.Errorf("shape (%d,%d) needs %d values, got %d", rows, cols, rows*cols, n)
	}
	return mat.NewDense(rows, cols, slices.Clone(m.GetValues())), nil
}

func FromDense(m mat.Matrix) *api.Matrix {
	d := mat.DenseCopyOf(m)
	rows, cols := d.Dims()
	return &api.Matrix{
		Rows:   int32(rows),
		Cols:   int32(cols),
		Values: d.RawMatrix().Data,
	}
}

func toDenseList(what string, matrices []*api.Matrix) ([]*mat.Dense, error) {
	if matrices == nil {
		return nil, nil
	}
	out := make([]*mat.Dense, len(matrices))
	for i, m := range matrices {
		d, err := ToDense(m)
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", what, i, err)
		}
		out[i] = d
	}
	return out, nil
}

func fromDenseList(matrices []*mat.Dense) []*api.Matrix {
	out := make([]*api.Matrix, len(matrices))
	for i, m := range matrices {
		out[i] = FromDense(m)
	}
	return out
}
