package attention

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Reference computes causal attention directly, with a stabilized joint
// softmax over positions 0..i for every query i. It does not use the
// simulator and is the ground truth the strategies are checked against.
func Reference(queries, keys, values []*mat.Dense) ([]*mat.Dense, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: %d keys but %d values", ErrPrecondition, len(keys), len(values))
	}
	if len(queries) > len(keys) {
		return nil, fmt.Errorf("%w: %d queries but only %d keys", ErrPrecondition, len(queries), len(keys))
	}

	results := make([]*mat.Dense, len(queries))
	var keyContext, valueContext *mat.Dense
	for i, query := range queries {
		var err error
		if keyContext, err = appendRows(keyContext, keys[i]); err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		if valueContext, err = appendRows(valueContext, values[i]); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}

		_, queryCols := query.Dims()
		keyRows, keyCols := keyContext.Dims()
		valueRows, _ := valueContext.Dims()
		if queryCols != keyCols {
			return nil, fmt.Errorf("%w: query %d has %d columns, keys have %d", ErrPrecondition, i, queryCols, keyCols)
		}
		if keyRows != valueRows {
			return nil, fmt.Errorf("%w: %d key rows but %d value rows at position %d", ErrPrecondition, keyRows, valueRows, i)
		}

		var scores mat.Dense
		scores.Mul(query, keyContext.T())
		softmaxRows(&scores)

		var out mat.Dense
		out.Mul(&scores, valueContext)
		results[i] = &out
	}
	return results, nil
}

func appendRows(a, b *mat.Dense) (*mat.Dense, error) {
	if a == nil {
		return mat.DenseCopyOf(b), nil
	}
	_, ca := a.Dims()
	_, cb := b.Dims()
	if ca != cb {
		return nil, fmt.Errorf("%w: %d columns, context has %d", ErrPrecondition, cb, ca)
	}
	var c mat.Dense
	c.Stack(a, b)
	return &c, nil
}

func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		floats.AddConst(-floats.Max(row), row)
		for j, v := range row {
			row[j] = math.Exp(v)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
}
