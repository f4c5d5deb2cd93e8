package attention

import "k8s.io/examples/AI/attnsim/pkg/engine"

// PerKey normalizes every key/value contribution by its own softmax
// denominator and sums the contributions into an accumulator seeded with
// zeros of the query's shape.
//
// This is not standard attention: with one score per key and row, every
// weight is 1 and the output is the sum of the context values. It requires
// queries and values to have the same width. Use Batched or Incremental for
// joint softmax semantics.
type PerKey struct{}

func (PerKey) Name() string {
	return "per-key"
}

func (PerKey) ComputeCausalStep(step *Step) (engine.Handle, error) {
	sim, scope := step.Sim, step.Scope

	zero, err := scope.Allocate("zero_matrix")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.Copy(step.Query, zero, engine.FastMemory)
	sim.Zero(zero)

	acc, err := scope.Allocate("attention_result")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.Copy(zero, acc, engine.FastMemory)

	for j := range step.Keys {
		qk, err := step.score("", j)
		if err != nil {
			return engine.Handle{}, err
		}
		if step.Stabilize {
			rowMax, err := scope.Allocate("row_max", j)
			if err != nil {
				return engine.Handle{}, err
			}
			sim.RowMax(qk, rowMax)
			qk, err = step.shift(qk, rowMax, "shifted_qk", j)
			if err != nil {
				return engine.Handle{}, err
			}
			scope.Release(rowMax)
		}

		expQK, err := scope.Allocate("exp_qk", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.Exp(qk, expQK)
		scope.Release(qk)

		sum, err := scope.Allocate("row_sum", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.RowSum(expQK, sum)

		softmax, err := scope.Allocate("softmax_row", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.Div(expQK, sum, softmax)
		scope.Release(expQK)
		scope.Release(sum)

		value, err := step.stage(step.Values[j], "value_fast", j)
		if err != nil {
			return engine.Handle{}, err
		}
		row, err := scope.Allocate("attention_row", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.MatMul(softmax, value, row)
		scope.Release(softmax)
		scope.Release(value)

		next, err := scope.Allocate("new_attention", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.Add(acc, row, next)
		scope.Release(acc)
		scope.Release(row)
		acc = next
	}

	// zero_matrix stays live until the scope closes after the commit.
	return acc, nil
}
