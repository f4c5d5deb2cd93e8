package attention

import "k8s.io/examples/AI/attnsim/pkg/engine"

// Batched concatenates the whole causal context and applies a joint softmax
// over it with a single score matrix.
type Batched struct{}

func (Batched) Name() string {
	return "batched"
}

func (Batched) ComputeCausalStep(step *Step) (engine.Handle, error) {
	sim, scope := step.Sim, step.Scope

	keys, err := step.context(step.Keys, "key")
	if err != nil {
		return engine.Handle{}, err
	}
	values, err := step.context(step.Values, "value")
	if err != nil {
		return engine.Handle{}, err
	}

	sim.Transpose(keys, engine.FastMemory)
	scores, err := scope.Allocate("scores")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.MatMul(step.Query, keys, scores)
	scope.Release(keys)

	if step.Stabilize {
		rowMax, err := scope.Allocate("row_max")
		if err != nil {
			return engine.Handle{}, err
		}
		sim.RowMax(scores, rowMax)
		scores, err = step.shift(scores, rowMax, "shifted_scores")
		if err != nil {
			return engine.Handle{}, err
		}
		scope.Release(rowMax)
	}

	expScores, err := scope.Allocate("exp_scores")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.Exp(scores, expScores)
	scope.Release(scores)

	sum, err := scope.Allocate("row_sum")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.RowSum(expScores, sum)

	weights, err := scope.Allocate("attention_weights")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.Div(expScores, sum, weights)
	scope.Release(expScores)
	scope.Release(sum)

	result, err := scope.Allocate("attention_result")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.MatMul(weights, values, result)
	scope.Release(weights)
	scope.Release(values)
	return result, nil
}

// context stages tensors[0..] into fast memory and concatenates them row-wise.
func (s *Step) context(tensors []engine.Handle, name string) (engine.Handle, error) {
	acc, err := s.stage(tensors[0], name+"_context", 0)
	if err != nil {
		return engine.Handle{}, err
	}
	for j := 1; j < len(tensors); j++ {
		row, err := s.stage(tensors[j], name+"_row", j)
		if err != nil {
			return engine.Handle{}, err
		}
		next, err := s.Scope.Allocate(name+"_context", j)
		if err != nil {
			return engine.Handle{}, err
		}
		s.Sim.ConcatRows(acc, row, next)
		s.Scope.Release(acc)
		s.Scope.Release(row)
		acc = next
	}
	return acc, nil
}
