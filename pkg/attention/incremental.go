package attention

import "k8s.io/examples/AI/attnsim/pkg/engine"

// Incremental visits one key/value pair at a time but keeps joint softmax
// semantics: it accumulates the unnormalized weighted sum of values and the
// running denominator, and divides once after the last key. When stabilizing,
// a first pass over the keys finds the row maximum of all scores.
type Incremental struct{}

func (Incremental) Name() string {
	return "incremental"
}

func (Incremental) ComputeCausalStep(step *Step) (engine.Handle, error) {
	sim, scope := step.Sim, step.Scope

	var runningMax engine.Handle
	if step.Stabilize {
		for j := range step.Keys {
			qk, err := step.score("max_", j)
			if err != nil {
				return engine.Handle{}, err
			}
			keyMax, err := scope.Allocate("key_max", j)
			if err != nil {
				return engine.Handle{}, err
			}
			sim.RowMax(qk, keyMax)
			scope.Release(qk)

			if j == 0 {
				runningMax = keyMax
				continue
			}
			next, err := scope.Allocate("running_max", j)
			if err != nil {
				return engine.Handle{}, err
			}
			sim.Max(runningMax, keyMax, next)
			scope.Release(runningMax)
			scope.Release(keyMax)
			runningMax = next
		}
	}

	var numerator, denominator engine.Handle
	for j := range step.Keys {
		qk, err := step.score("", j)
		if err != nil {
			return engine.Handle{}, err
		}
		if step.Stabilize {
			qk, err = step.shift(qk, runningMax, "shifted_qk", j)
			if err != nil {
				return engine.Handle{}, err
			}
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

		value, err := step.stage(step.Values[j], "value_fast", j)
		if err != nil {
			return engine.Handle{}, err
		}
		weighted, err := scope.Allocate("weighted_value", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.MatMul(expQK, value, weighted)
		scope.Release(expQK)
		scope.Release(value)

		if j == 0 {
			numerator, denominator = weighted, sum
			continue
		}

		nextNumerator, err := scope.Allocate("numerator", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.Add(numerator, weighted, nextNumerator)
		scope.Release(numerator)
		scope.Release(weighted)
		numerator = nextNumerator

		nextDenominator, err := scope.Allocate("denominator", j)
		if err != nil {
			return engine.Handle{}, err
		}
		sim.Add(denominator, sum, nextDenominator)
		scope.Release(denominator)
		scope.Release(sum)
		denominator = nextDenominator
	}

	result, err := scope.Allocate("attention_result")
	if err != nil {
		return engine.Handle{}, err
	}
	sim.Div(numerator, denominator, result)
	scope.Release(numerator)
	scope.Release(denominator)
	if step.Stabilize {
		scope.Release(runningMax)
	}
	return result, nil
}
