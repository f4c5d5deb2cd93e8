package attention

import (
	"fmt"
	"strings"

	"k8s.io/examples/AI/attnsim/pkg/engine"
)

// Step is the work of one position: the query has been queued for fast
// memory, and Keys/Values hold the causal context 0..Position in slow memory.
type Step struct {
	Position int
	Query    engine.Handle
	Keys     []engine.Handle
	Values   []engine.Handle

	Scope     *engine.Scope
	Sim       *engine.Simulator
	Stabilize bool
}

// Strategy issues the instructions computing one position's attention output.
// The returned tensor is owned by step.Scope and left in fast memory.
type Strategy interface {
	Name() string
	ComputeCausalStep(step *Step) (engine.Handle, error)
}

// Strategies lists every strategy by name.
func Strategies() []Strategy {
	return []Strategy{Batched{}, Incremental{}, PerKey{}}
}

func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return Batched{}, nil
	}
	var names []string
	for _, s := range Strategies() {
		if s.Name() == name {
			return s, nil
		}
		names = append(names, s.Name())
	}
	return nil, fmt.Errorf("unknown strategy %q (want one of %s)", name, strings.Join(names, ", "))
}

// stage copies a slow-memory tensor into a new fast-memory temporary.
func (s *Step) stage(src engine.Handle, name string, indices ...int) (engine.Handle, error) {
	h, err := s.Scope.Allocate(name, indices...)
	if err != nil {
		return engine.Handle{}, err
	}
	s.Sim.Copy(src, h, engine.FastMemory)
	return h, nil
}

// score issues Q · K_j^T for key j.
func (s *Step) score(prefix string, j int) (engine.Handle, error) {
	kt, err := s.stage(s.Keys[j], prefix+"k_transposed", j)
	if err != nil {
		return engine.Handle{}, err
	}
	s.Sim.Transpose(kt, engine.FastMemory)

	qk, err := s.Scope.Allocate(prefix+"qk_result", j)
	if err != nil {
		return engine.Handle{}, err
	}
	s.Sim.MatMul(s.Query, kt, qk)
	s.Scope.Release(kt)
	return qk, nil
}

// shift subtracts the [rows,1] column maximum from scores and releases scores.
func (s *Step) shift(scores, columnMax engine.Handle, name string, indices ...int) (engine.Handle, error) {
	shifted, err := s.Scope.Allocate(name, indices...)
	if err != nil {
		return engine.Handle{}, err
	}
	s.Sim.Sub(scores, columnMax, shifted)
	s.Scope.Release(scores)
	return shifted, nil
}
