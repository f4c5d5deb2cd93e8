package attention

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/examples/AI/attnsim/pkg/engine"
	"k8s.io/klog/v2"
)

var ErrPrecondition = errors.New("precondition violated")

// Source supplies one query per position, in order.
type Source interface {
	GetNextQuery() (engine.Handle, error)
}

// Sink accepts the committed output of each position. The committed tensor
// stays owned by the engine, which releases it after the commit.
type Sink interface {
	CommitAnswer(h engine.Handle) error
}

type Options struct {
	Strategy Strategy

	// Stabilize subtracts the row maximum from scores before exponentiating.
	Stabilize bool

	// Verbose traces every executed instruction.
	Verbose bool
}

func DefaultOptions() Options {
	return Options{
		Strategy:  Batched{},
		Stabilize: true,
	}
}

// Engine computes causal attention one position at a time on a Simulator.
type Engine struct {
	sim     *engine.Simulator
	options Options
}

func NewEngine(sim *engine.Simulator, options Options) *Engine {
	if options.Strategy == nil {
		options.Strategy = Batched{}
	}
	return &Engine{
		sim:     sim,
		options: options,
	}
}

// Run computes the output of every position 0..len(keys)-1. Any error is fatal:
// the run stops at the failing position and nothing is retried. The failing
// position's temporaries and pending instructions are discarded, so only the
// keys, values and earlier commits remain.
func (e *Engine) Run(ctx context.Context, keys, values []engine.Handle, source Source, sink Sink) error {
	log := klog.FromContext(ctx)

	if len(keys) != len(values) {
		return fmt.Errorf("%w: %d keys but %d values", ErrPrecondition, len(keys), len(values))
	}

	log.V(2).Info("running causal attention", "positions", len(keys), "strategy", e.options.Strategy.Name(), "stabilize", e.options.Stabilize)
	for i := range keys {
		if err := e.runPosition(ctx, i, keys[:i+1], values[:i+1], source, sink); err != nil {
			return fmt.Errorf("position %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) runPosition(ctx context.Context, position int, keys, values []engine.Handle, source Source, sink Sink) error {
	log := klog.FromContext(ctx)

	query, err := source.GetNextQuery()
	if err != nil {
		return fmt.Errorf("getting query: %w", err)
	}

	scope := engine.NewScope(e.sim, position)
	scope.Adopt(query)
	e.sim.MoveToFast(query)

	step := &Step{
		Position:  position,
		Query:     query,
		Keys:      keys,
		Values:    values,
		Scope:     scope,
		Sim:       e.sim,
		Stabilize: e.options.Stabilize,
	}
	output, err := e.options.Strategy.ComputeCausalStep(step)
	if err != nil {
		return errors.Join(fmt.Errorf("computing step with %s strategy: %w", e.options.Strategy.Name(), err), scope.Abort())
	}

	e.sim.MoveToSlow(output)
	if err := e.sim.Flush(ctx, e.options.Verbose); err != nil {
		return errors.Join(fmt.Errorf("flushing: %w", err), scope.Abort())
	}
	if err := sink.CommitAnswer(output); err != nil {
		return errors.Join(fmt.Errorf("committing answer: %w", err), scope.Abort())
	}
	if err := scope.Close(); err != nil {
		return fmt.Errorf("releasing temporaries: %w", err)
	}

	log.V(2).Info("committed position", "position", position, "liveTensors", e.sim.Store().Live())
	return nil
}
