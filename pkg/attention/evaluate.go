package attention

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	api "k8s.io/examples/AI/attnsim/api/v1alpha1"
	"k8s.io/examples/AI/attnsim/pkg/engine"
	"k8s.io/examples/AI/attnsim/pkg/rater"
)

// Evaluate runs one complete causal attention simulation described by req.
// Errors are gRPC statuses so that servers can return them unchanged.
func Evaluate(ctx context.Context, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	keys, err := toDenseList("key", req.GetKeys())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	values, err := toDenseList("value", req.GetValues())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	queries, err := toDenseList("query", req.GetQueries())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	expected, err := toDenseList("expected answer", req.GetExpected())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	strategy, err := ParseStrategy(req.GetStrategy())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if len(keys) != len(values) {
		return nil, toStatus(fmt.Errorf("%w: %d keys but %d values", ErrPrecondition, len(keys), len(values)))
	}

	store := engine.NewStore(int(req.GetCapacity()))
	sim := engine.NewSimulator(store, engine.Options{FastMemoryLimit: int(req.GetFastMemoryLimit())})

	r, err := rater.New(store, keys, values, queries, expected)
	if err != nil {
		if errors.Is(err, engine.ErrAllocation) {
			return nil, toStatus(err)
		}
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	e := NewEngine(sim, Options{
		Strategy:  strategy,
		Stabilize: !req.GetDisableStabilization(),
		Verbose:   req.GetVerbose(),
	})
	if err := e.Run(ctx, r.Keys(), r.Values(), r, r); err != nil {
		return nil, toStatus(err)
	}
	if err := r.Close(); err != nil {
		return nil, toStatus(err)
	}

	var report bytes.Buffer
	stats := sim.Stats()
	if err := r.PrintResult(&report, stats); err != nil {
		return nil, toStatus(err)
	}

	response := &api.CalculateResponse{
		Results: fromDenseList(r.Answers()),
		Stats: &api.Stats{
			Flushes:          int32(stats.Flushes),
			Instructions:     int64(stats.Instructions),
			PeakLiveTensors:  int32(store.Peak()),
			PeakFastElements: int64(stats.PeakFastElements),
		},
		Report: report.String(),
		Passed: int32(r.Passed()),
	}
	return response, nil
}

func toStatus(err error) error {
	var simErr *engine.SimulationError
	switch {
	case errors.Is(err, ErrPrecondition):
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case errors.Is(err, engine.ErrAllocation):
		return status.Errorf(codes.ResourceExhausted, "%v", err)
	case errors.As(err, &simErr):
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
