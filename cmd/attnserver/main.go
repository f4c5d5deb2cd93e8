package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"
	api "k8s.io/examples/AI/attnsim/api/v1alpha1"
	"k8s.io/examples/AI/attnsim/pkg/attention"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listen := os.Getenv("LISTEN")
	if listen == "" {
		listen = ":9876"
	}
	flag.StringVar(&listen, "listen", listen, "listen address")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}

	grpcServer := newGRPCServer()
	log.Info("Starting attnserver", "listen", listen)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving GRPC: %w", err)
	}

	return nil
}

func newGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	grpcServer := grpc.NewServer(opts...)
	api.RegisterAttentionSimulatorServer(grpcServer, &SimulatorServer{})
	return grpcServer
}

type SimulatorServer struct {
	api.UnimplementedAttentionSimulatorServer
}

// Calculate runs each request on its own store and simulator, so concurrent
// requests share no state.
func (s *SimulatorServer) Calculate(ctx context.Context, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	log := klog.FromContext(ctx)

	response, err := attention.Evaluate(ctx, req)
	if err != nil {
		log.Error(err, "calculation failed", "positions", len(req.GetKeys()), "strategy", req.GetStrategy())
		return nil, err
	}

	log.Info("calculation complete", "positions", len(req.GetKeys()), "strategy", req.GetStrategy(), "flushes", response.GetStats().GetFlushes())
	return response, nil
}
