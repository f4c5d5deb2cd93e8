package v1alpha1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	AttentionSimulator_ServiceName              = "attnsim.v1alpha1.AttentionSimulator"
	AttentionSimulator_Calculate_FullMethodName = "/" + AttentionSimulator_ServiceName + "/Calculate"
)

type AttentionSimulatorClient interface {
	Calculate(ctx context.Context, in *CalculateRequest, opts ...grpc.CallOption) (*CalculateResponse, error)
}

type attentionSimulatorClient struct {
	cc grpc.ClientConnInterface
}

func NewAttentionSimulatorClient(cc grpc.ClientConnInterface) AttentionSimulatorClient {
	return &attentionSimulatorClient{cc}
}

func (c *attentionSimulatorClient) Calculate(ctx context.Context, in *CalculateRequest, opts ...grpc.CallOption) (*CalculateResponse, error) {
	out := new(CalculateResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Codec{}.Name())}, opts...)
	if err := c.cc.Invoke(ctx, AttentionSimulator_Calculate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type AttentionSimulatorServer interface {
	Calculate(context.Context, *CalculateRequest) (*CalculateResponse, error)
}

// UnimplementedAttentionSimulatorServer can be embedded to have forward compatible implementations.
type UnimplementedAttentionSimulatorServer struct{}

func (UnimplementedAttentionSimulatorServer) Calculate(context.Context, *CalculateRequest) (*CalculateResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Calculate not implemented")
}

func RegisterAttentionSimulatorServer(s grpc.ServiceRegistrar, srv AttentionSimulatorServer) {
	s.RegisterService(&AttentionSimulator_ServiceDesc, srv)
}

func _AttentionSimulator_Calculate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CalculateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AttentionSimulatorServer).Calculate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AttentionSimulator_Calculate_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AttentionSimulatorServer).Calculate(ctx, req.(*CalculateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var AttentionSimulator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: AttentionSimulator_ServiceName,
	HandlerType: (*AttentionSimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Calculate",
			Handler:    _AttentionSimulator_Calculate_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/v1alpha1/service.go",
}
