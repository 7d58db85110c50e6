// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jllopis/meshwork/pkg/transport"
)

// OperationServer is the server side of meshwork.v1.OperationService.
type OperationServer interface {
	ListOperations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterService exposes svc on s.
func RegisterService(s grpc.ServiceRegistrar, svc transport.Service) {
	s.RegisterService(&serviceDesc, &server{svc: svc})
}

type server struct {
	svc transport.Service
}

func (s *server) ListOperations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ops, err := toValue(s.svc.Operations())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode operations: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"operations": ops}}, nil
}

func (s *server) Invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req transport.InvokeRequest
	if err := fromValue(structpb.NewStructValue(in), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode invoke request: %v", err)
	}
	if req.OperationName == "" {
		return nil, status.Error(codes.InvalidArgument, "operationName is required")
	}
	resp := s.svc.Invoke(extractTraceContext(ctx), req)
	out, err := toStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode invoke response: %v", err)
	}
	return out, nil
}

func listOperationsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServer).ListOperations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listOperationsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServer).ListOperations(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OperationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListOperations", Handler: listOperationsHandler},
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshwork/v1/operation.proto",
}
