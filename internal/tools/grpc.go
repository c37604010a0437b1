package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC tool transport. Messages are google.protobuf.Struct so no generated
// code is needed:
//
//	ListTools({})                       -> {"tools": [{"name", "description", "input_schema"}]}
//	CallTool({"name", "arguments": {}}) -> ToolResult JSON
const (
	ToolServiceName = "orders.v1.ToolService"
	ListToolsMethod = "/" + ToolServiceName + "/ListTools"
	CallToolMethod  = "/" + ToolServiceName + "/CallTool"
)

// ToolServiceServer is the server API for the tool service.
type ToolServiceServer interface {
	ListTools(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CallTool(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ToolServiceDesc describes the tool service for grpc.Server.RegisterService.
var ToolServiceDesc = grpc.ServiceDesc{
	ServiceName: ToolServiceName,
	HandlerType: (*ToolServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTools", Handler: listToolsHandler},
		{MethodName: "CallTool", Handler: callToolHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterToolServiceServer registers srv on s.
func RegisterToolServiceServer(s grpc.ServiceRegistrar, srv ToolServiceServer) {
	s.RegisterService(&ToolServiceDesc, srv)
}

func listToolsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolServiceServer).ListTools(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListToolsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolServiceServer).ListTools(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func callToolHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolServiceServer).CallTool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CallToolMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolServiceServer).CallTool(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer serves a Toolset over the tool service.
type GRPCServer struct {
	tools *Toolset
}

// NewGRPCServer wraps t.
func NewGRPCServer(t *Toolset) *GRPCServer {
	return &GRPCServer{tools: t}
}

var _ ToolServiceServer = (*GRPCServer)(nil)

// ListTools returns the tool definitions.
func (s *GRPCServer) ListTools(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	defs := s.tools.Definitions()
	list := make([]any, 0, len(defs))
	for _, d := range defs {
		list = append(list, map[string]any{
			"name":         d.Name,
			"description":  d.Description,
			"input_schema": d.InputSchema,
		})
	}
	out, err := EncodeStruct(map[string]any{"tools": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode tools: %v", err)
	}
	return out, nil
}

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallTool runs one tool. Tool failures travel in the result, not as gRPC errors.
func (s *GRPCServer) CallTool(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req callRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "tool name is required")
	}

	out, err := EncodeStruct(s.tools.Call(ctx, req.Name, req.Arguments))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// EncodeStruct converts any JSON-object-shaped value to a Struct.
func EncodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return s, nil
}

// DecodeStruct is the inverse of EncodeStruct.
func DecodeStruct(s *structpb.Struct, dst any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("from struct: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
