// Package rpc declares the ollamastream.v1.CompletionService gRPC service.
//
// The service is built from well-known protobuf types, so no generated code
// is needed: requests are google.protobuf.Struct values with the same shape
// as the HTTP JSON body, fragments are google.protobuf.StringValue, and the
// model list is a google.protobuf.ListValue of strings.
//
// There is no .proto file behind the service, so server reflection lists it
// but cannot describe it; grpcurl needs the well-known types named explicitly.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "ollamastream.v1.CompletionService"

	StreamCompleteMethod = "/" + ServiceName + "/StreamComplete"
	ListModelsMethod     = "/" + ServiceName + "/ListModels"
)

// CompletionServer is the server API for CompletionService.
type CompletionServer interface {
	// StreamComplete streams completion fragments for one prompt.
	StreamComplete(*structpb.Struct, grpc.ServerStreamingServer[wrapperspb.StringValue]) error
	// ListModels returns the names of the models available on the Ollama server.
	ListModels(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterCompletionServer registers srv with s.
func RegisterCompletionServer(s grpc.ServiceRegistrar, srv CompletionServer) {
	s.RegisterService(&CompletionServiceDesc, srv)
}

func listModelsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompletionServer).ListModels(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ListModelsMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CompletionServer).ListModels(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamCompleteHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CompletionServer).StreamComplete(in, &grpc.GenericServerStream[structpb.Struct, wrapperspb.StringValue]{ServerStream: stream})
}

// CompletionServiceDesc is the grpc.ServiceDesc for CompletionService.
var CompletionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompletionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListModels",
			Handler:    listModelsHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamComplete",
			Handler:       streamCompleteHandler,
			ServerStreams: true,
		},
	},
}

// CompletionClient is the client API for CompletionService.
type CompletionClient struct {
	cc grpc.ClientConnInterface
}

// NewCompletionClient creates a client on top of an existing connection.
func NewCompletionClient(cc grpc.ClientConnInterface) *CompletionClient {
	return &CompletionClient{cc: cc}
}

// StreamComplete starts a completion and returns the fragment stream.
func (c *CompletionClient) StreamComplete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.StringValue], error) {
	stream, err := c.cc.NewStream(ctx, &CompletionServiceDesc.Streams[0], StreamCompleteMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, wrapperspb.StringValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// ListModels returns the model names known to the server.
func (c *CompletionClient) ListModels(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListModelsMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}
