package server

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/knoguchi/ollamastream/internal/rpc"
	"github.com/knoguchi/ollamastream/internal/service"
)

// CompletionServer adapts service.CompletionService to rpc.CompletionServer
type CompletionServer struct {
	svc    *service.CompletionService
	logger *slog.Logger
}

// NewCompletionServer creates a gRPC completion server backed by svc
func NewCompletionServer(svc *service.CompletionService, logger *slog.Logger) *CompletionServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionServer{svc: svc, logger: logger}
}

// StreamComplete streams fragments as StringValue messages.
func (s *CompletionServer) StreamComplete(in *structpb.Struct, stream grpc.ServerStreamingServer[wrapperspb.StringValue]) error {
	req, err := decodeCompletionStruct(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	_, err = s.svc.Stream(stream.Context(), req, func(fragment string) error {
		return stream.Send(wrapperspb.String(fragment))
	})
	return grpcError(err)
}

// ListModels returns the downloaded model names.
func (s *CompletionServer) ListModels(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	models, err := s.svc.Models(ctx)
	if err != nil {
		return nil, grpcError(err)
	}

	values := make([]interface{}, len(models))
	for i, name := range models {
		values[i] = name
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding model list: %v", err)
	}
	return list, nil
}

var _ rpc.CompletionServer = (*CompletionServer)(nil)
