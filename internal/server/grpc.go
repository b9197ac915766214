// Package server provides gRPC and HTTP server implementations with middleware.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/knoguchi/ollamastream/internal/auth"
	"github.com/knoguchi/ollamastream/internal/rpc"
)

// GRPCServer serves the completion service over gRPC
type GRPCServer struct {
	server *grpc.Server
	logger *slog.Logger
	port   int
}

// GRPCServerConfig holds configuration for the gRPC server
type GRPCServerConfig struct {
	Port          int
	Logger        *slog.Logger
	Authenticator *auth.Authenticator // Optional
}

// Services holds all gRPC service implementations
type Services struct {
	CompletionService rpc.CompletionServer
}

// NewGRPCServer creates a new gRPC server with interceptors
func NewGRPCServer(cfg GRPCServerConfig, services Services) (*GRPCServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	unary := []grpc.UnaryServerInterceptor{unaryObserver(logger)}
	stream := []grpc.StreamServerInterceptor{streamObserver(logger)}
	if cfg.Authenticator != nil && cfg.Authenticator.Enabled() {
		unary = append(unary, cfg.Authenticator.UnaryInterceptor())
		stream = append(stream, cfg.Authenticator.StreamInterceptor())
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	// Register services
	if services.CompletionService != nil {
		rpc.RegisterCompletionServer(server, services.CompletionService)
		logger.Info("registered completion service", "service", rpc.ServiceName)
	}

	reflection.Register(server)

	return &GRPCServer{
		server: server,
		logger: logger,
		port:   cfg.Port,
	}, nil
}

// Start starts the gRPC server
func (s *GRPCServer) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info("starting gRPC server", "address", addr)
	return s.Serve(listener)
}

// Serve accepts connections on an existing listener
func (s *GRPCServer) Serve(listener net.Listener) error {
	if err := s.server.Serve(listener); err != nil {
		return fmt.Errorf("gRPC server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the gRPC server
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timeout, forcing stop")
		s.server.Stop()
		return ctx.Err()
	}
}

// GetServer returns the underlying gRPC server
func (s *GRPCServer) GetServer() *grpc.Server {
	return s.server
}

// unaryObserver recovers panics and logs each unary call with its status code.
func unaryObserver(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = panicked(logger, info.FullMethod, r)
			}
			logCall(logger, "gRPC request", info.FullMethod, start, err, -1)
		}()
		return handler(ctx, req)
	}
}

// streamObserver recovers panics and logs each stream with the number of
// messages sent to the client.
func streamObserver(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		counted := &countingServerStream{ServerStream: ss}
		defer func() {
			if r := recover(); r != nil {
				err = panicked(logger, info.FullMethod, r)
			}
			logCall(logger, "gRPC stream", info.FullMethod, start, err, counted.sent)
		}()
		return handler(srv, counted)
	}
}

type countingServerStream struct {
	grpc.ServerStream
	sent int
}

func (c *countingServerStream) SendMsg(m any) error {
	if err := c.ServerStream.SendMsg(m); err != nil {
		return err
	}
	c.sent++
	return nil
}

func panicked(logger *slog.Logger, method string, r any) error {
	logger.Error("panic recovered in gRPC handler",
		"method", method,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	return status.Error(codes.Internal, "internal server error")
}

// logCall logs a finished call; sent < 0 means the call was unary.
func logCall(logger *slog.Logger, msg, method string, start time.Time, err error, sent int) {
	attrs := []any{
		"method", method,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	}
	if sent >= 0 {
		attrs = append(attrs, "messages", sent)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		logger.Warn(msg, attrs...)
		return
	}
	logger.Info(msg, attrs...)
}
