package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/knoguchi/ollamastream/internal/auth"
	"github.com/knoguchi/ollamastream/internal/config"
	"github.com/knoguchi/ollamastream/internal/llm"
	"github.com/knoguchi/ollamastream/internal/rpc"
	"github.com/knoguchi/ollamastream/internal/server"
	"github.com/knoguchi/ollamastream/internal/service"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = issueToken(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("ollamastreamd failed", "error", err)
		os.Exit(1)
	}
}

// issueToken prints a signed client token.
//
//	ollamastreamd token <client>
//	ollamastreamd token refresh <token>
func issueToken(args []string) error {
	refresh := len(args) == 2 && args[0] == "refresh"
	if len(args) != 1 && !refresh {
		return errors.New("usage: ollamastreamd token <client> | token refresh <token>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.Expiry = cfg.JWTExpiry
	manager := auth.NewJWTManager(jwtConfig)

	var token string
	if refresh {
		token, err = manager.RefreshToken(args[1])
	} else {
		token, err = manager.GenerateToken(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting ollamastream service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	proxyURL, err := cfg.ProxyURL()
	if err != nil {
		return err
	}

	// Initialize Ollama client
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaAPIBase),
		llm.WithModel(cfg.OllamaModel),
		llm.WithSystemMessage(cfg.OllamaSystemMessage),
		llm.WithProxy(proxyURL),
		llm.WithLogger(slog.Default()),
	)
	slog.Info("initialized Ollama client",
		"api_base", llmClient.BaseURL(),
		"model", llmClient.ModelName(),
		"proxy", proxyURL != nil,
	)

	completionSvc := service.NewCompletionService(llmClient)

	if cfg.OllamaPreload {
		// Best effort; a failure is logged by the client and startup continues.
		go completionSvc.Warmup(ctx)
	}

	// Initialize auth
	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtConfig.Expiry = cfg.JWTExpiry
		jwtManager = auth.NewJWTManager(jwtConfig)
	}
	authn := auth.NewAuthenticator(cfg.APIKey, jwtManager)
	if !authn.Enabled() {
		slog.Warn("authentication disabled: set API_KEY or JWT_SECRET to enable")
	}

	// Create gRPC server
	grpcServer, err := server.NewGRPCServer(server.GRPCServerConfig{
		Port:          cfg.GRPCPort,
		Logger:        slog.Default(),
		Authenticator: authn,
	}, server.Services{
		CompletionService: server.NewCompletionServer(completionSvc, slog.Default()),
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	// Create HTTP server
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		Authenticator:  authn,
		Service:        completionSvc,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down servers...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown gRPC server", "error", err)
	}

	slog.Info("servers stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ llm.Completer        = (*llm.OllamaClient)(nil)
	_ rpc.CompletionServer = (*server.CompletionServer)(nil)
)
