// Package service exposes streaming completions to the HTTP and gRPC servers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/ollamastream/internal/llm"
)

// ErrEmptyPrompt is returned when a request carries no prompt text.
var ErrEmptyPrompt = errors.New("prompt is required")

// CompletionRequest is a single completion call as received by the servers.
type CompletionRequest struct {
	Prompt  string
	// System overrides the configured system message when set.
	System  *string
	Options llm.CompletionOptions
}

// FragmentSink receives fragments in arrival order. Returning an error stops
// the stream and releases the upstream connection.
type FragmentSink func(fragment string) error

// StreamSummary describes a finished stream.
type StreamSummary struct {
	ID        string
	Model     string
	Fragments int
	Duration  time.Duration
}

// CompletionService forwards completion requests to an llm.Completer.
type CompletionService struct {
	client llm.Completer
	logger *slog.Logger
}

// CompletionServiceOption is a functional option for configuring CompletionService.
type CompletionServiceOption func(*CompletionService)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) CompletionServiceOption {
	return func(s *CompletionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCompletionService creates a new CompletionService
func NewCompletionService(client llm.Completer, opts ...CompletionServiceOption) *CompletionService {
	s := &CompletionService{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Model returns the model completions are served with.
func (s *CompletionService) Model() string {
	return s.client.ModelName()
}

// Stream runs one completion and passes every fragment to sink.
// Classified errors from the server are returned before sink is first called.
func (s *CompletionService) Stream(ctx context.Context, req CompletionRequest, sink FragmentSink) (*StreamSummary, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	summary := &StreamSummary{
		ID:    uuid.New().String(),
		Model: s.client.ModelName(),
	}
	logger := s.logger.With("stream_id", summary.ID, "model", summary.Model)
	start := time.Now()

	opts := req.Options
	if req.System != nil {
		opts.System = req.System
	}
	stream, err := s.client.StreamComplete(ctx, req.Prompt, opts)
	if err != nil {
		logFailure(logger, "completion rejected", err)
		return nil, err
	}
	defer stream.Close()

	logger.Debug("completion started")

	for fragment, err := range stream.Fragments() {
		if err != nil {
			summary.Duration = time.Since(start)
			logger.Error("completion stream failed",
				"fragments", summary.Fragments,
				"error", err,
			)
			return summary, fmt.Errorf("streaming completion: %w", err)
		}
		if err := sink(fragment); err != nil {
			summary.Duration = time.Since(start)
			logger.Info("completion consumer stopped",
				"fragments", summary.Fragments,
				"error", err,
			)
			return summary, err
		}
		summary.Fragments++
	}

	summary.Duration = time.Since(start)
	logger.Info("completion finished",
		"fragments", summary.Fragments,
		"duration", summary.Duration,
	)
	return summary, nil
}

// Complete runs one completion and returns the full text.
func (s *CompletionService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var b strings.Builder
	_, err := s.Stream(ctx, req, func(fragment string) error {
		b.WriteString(fragment)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Models lists the models available on the server.
func (s *CompletionService) Models(ctx context.Context) ([]string, error) {
	models, err := s.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return models, nil
}

// Warmup pre-loads the configured model. It never fails; the result is logged.
func (s *CompletionService) Warmup(ctx context.Context) llm.PreloadResult {
	result := s.client.Preload(ctx)
	if result.OK() {
		s.logger.Info("pre-loaded ollama model",
			"model", result.Model,
			"status", result.StatusCode,
			"duration", result.Duration,
		)
	}
	return result
}

func logFailure(logger *slog.Logger, msg string, err error) {
	if classified, ok := llm.AsError(err); ok {
		logger.Warn(msg,
			"kind", classified.Kind,
			"status", classified.StatusCode,
			"error", classified.Message,
		)
		return
	}
	logger.Error(msg, "error", err)
}
