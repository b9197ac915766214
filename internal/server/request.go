package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/knoguchi/ollamastream/internal/llm"
	"github.com/knoguchi/ollamastream/internal/service"
)

// completionBody is the JSON shape of a completion request on both surfaces.
// Omitted sampling fields fall back to llm.DefaultCompletionOptions.
type completionBody struct {
	Prompt  string  `json:"prompt"`
	System  *string `json:"system"`
	Options struct {
		Temperature *float64 `json:"temperature"`
		TopP        *float64 `json:"top_p"`
		TopK        *int     `json:"top_k"`
		MaxTokens   *int     `json:"max_tokens"`
		Stop        []string `json:"stop"`
	} `json:"options"`
}

func (b completionBody) toRequest() service.CompletionRequest {
	opts := llm.DefaultCompletionOptions()
	if b.Options.Temperature != nil {
		opts.Temperature = *b.Options.Temperature
	}
	if b.Options.TopP != nil {
		opts.TopP = *b.Options.TopP
	}
	if b.Options.TopK != nil {
		opts.TopK = *b.Options.TopK
	}
	opts.MaxTokens = b.Options.MaxTokens
	opts.Stop = b.Options.Stop

	return service.CompletionRequest{
		Prompt:  b.Prompt,
		System:  b.System,
		Options: opts,
	}
}

func decodeCompletionJSON(data []byte) (service.CompletionRequest, error) {
	var body completionBody
	if err := json.Unmarshal(data, &body); err != nil {
		return service.CompletionRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	return body.toRequest(), nil
}

func decodeCompletionStruct(in *structpb.Struct) (service.CompletionRequest, error) {
	data, err := protojson.Marshal(in)
	if err != nil {
		return service.CompletionRequest{}, fmt.Errorf("invalid request: %w", err)
	}
	return decodeCompletionJSON(data)
}

// errorResponse is the JSON error body of the HTTP surface.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// httpError maps a service error onto an HTTP status and body.
func httpError(err error) (int, errorResponse) {
	if classified, ok := llm.AsError(err); ok {
		code := http.StatusBadRequest
		if classified.Kind == llm.KindServerUnavailable {
			code = http.StatusServiceUnavailable
		}
		return code, errorResponse{Error: classified.Summary, Detail: classified.Message}
	}
	if errors.Is(err, service.ErrEmptyPrompt) {
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, errorResponse{Error: "request canceled", Detail: err.Error()}
	}
	return http.StatusBadGateway, errorResponse{Error: "upstream failure", Detail: err.Error()}
}

// grpcError maps a service error onto a gRPC status.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if classified, ok := llm.AsError(err); ok {
		code := codes.InvalidArgument
		if classified.Kind == llm.KindServerUnavailable {
			code = codes.Unavailable
		}
		return status.Errorf(code, "%s: %s", classified.Summary, classified.Message)
	}
	switch {
	case errors.Is(err, service.ErrEmptyPrompt):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
