package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API endpoint.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultModel is the default LLM model to use.
	DefaultModel = "llama2"

	generatePath = "/api/generate"
	tagsPath     = "/api/tags"

	modelMissingMarker = "no such file"
)

// OllamaClient implements the Completer interface using the Ollama API.
type OllamaClient struct {
	baseURL       string
	httpClient    *http.Client
	model         string
	systemMessage string
	logger        *slog.Logger
}

// OllamaOption is a functional option for configuring OllamaClient.
type OllamaOption func(*OllamaClient)

// WithBaseURL sets a custom base URL for the Ollama API. An empty value keeps the default.
func WithBaseURL(baseURL string) OllamaOption {
	return func(c *OllamaClient) {
		baseURL = strings.TrimSpace(baseURL)
		if baseURL == "" {
			return
		}
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(c *OllamaClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithProxy routes all outbound requests through the given proxy.
// A nil URL leaves the environment-derived proxy in place.
func WithProxy(proxyURL *url.URL) OllamaOption {
	return func(c *OllamaClient) {
		if proxyURL == nil {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		c.httpClient = &http.Client{Transport: transport}
	}
}

// WithModel sets the model for the client. An empty value keeps the default.
func WithModel(model string) OllamaOption {
	return func(c *OllamaClient) {
		if strings.TrimSpace(model) != "" {
			c.model = model
		}
	}
}

// WithSystemMessage sets the default system preamble; CompletionOptions.System overrides it per call.
func WithSystemMessage(system string) OllamaOption {
	return func(c *OllamaClient) {
		c.systemMessage = system
	}
}

// WithLogger sets the logger used for warnings about skipped chunks and
// best-effort calls.
func WithLogger(logger *slog.Logger) OllamaOption {
	return func(c *OllamaClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOllamaClient creates a new Ollama LLM client with the given options.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL: DefaultOllamaBaseURL,
		// No client timeout: it would cover the whole body read and cut long
		// generations short. Callers bound a request with its context.
		httpClient: &http.Client{},
		model:      DefaultModel,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ModelName returns the model used for completions.
func (c *OllamaClient) ModelName() string {
	return c.model
}

// BaseURL returns the resolved Ollama API base URL.
func (c *OllamaClient) BaseURL() string {
	return c.baseURL
}

// StreamComplete sends prompt to Ollama and returns a stream of response fragments.
func (c *OllamaClient) StreamComplete(ctx context.Context, prompt string, opts CompletionOptions) (*Stream, error) {
	system := c.systemMessage
	if opts.System != nil {
		system = *opts.System
	}
	body := newGenerateRequest(prompt, c.model, system, opts)

	resp, err := c.post(ctx, generatePath, body)
	if err != nil {
		return nil, err
	}

	if err := c.classify(ctx, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return NewStream(resp.Body, c.logger), nil
}

// Complete sends prompt to Ollama and returns the full response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	stream, err := c.StreamComplete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	return stream.Collect()
}

// PreloadResult reports the outcome of a best-effort model pre-load.
type PreloadResult struct {
	Model      string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// OK reports whether the pre-load call reached the server.
func (r PreloadResult) OK() bool {
	return r.Err == nil
}

// Preload posts an empty prompt so the server loads the model into memory
// before the first real request. The response is ignored; failures are logged
// and reported only through the result.
func (c *OllamaClient) Preload(ctx context.Context) PreloadResult {
	start := time.Now()
	result := PreloadResult{Model: c.model}

	resp, err := c.post(ctx, generatePath, preloadRequest{Prompt: "", Model: c.model})
	if err == nil {
		result.StatusCode = resp.StatusCode
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		c.logger.Warn("error pre-loading ollama model", "model", c.model, "error", err)
	}
	return result
}

// post issues a JSON POST and returns the open response. The caller owns resp.Body.
func (c *OllamaClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// get issues a GET and returns the open response. The caller owns resp.Body.
func (c *OllamaClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// Ensure OllamaClient implements Completer interface.
var _ Completer = (*OllamaClient)(nil)
