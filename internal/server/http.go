package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/ollamastream/internal/auth"
	"github.com/knoguchi/ollamastream/internal/service"
)

const maxRequestBytes = 4 << 20

// HTTPServer serves completions as newline-delimited JSON over plain HTTP
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	svc    *service.CompletionService
	logger *slog.Logger
	port   int
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string            // CORS allowed origins
	Authenticator  *auth.Authenticator // Optional
	Service        *service.CompletionService
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.Service == nil {
		return nil, errors.New("completion service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create chi router
	router := chi.NewRouter()

	// Add middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	s := &HTTPServer{
		router: router,
		svc:    cfg.Service,
		logger: logger,
		port:   cfg.Port,
	}

	// Mount health check endpoint
	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler(cfg.Service))

	router.Route("/v1", func(r chi.Router) {
		if cfg.Authenticator != nil && cfg.Authenticator.Enabled() {
			r.Use(cfg.Authenticator.Middleware)
		}
		r.Post("/completions", s.handleCompletion)
		r.Get("/models", s.handleModels)
	})

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: completions stream for as long as the model generates.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the underlying chi router for additional route registration
func (s *HTTPServer) GetRouter() *chi.Mux {
	return s.router
}

// ndjsonWriter writes one JSON object per line and flushes after each.
// Headers are sent with the first line, so an error that occurs before any
// fragment can still be reported with a proper status code.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (n *ndjsonWriter) write(v any) error {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if err := json.NewEncoder(n.w).Encode(v); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

func (s *HTTPServer) handleCompletion(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body", Detail: err.Error()})
		return
	}
	req, err := decodeCompletionJSON(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	flusher, _ := w.(http.Flusher)
	out := &ndjsonWriter{w: w, flusher: flusher}

	_, err = s.svc.Stream(r.Context(), req, func(fragment string) error {
		return out.write(map[string]string{"response": fragment})
	})
	if err != nil {
		if !out.started {
			code, body := httpError(err)
			writeJSON(w, code, body)
			return
		}
		// Headers are gone; report in-band.
		_, body := httpError(err)
		_ = out.write(body)
		return
	}

	_ = out.write(map[string]bool{"done": true})
}

func (s *HTTPServer) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.svc.Models(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to list models", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			allowed := false
			if len(allowedOrigins) == 0 {
				// If no origins specified, allow all in development
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readinessCheckHandler returns a handler for the /readyz endpoint.
// Ready means the Ollama server answered a model listing.
func readinessCheckHandler(svc *service.CompletionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := svc.Models(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
