// Package auth provides API key and JWT authentication for the gRPC and HTTP servers.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the metadata key and HTTP header for API key authentication
	APIKeyHeader = "x-api-key"

	// AuthorizationHeader carries "Bearer <jwt>"
	AuthorizationHeader = "authorization"

	// principalContextKey is the context key for storing the caller
	principalContextKey contextKey = "principal"
)

// ErrUnauthenticated is returned when no valid credential is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal identifies an authenticated caller
type Principal struct {
	// Client is the token's client name, or "api-key" for the shared key.
	Client string
	// Method is "api_key" or "jwt".
	Method string
	// TokenID is the JWT ID, empty for API keys.
	TokenID string
}

// Authenticator validates the shared API key or a JWT bearer token.
// With neither configured, every request is allowed.
type Authenticator struct {
	apiKey      string
	jwt         *JWTManager
	skipMethods map[string]bool
}

// NewAuthenticator creates a new authenticator. jwtManager may be nil.
func NewAuthenticator(apiKey string, jwtManager *JWTManager) *Authenticator {
	return &Authenticator{
		apiKey: apiKey,
		jwt:    jwtManager,
		skipMethods: map[string]bool{
			// Health check endpoints
			"/grpc.health.v1.Health/Check": true,
			"/grpc.health.v1.Health/Watch": true,
		},
	}
}

// WithSkipMethods adds gRPC methods to skip authentication
func (a *Authenticator) WithSkipMethods(methods ...string) *Authenticator {
	for _, method := range methods {
		a.skipMethods[method] = true
	}
	return a
}

// Enabled reports whether any credential is required.
func (a *Authenticator) Enabled() bool {
	return a.apiKey != "" || a.jwt != nil
}

// Authenticate checks an API key and an Authorization header value.
// The API key is tried first.
func (a *Authenticator) Authenticate(apiKey, authorization string) (*Principal, error) {
	if !a.Enabled() {
		return &Principal{Client: "anonymous"}, nil
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" && a.apiKey != "" {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.apiKey)) == 1 {
			return &Principal{Client: "api-key", Method: "api_key"}, nil
		}
		return nil, errors.Join(ErrUnauthenticated, errors.New("invalid API key"))
	}

	token, ok := bearerToken(authorization)
	if ok && a.jwt != nil {
		claims, err := a.jwt.ValidateToken(token)
		if err != nil {
			return nil, errors.Join(ErrUnauthenticated, err)
		}
		return &Principal{Client: claims.Client, Method: "jwt", TokenID: claims.ID}, nil
	}

	return nil, errors.Join(ErrUnauthenticated, errors.New("missing credentials"))
}

// UnaryInterceptor returns a gRPC unary interceptor for credential validation
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// Skip auth for certain methods
		if a.skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		principal, err := a.fromMetadata(ctx)
		if err != nil {
			return nil, err
		}

		return handler(context.WithValue(ctx, principalContextKey, principal), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor for credential validation
func (a *Authenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		// Skip auth for certain methods
		if a.skipMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx := ss.Context()
		principal, err := a.fromMetadata(ctx)
		if err != nil {
			return err
		}

		wrappedStream := &wrappedServerStream{
			ServerStream: ss,
			ctx:          context.WithValue(ctx, principalContextKey, principal),
		}

		return handler(srv, wrappedStream)
	}
}

// Middleware returns chi-compatible HTTP middleware for credential validation
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Authenticate(r.Header.Get(APIKeyHeader), r.Header.Get(AuthorizationHeader))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="ollamastream"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalContextKey, principal)))
	})
}

// wrappedServerStream wraps a grpc.ServerStream with a modified context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// fromMetadata authenticates using gRPC metadata
func (a *Authenticator) fromMetadata(ctx context.Context) (*Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	principal, err := a.Authenticate(first(md, APIKeyHeader), first(md, AuthorizationHeader))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return principal, nil
}

func first(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func bearerToken(authorization string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// PrincipalFromContext extracts the authenticated caller from context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	return principal, ok
}
