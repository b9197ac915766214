package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned for malformed, foreign or tampered tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidClaims is returned when a token names no client
	ErrInvalidClaims = errors.New("invalid token claims")
)

const defaultTokenExpiry = 24 * time.Hour

// Claims identifies the client a completion token was issued to
type Claims struct {
	jwt.RegisteredClaims
	Client string `json:"client"`
}

// JWTConfig holds configuration for client tokens
type JWTConfig struct {
	Secret        string
	Expiry        time.Duration
	Issuer        string
	SigningMethod jwt.SigningMethod
}

// DefaultJWTConfig returns an HS256 configuration issuing day-long tokens
func DefaultJWTConfig(secret string) *JWTConfig {
	return &JWTConfig{
		Secret:        secret,
		Expiry:        defaultTokenExpiry,
		Issuer:        "ollamastream",
		SigningMethod: jwt.SigningMethodHS256,
	}
}

// JWTManager issues and checks client tokens
type JWTManager struct {
	config *JWTConfig
	parser *jwt.Parser
	// lenient skips exp/nbf checks; used only to read claims for refresh
	lenient *jwt.Parser
}

// NewJWTManager creates a JWTManager, filling unset fields with defaults
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config.SigningMethod == nil {
		config.SigningMethod = jwt.SigningMethodHS256
	}
	if config.Expiry <= 0 {
		config.Expiry = defaultTokenExpiry
	}

	methods := jwt.WithValidMethods([]string{config.SigningMethod.Alg()})
	opts := []jwt.ParserOption{methods}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &JWTManager{
		config:  config,
		parser:  jwt.NewParser(opts...),
		lenient: jwt.NewParser(methods, jwt.WithoutClaimsValidation()),
	}
}

// GenerateToken issues a token for client with the configured expiry
func (m *JWTManager) GenerateToken(client string) (string, error) {
	return m.GenerateTokenWithExpiry(client, m.config.Expiry)
}

// GenerateTokenWithExpiry issues a token for client valid for expiry
func (m *JWTManager) GenerateTokenWithExpiry(client string, expiry time.Duration) (string, error) {
	client = strings.TrimSpace(client)
	if client == "" {
		return "", fmt.Errorf("%w: client name is required", ErrInvalidClaims)
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
		Client: client,
	}

	signed, err := jwt.NewWithClaims(m.config.SigningMethod, claims).SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("signing token for %q: %w", client, err)
	}
	return signed, nil
}

// ValidateToken checks signature, issuer and expiry and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := m.parse(m.parser, tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, err
	}
	return claims, nil
}

// RefreshToken reissues a token for the same client. The old token may be
// expired but must otherwise be genuine.
func (m *JWTManager) RefreshToken(tokenString string) (string, error) {
	claims, err := m.ValidateToken(tokenString)
	if errors.Is(err, ErrExpiredToken) {
		claims, err = m.parse(m.lenient, tokenString)
	}
	if err != nil {
		return "", err
	}
	return m.GenerateToken(claims.Client)
}

func (m *JWTManager) parse(parser *jwt.Parser, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Client == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
