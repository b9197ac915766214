// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	// DefaultOllamaAPIBase is used when OLLAMA_API_BASE is unset or empty.
	DefaultOllamaAPIBase = "http://localhost:11434"

	// DefaultOllamaModel is used when OLLAMA_MODEL is unset or empty.
	DefaultOllamaModel = "llama2"
)

// Config holds all configuration for the streaming service
type Config struct {
	// Server
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"9090"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Ollama
	OllamaAPIBase       string `env:"OLLAMA_API_BASE" envDefault:"http://localhost:11434"`
	OllamaModel         string `env:"OLLAMA_MODEL" envDefault:"llama2"`
	OllamaSystemMessage string `env:"OLLAMA_SYSTEM_MESSAGE"`
	OllamaProxyURL      string `env:"OLLAMA_PROXY_URL"`
	OllamaPreload       bool   `env:"OLLAMA_PRELOAD" envDefault:"true"`

	// Auth
	APIKey    string        `env:"API_KEY"`
	JWTSecret string        `env:"JWT_SECRET"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize substitutes defaults for values that were set but left empty.
// envDefault only applies to unset variables, so OLLAMA_API_BASE="" would
// otherwise reach the client as an empty base URL.
func (c *Config) Normalize() {
	c.OllamaAPIBase = ResolveAPIBase(c.OllamaAPIBase)
	if strings.TrimSpace(c.OllamaModel) == "" {
		c.OllamaModel = DefaultOllamaModel
	}
}

// ResolveAPIBase returns apiBase without a trailing slash, or the default
// Ollama address when apiBase is empty.
func ResolveAPIBase(apiBase string) string {
	apiBase = strings.TrimSpace(apiBase)
	if apiBase == "" {
		return DefaultOllamaAPIBase
	}
	return strings.TrimSuffix(apiBase, "/")
}

// ProxyURL parses the outbound proxy setting. It returns nil when no proxy is configured.
func (c *Config) ProxyURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.OllamaProxyURL)
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing OLLAMA_PROXY_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing OLLAMA_PROXY_URL: %q is not an absolute URL", raw)
	}
	return u, nil
}

// AuthEnabled reports whether either API key or JWT authentication is configured.
func (c *Config) AuthEnabled() bool {
	return c.APIKey != "" || c.JWTSecret != ""
}
