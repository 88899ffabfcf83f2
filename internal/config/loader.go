package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the loader. Environment settings win
// over both defaults and the config file.
const (
	EnvAPIBaseURL     = "DEAPI_API_BASE_URL"
	EnvSigningSecret  = "DEAPI_JWT_SECRET_KEY"
	EnvPublicBaseURL  = "PUBLIC_BASE_URL"
	EnvHost           = "MCP_HOST"
	EnvPort           = "MCP_PORT"
	EnvEnrichToolDocs = "DEAPI_ENRICH_TOOL_DESCRIPTIONS"
)

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.API.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvSigningSecret); v != "" {
		cfg.OAuth.SigningSecret = v
	}
	if v := os.Getenv(EnvPublicBaseURL); v != "" {
		cfg.Server.PublicBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(EnvEnrichToolDocs); v != "" {
		cfg.Enrichment.Enabled = isTruthy(v)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.baseURL must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.OAuth.ClientID == "" {
		return fmt.Errorf("oauth.clientID must not be empty")
	}
	if c.OAuth.CodeCapacity <= 0 {
		return fmt.Errorf("oauth.codeCapacity must be positive")
	}
	for name, p := range map[string]PollingProfile{
		"audio":     c.Polling.Audio,
		"image":     c.Polling.Image,
		"video":     c.Polling.Video,
		"embedding": c.Polling.Embedding,
		"default":   c.Polling.Default,
	} {
		if p.InitialDelay <= 0 || p.MaxDelay < p.InitialDelay {
			return fmt.Errorf("polling.%s: delays must satisfy 0 < initialDelay <= maxDelay", name)
		}
		if p.BackoffFactor < 1 {
			return fmt.Errorf("polling.%s: backoffFactor must be >= 1", name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("polling.%s: timeout must be positive", name)
		}
	}
	return nil
}
