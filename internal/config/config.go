package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written either as Go
// duration strings ("1.5s") or as plain numbers of seconds (0.5).
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// Config is the root configuration for the deapi-mcp server.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Server     ServerConfig     `yaml:"server"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Polling    PollingConfig    `yaml:"polling"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// APIConfig configures the upstream deAPI REST client.
type APIConfig struct {
	// BaseURL is the upstream API origin, without a trailing slash.
	BaseURL string `yaml:"baseURL"`
	// Version selects the API version path segment (e.g. "v1").
	Version string `yaml:"version"`
	// Timeout bounds a single HTTP exchange with the upstream.
	Timeout Duration `yaml:"timeout"`
	// MaxRetries bounds transport-level retries for a single call.
	MaxRetries int `yaml:"maxRetries"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicBaseURL overrides the issuer URL advertised in the OAuth
	// metadata documents. When empty the URL is derived from the
	// incoming request.
	PublicBaseURL string `yaml:"publicBaseURL"`
}

// ListenAddress returns the host:port the HTTP server binds to.
func (s ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OAuthConfig configures the built-in authorization server.
type OAuthConfig struct {
	// ClientID is the single client identifier this server accepts.
	ClientID string `yaml:"clientID"`
	// SigningSecret signs JWTs and derives the credential encryption key.
	// Supplied via environment only, never via the config file.
	SigningSecret string `yaml:"-"`
	// CodeTTL is how long an authorization code stays redeemable.
	CodeTTL Duration `yaml:"codeTTL"`
	// CodeCapacity caps the number of outstanding authorization codes.
	CodeCapacity int `yaml:"codeCapacity"`
}

// PollingProfile describes the adaptive delay schedule for one job category.
type PollingProfile struct {
	InitialDelay  Duration `yaml:"initialDelay"`
	MaxDelay      Duration `yaml:"maxDelay"`
	BackoffFactor float64  `yaml:"backoffFactor"`
	Timeout       Duration `yaml:"timeout"`
}

// PollingConfig holds the per-category polling profiles.
type PollingConfig struct {
	Audio     PollingProfile `yaml:"audio"`
	Image     PollingProfile `yaml:"image"`
	Video     PollingProfile `yaml:"video"`
	Embedding PollingProfile `yaml:"embedding"`
	Default   PollingProfile `yaml:"default"`
}

// ProfileFor selects the polling profile for a job type by substring match,
// falling back to the default profile for unknown types.
func (p PollingConfig) ProfileFor(jobType string) PollingProfile {
	t := strings.ToLower(jobType)
	switch {
	case strings.Contains(t, "audio") || strings.Contains(t, "speech"):
		return p.Audio
	case strings.Contains(t, "image") || strings.Contains(t, "img"):
		return p.Image
	case strings.Contains(t, "video"):
		return p.Video
	case strings.Contains(t, "embedding"):
		return p.Embedding
	default:
		return p.Default
	}
}

// EnrichmentConfig controls model-catalog enrichment of tool descriptions.
type EnrichmentConfig struct {
	Enabled  bool     `yaml:"enabled"`
	CacheTTL Duration `yaml:"cacheTTL"`
}

// Default returns the canonical configuration. Every loader starts from
// these values and overlays file and environment settings on top.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.deapi.ai",
			Version:    "v1",
			Timeout:    Duration(30 * time.Second),
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		OAuth: OAuthConfig{
			ClientID:     "deapi-mcp",
			CodeTTL:      Duration(10 * time.Minute),
			CodeCapacity: 1000,
		},
		Polling: PollingConfig{
			Audio: PollingProfile{
				InitialDelay:  Duration(1 * time.Second),
				MaxDelay:      Duration(5 * time.Second),
				BackoffFactor: 1.5,
				Timeout:       Duration(300 * time.Second),
			},
			Image: PollingProfile{
				InitialDelay:  Duration(2 * time.Second),
				MaxDelay:      Duration(8 * time.Second),
				BackoffFactor: 1.5,
				Timeout:       Duration(300 * time.Second),
			},
			Video: PollingProfile{
				InitialDelay:  Duration(5 * time.Second),
				MaxDelay:      Duration(30 * time.Second),
				BackoffFactor: 1.5,
				Timeout:       Duration(900 * time.Second),
			},
			Embedding: PollingProfile{
				InitialDelay:  Duration(500 * time.Millisecond),
				MaxDelay:      Duration(3 * time.Second),
				BackoffFactor: 1.5,
				Timeout:       Duration(120 * time.Second),
			},
			Default: PollingProfile{
				InitialDelay:  Duration(2 * time.Second),
				MaxDelay:      Duration(10 * time.Second),
				BackoffFactor: 1.5,
				Timeout:       Duration(300 * time.Second),
			},
		},
		Enrichment: EnrichmentConfig{
			Enabled:  true,
			CacheTTL: Duration(300 * time.Second),
		},
	}
}
