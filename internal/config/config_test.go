package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestProfileFor(t *testing.T) {
	polling := Default().Polling

	tests := []struct {
		jobType string
		want    PollingProfile
	}{
		{"audiofile2txt", polling.Audio},
		{"txt2speech", polling.Audio},
		{"txt2img", polling.Image},
		{"image_upscale", polling.Image},
		{"txt2video", polling.Video},
		{"txt2embedding", polling.Embedding},
		{"something-else", polling.Default},
		{"", polling.Default},
	}

	for _, tt := range tests {
		t.Run(tt.jobType, func(t *testing.T) {
			assert.Equal(t, tt.want, polling.ProfileFor(tt.jobType))
		})
	}
}

func TestProfileForVideoBeatsImageOnlyWhenNoImgSubstring(t *testing.T) {
	// img2video contains both "img" and "video"; the image match wins
	// because it is checked first. txt2video has no image substring.
	polling := Default().Polling
	assert.Equal(t, polling.Image, polling.ProfileFor("img2video"))
	assert.Equal(t, polling.Video, polling.ProfileFor("txt2video"))
}

func TestDurationUnmarshalYAML(t *testing.T) {
	var cfg Config
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("polling:\n  default:\n    initialDelay: 0.5\n    maxDelay: 10s\n    backoffFactor: 2\n    timeout: 120\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	cfg = *loaded

	assert.Equal(t, 500*time.Millisecond, cfg.Polling.Default.InitialDelay.Duration())
	assert.Equal(t, 10*time.Second, cfg.Polling.Default.MaxDelay.Duration())
	assert.Equal(t, 120*time.Second, cfg.Polling.Default.Timeout.Duration())
	assert.Equal(t, 2.0, cfg.Polling.Default.BackoffFactor)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://staging.deapi.ai/")
	t.Setenv(EnvSigningSecret, "super-secret-signing-key")
	t.Setenv(EnvPublicBaseURL, "https://mcp.example.com")
	t.Setenv(EnvHost, "127.0.0.1")
	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvEnrichToolDocs, "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://staging.deapi.ai", cfg.API.BaseURL)
	assert.Equal(t, "super-secret-signing-key", cfg.OAuth.SigningSecret)
	assert.Equal(t, "https://mcp.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.ListenAddress())
	assert.False(t, cfg.Enrichment.Enabled)
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  host: 10.0.0.1\n  port: 8080\napi:\n  baseURL: https://file.example.com\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Setenv(EnvHost, "0.0.0.0")

	cfg, err := Load(path)
	require.NoError(t, err)

	// env beats file, file beats default
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://file.example.com", cfg.API.BaseURL)
}

func TestValidateRejectsBrokenProfiles(t *testing.T) {
	cfg := Default()
	cfg.Polling.Video.BackoffFactor = 0.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Polling.Audio.MaxDelay = Duration(100 * time.Millisecond)
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.OAuth.CodeCapacity = 0
	assert.Error(t, cfg.Validate())
}
