package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speedcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CORS_ORIGIN", "")
	t.Setenv("SPEEDCHECK_API_URL", "")
	t.Setenv("SPEEDCHECK_RATE_LIMIT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":5000", cfg.Server.Addr())
}

func TestLoadFileMergesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CORS_ORIGIN", "")
	t.Setenv("SPEEDCHECK_API_URL", "")
	t.Setenv("SPEEDCHECK_RATE_LIMIT", "")

	path := writeConfig(t, `
server:
  port: 8081
  max_download_mb: 20
client:
  api_url: https://speed.example.com/api
  timeout: 15
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Server.MaxDownloadMB)
	assert.Equal(t, 5, cfg.Server.DefaultDownloadMB)
	assert.Equal(t, 50, cfg.Server.MaxUploadMB)
	assert.Equal(t, "http://localhost:5173", cfg.Server.CORSOrigin)
	assert.Equal(t, "https://speed.example.com/api", cfg.Client.APIURL)
	assert.Equal(t, 15, cfg.Client.Timeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n  cors_origin: https://a.example\n")
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGIN", "https://b.example")
	t.Setenv("SPEEDCHECK_API_URL", "http://10.0.0.2:9000/api")
	t.Setenv("SPEEDCHECK_RATE_LIMIT", "2.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://b.example", cfg.Server.CORSOrigin)
	assert.Equal(t, "http://10.0.0.2:9000/api", cfg.Client.APIURL)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("SPEEDCHECK_API_URL", "")
	t.Setenv("SPEEDCHECK_RATE_LIMIT", "")
	t.Setenv("CORS_ORIGIN", "")

	tests := []struct {
		name string
		path func(t *testing.T) string
		port string
	}{
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{name: "bad yaml", path: func(t *testing.T) string { return writeConfig(t, "server: [") }},
		{name: "bad port env", path: func(*testing.T) string { return "" }, port: "http"},
		{name: "port out of range", path: func(*testing.T) string { return "" }, port: "70000"},
		{name: "bad api url", path: func(t *testing.T) string { return writeConfig(t, "client:\n  api_url: localhost:5000\n") }},
		{name: "cors origin without scheme", path: func(t *testing.T) string {
			return writeConfig(t, "server:\n  cors_origin: app.example\n")
		}},
		{name: "default above max", path: func(t *testing.T) string {
			return writeConfig(t, "server:\n  default_download_mb: 60\n")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PORT", tt.port)
			_, err := Load(tt.path(t))
			assert.Error(t, err)
		})
	}
}
