package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allEnv = []string{
	EnvConfigFile, EnvPort, EnvLogLevel, EnvDataDir, EnvBackendURL, EnvBackendToken,
	EnvPollInterval, EnvPollMaxDuration, EnvPollBackoff, EnvPollMaxInterval, EnvUploadMaxBytes,
	EnvProgressMode, EnvControlsHideDelay, EnvRequestTimeout, EnvAutoDownload, EnvWatchDir,
	EnvHeadless, EnvAllowedOrigins,
}

// clearEnv blanks every agent variable for the test; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnv {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port())
	assert.Equal(t, "info", cfg.LogLevel())
	assert.Equal(t, DefaultBackendURL, cfg.BackendURL())
	assert.Empty(t, cfg.BackendToken())
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Zero(t, cfg.PollMaxDuration())
	assert.Equal(t, 1.0, cfg.PollBackoff())
	assert.Equal(t, 30*time.Second, cfg.PollMaxInterval())
	assert.Equal(t, int64(100*1024*1024), cfg.UploadMaxBytes())
	assert.Equal(t, "synthetic", cfg.ProgressMode())
	assert.Equal(t, 3*time.Second, cfg.ControlsHideDelay())
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
	assert.True(t, cfg.AutoDownload())
	assert.Empty(t, cfg.WatchDir())
	assert.False(t, cfg.Headless())
	assert.Empty(t, cfg.AllowedOrigins())
	assert.Equal(t, filepath.Join(cfg.DataDir(), DBFilename), cfg.DBPath())
	assert.Equal(t, filepath.Join(cfg.DataDir(), "cache"), cfg.CacheDir())
}

func TestNew_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvDataDir, "/tmp/hl")
	t.Setenv(EnvBackendURL, "https://clips.example.com")
	t.Setenv(EnvBackendToken, "secret-token")
	t.Setenv(EnvPollInterval, "500ms")
	t.Setenv(EnvPollMaxDuration, "10m")
	t.Setenv(EnvPollBackoff, "1.5")
	t.Setenv(EnvUploadMaxBytes, "1024")
	t.Setenv(EnvProgressMode, "transfer")
	t.Setenv(EnvAutoDownload, "false")
	t.Setenv(EnvHeadless, "true")
	t.Setenv(EnvAllowedOrigins, "https://ui.example.com, ,http://studio.local")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port())
	assert.Equal(t, "/tmp/hl", cfg.DataDir())
	assert.Equal(t, "https://clips.example.com", cfg.BackendURL())
	assert.Equal(t, "secret-token", cfg.BackendToken())
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 10*time.Minute, cfg.PollMaxDuration())
	assert.Equal(t, 1.5, cfg.PollBackoff())
	assert.Equal(t, int64(1024), cfg.UploadMaxBytes())
	assert.Equal(t, "transfer", cfg.ProgressMode())
	assert.False(t, cfg.AutoDownload())
	assert.True(t, cfg.Headless())
	assert.Equal(t, []string{"https://ui.example.com", "http://studio.local"}, cfg.AllowedOrigins())
}

func TestNew_FileOverlayAndEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
port: 9100
log_level: debug
backend:
  url: http://backend.lan:5000
  token: file-token
  timeout: 15s
poll:
  interval: 3s
  backoff: 2
upload:
  max_bytes: 2048
player:
  controls_hide_delay: 5s
auto_download: false
watch_dir: /srv/inbox
allowed_origins:
  - http://tablet.lan:3000
`)
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvBackendToken, "env-token")
	t.Setenv(EnvPollInterval, "1s")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port())
	assert.Equal(t, "debug", cfg.LogLevel())
	assert.Equal(t, "http://backend.lan:5000", cfg.BackendURL())
	assert.Equal(t, "env-token", cfg.BackendToken())
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout())
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 2.0, cfg.PollBackoff())
	assert.Equal(t, int64(2048), cfg.UploadMaxBytes())
	assert.Equal(t, 5*time.Second, cfg.ControlsHideDelay())
	assert.False(t, cfg.AutoDownload())
	assert.Equal(t, "/srv/inbox", cfg.WatchDir())
	assert.Equal(t, []string{"http://tablet.lan:3000"}, cfg.AllowedOrigins())
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port not a number", map[string]string{EnvPort: "abc"}},
		{"port out of range", map[string]string{EnvPort: "70000"}},
		{"bad duration", map[string]string{EnvPollInterval: "soon"}},
		{"zero interval", map[string]string{EnvPollInterval: "0s"}},
		{"backoff below one", map[string]string{EnvPollBackoff: "0.5"}},
		{"bad bool", map[string]string{EnvAutoDownload: "maybe"}},
		{"unknown progress mode", map[string]string{EnvProgressMode: "fancy"}},
		{"backend without scheme", map[string]string{EnvBackendURL: "localhost:5000"}},
		{"missing file", map[string]string{EnvConfigFile: "/nonexistent/agent.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestNew_MalformedFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeFile(t, "poll: [not, a, map"))

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestNew_FileBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeFile(t, "poll:\n  max_interval: forever\n"))

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll.max_interval")
}

func TestAllowedOrigins_ReturnsCopy(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAllowedOrigins, "http://a.lan")

	cfg, err := New()
	require.NoError(t, err)
	origins := cfg.AllowedOrigins()
	origins[0] = "mutated"
	assert.Equal(t, []string{"http://a.lan"}, cfg.AllowedOrigins())
}
