package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "jobfeed.db", cfg.Store.DatabaseURL)
	assert.EqualValues(t, 10, cfg.Store.Pool.MaxConns)
	assert.Equal(t, "v2", cfg.Cache.Version)
	assert.Empty(t, cfg.Cache.RedisURL)
	assert.Equal(t, 50, cfg.Validation.MinDescriptionLength)
	assert.Equal(t, []string{"US", "CA", "IN", "AU"}, cfg.Validation.AllowedCountries)
	assert.InDelta(t, 85, cfg.Dedup.Threshold, 0.001)
	assert.Equal(t, 100, cfg.Status.BatchSize)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrent)
	assert.True(t, cfg.Pipeline.ExtractSkills)
	assert.Equal(t, 15*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 5, cfg.Probe.Breaker.FailureThreshold)
	assert.Equal(t, "jobfeed/1.0", cfg.Ingest.UserAgent)
	assert.Positive(t, cfg.Ingest.Retry.MaxAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/jobs
dedup:
  threshold: 90
validation:
  allowed_countries: [US, GB]
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobfeed.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/jobs", cfg.Store.DatabaseURL)
	assert.InDelta(t, 90, cfg.Dedup.Threshold, 0.001)
	assert.Equal(t, []string{"US", "GB"}, cfg.Validation.AllowedCountries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Unset values keep their defaults.
	assert.Equal(t, 100, cfg.Status.BatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobfeed.yaml"), []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("JOBFEED_SERVER_PORT", "7070")
	t.Setenv("JOBFEED_STORE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_concurrent: 3\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrent)
}

func TestLoadFile_Missing(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	for _, mode := range []string{"ingest", "status", "serve", "read"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.Driver = "mysql"
	cfg.Cache.RedisURL = "http://localhost:6379"
	cfg.Dedup.Threshold = 0
	cfg.Log.Level = "loud"

	err = cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "cache.redis_url")
	assert.Contains(t, err.Error(), "dedup.threshold")
	assert.Contains(t, err.Error(), "log.level")
}

func TestValidate_ModeSpecific(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Status.BatchSize = 0

	assert.NoError(t, cfg.Validate("ingest"))
	assert.ErrorContains(t, cfg.Validate("serve"), "server.port")
	assert.ErrorContains(t, cfg.Validate("status"), "status.batch_size")
	assert.ErrorContains(t, cfg.Validate("bogus"), "unknown mode")
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "json", cfg: LogConfig{Level: "info", Format: "json"}},
		{name: "console", cfg: LogConfig{Level: "debug", Format: "console"}},
		{name: "bad level", cfg: LogConfig{Level: "loud", Format: "json"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}
