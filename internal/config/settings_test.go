package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsMatchEmbeddedFile(t *testing.T) {
	settings := Defaults()

	assert.Equal(t, int64(10), settings.Cache.Capacity)
	assert.Equal(t, 500*time.Millisecond, settings.Cache.Debounce)
	assert.Equal(t, 30*time.Second, settings.Cache.CachedWatchGrace)
	assert.Equal(t, int64(256), settings.Cache.BatchSize)
	assert.True(t, settings.Watch.Enabled)
	assert.Equal(t, 100*time.Millisecond, settings.Watch.Debounce)
	assert.Equal(t, int64(1024), settings.Watch.MaxWatches)
	assert.False(t, settings.S3.Enabled)
	assert.Equal(t, "us-east-1", settings.S3.Region)
	assert.Equal(t, "info", settings.Log.Level)
	assert.Equal(t, "dirlister", settings.Otel.ServiceName)
	assert.Equal(t, int64(256), settings.Relay.History)
}

func TestLoadSettingsFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirlister.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cache]\ncapacity = 42\ndebounce = \"1s\"\n[s3]\nenabled = true\nendpoint = \"http://localhost:9000\"\n"), 0o644))

	settings, err := loadSettings(path, nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, int64(42), settings.Cache.Capacity)
	assert.Equal(t, time.Second, settings.Cache.Debounce)
	assert.True(t, settings.S3.Enabled)
	assert.Equal(t, "http://localhost:9000", settings.S3.Endpoint)
	assert.Equal(t, int64(256), settings.Cache.BatchSize)
}

func TestLoadSettingsReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirlister.yaml")
	payload := "cache:\n  capacity: 7\n  cached_watch_grace: -1s\nrelay:\n  url: ws://127.0.0.1:7070/relay\n  history: 0\nlog:\n  level: DEBUG\n"
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	settings, err := loadSettings(path, nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, int64(7), settings.Cache.Capacity)
	assert.Equal(t, -time.Second, settings.Cache.CachedWatchGrace)
	assert.Equal(t, "ws://127.0.0.1:7070/relay", settings.Relay.URL)
	assert.Equal(t, int64(0), settings.Relay.History, "zero turns relay replay off")
	assert.Equal(t, "debug", settings.Log.Level)
}

func TestLoadSettingsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirlister.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cache]\ncapacity = 1\nmax-concurrent-jobs = 2\n"), 0o644))

	env := map[string]string{
		"DIRLISTER_CACHE_MAX_CONCURRENT_JOBS": "8",
		"DIRLISTER_WATCH_ENABLED":             "false",
	}
	lookup := func(name string) (string, bool) {
		value, ok := env[name]
		return value, ok
	}
	overrides := map[string]any{
		"cache.capacity":            int64(5),
		"cache.max_concurrent_jobs": int64(4),
	}

	settings, err := loadSettings(path, overrides, lookup)
	require.NoError(t, err)
	assert.Equal(t, int64(5), settings.Cache.Capacity, "override beats file")
	assert.Equal(t, int64(8), settings.Cache.MaxConcurrentJobs, "environment beats override")
	assert.False(t, settings.Watch.Enabled)
}

func TestLoadSettingsFromProcessEnvironment(t *testing.T) {
	t.Setenv("DIRLISTER_S3_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("DIRLISTER_CACHE_DEBOUNCE", "250")

	settings, err := LoadSettings("", nil)
	require.NoError(t, err)
	assert.Equal(t, 2.5, settings.S3.RequestsPerSecond)
	assert.Equal(t, 250*time.Millisecond, settings.Cache.Debounce)
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	settings, err := loadSettings(filepath.Join(t.TempDir(), "absent.toml"), nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), settings)
}

func TestLoadSettingsRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirlister.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cache\ncapacity = "), 0o644))

	_, err := loadSettings(path, nil, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	overrides := map[string]any{
		"cache.capacity":         int64(-3),
		"watch.debounce":         "soon",
		"s3.requests-per-second": -1.0,
	}
	settings, err := loadSettings("", overrides, noEnv)
	require.NoError(t, err)
	assert.Equal(t, int64(10), settings.Cache.Capacity)
	assert.Equal(t, 100*time.Millisecond, settings.Watch.Debounce)
	assert.Equal(t, 0.0, settings.S3.RequestsPerSecond)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DIRLISTER_CACHE_CACHED_WATCH_GRACE", EnvName("cache.cached-watch-grace"))
	assert.Equal(t, "DIRLISTER_LOG_LEVEL", EnvName("Log.Level"))
}

func TestSchemaCoversEverySection(t *testing.T) {
	payload, err := json.Marshal(Schema())
	require.NoError(t, err)

	var decoded struct {
		Properties map[string]struct {
			Properties map[string]any `json:"properties"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))

	for _, key := range Keys {
		section, field, ok := strings.Cut(key, ".")
		require.True(t, ok, key)
		require.Contains(t, decoded.Properties, section)
		assert.Contains(t, decoded.Properties[section].Properties, field, key)
	}
}
