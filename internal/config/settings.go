// Package config loads dirlister settings from embedded defaults, an optional
// TOML or YAML file, explicit overrides and DIRLISTER_* environment variables,
// in that order of increasing precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dirlister/internal/config/flatkeys"
)

const EnvPrefix = "DIRLISTER_"

//go:embed defaults.toml
var defaultsPayload []byte

type Settings struct {
	Cache   CacheSettings   `json:"cache"`
	Watch   WatchSettings   `json:"watch"`
	S3      S3Settings      `json:"s3"`
	Relay   RelaySettings   `json:"relay"`
	Log     LogSettings     `json:"log"`
	Otel    OtelSettings    `json:"otel"`
	Metrics MetricsSettings `json:"metrics"`
}

type CacheSettings struct {
	Capacity          int64         `json:"capacity" jsonschema:"description=Number of unused listings kept cached,minimum=1"`
	Debounce          time.Duration `json:"debounce" jsonschema:"type=string,description=Quiet period before watch events are reconciled"`
	CachedWatchGrace  time.Duration `json:"cached-watch-grace" jsonschema:"type=string,description=How long a cached listing keeps its watch; negative keeps it until eviction"`
	MaxConcurrentJobs int64         `json:"max-concurrent-jobs" jsonschema:"description=Cap on concurrent enumerations; 0 is unlimited,minimum=0"`
	JobStartRate      float64       `json:"job-start-rate" jsonschema:"description=Enumeration starts per second; 0 disables pacing,minimum=0"`
	BatchSize         int64         `json:"batch-size" jsonschema:"description=Entries per local enumeration batch,minimum=1"`
	RedirectSymlinks  bool          `json:"redirect-symlinks" jsonschema:"description=Redirect listings of symlinked directories to the resolved path"`
}

type WatchSettings struct {
	Enabled    bool          `json:"enabled"`
	Debounce   time.Duration `json:"debounce" jsonschema:"type=string"`
	MaxWatches int64         `json:"max-watches" jsonschema:"minimum=1"`
}

type S3Settings struct {
	Enabled           bool    `json:"enabled"`
	Region            string  `json:"region"`
	Endpoint          string  `json:"endpoint,omitempty"`
	AccessKeyID       string  `json:"access-key-id,omitempty"`
	SecretAccessKey   string  `json:"secret-access-key,omitempty"`
	PathStyle         bool    `json:"path-style"`
	RequestsPerSecond float64 `json:"requests-per-second" jsonschema:"minimum=0"`
	MaxRetries        int64   `json:"max-retries" jsonschema:"minimum=0"`
}

type RelaySettings struct {
	Listen string `json:"listen,omitempty" jsonschema:"description=Address the relay serves websocket peers on"`
	URL    string `json:"url,omitempty" jsonschema:"description=Relay websocket URL a peer connects to"`
	Origin string `json:"origin,omitempty" jsonschema:"description=Origin id of this process; generated when empty"`
	// History is how many events the relay keeps for reconnecting peers.
	History int64 `json:"history" jsonschema:"minimum=0,description=Events the relay replays to a peer that reconnects"`
}

type LogSettings struct {
	Level string `json:"level" jsonschema:"enum=debug,enum=info,enum=warning,enum=error"`
}

type OtelSettings struct {
	Enabled            bool   `json:"enabled"`
	Endpoint           string `json:"endpoint"`
	ServiceName        string `json:"service-name"`
	ResourceAttributes string `json:"resource-attributes,omitempty"`
}

type MetricsSettings struct {
	Listen string `json:"listen,omitempty"`
}

// Keys lists every setting key in its normalized dotted form.
var Keys = []string{
	"cache.capacity",
	"cache.debounce",
	"cache.cached-watch-grace",
	"cache.max-concurrent-jobs",
	"cache.job-start-rate",
	"cache.batch-size",
	"cache.redirect-symlinks",
	"watch.enabled",
	"watch.debounce",
	"watch.max-watches",
	"s3.enabled",
	"s3.region",
	"s3.endpoint",
	"s3.access-key-id",
	"s3.secret-access-key",
	"s3.path-style",
	"s3.requests-per-second",
	"s3.max-retries",
	"relay.listen",
	"relay.url",
	"relay.origin",
	"log.level",
	"otel.enabled",
	"otel.endpoint",
	"otel.service-name",
	"otel.resource-attributes",
	"metrics.listen",
}

// EnvName maps a setting key to its environment variable, so
// "cache.max-concurrent-jobs" becomes DIRLISTER_CACHE_MAX_CONCURRENT_JOBS.
func EnvName(key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + strings.ToUpper(replacer.Replace(flatkeys.NormalizeKey(key)))
}

// Defaults returns the embedded default settings.
func Defaults() Settings {
	settings, err := loadSettings("", nil, func(string) (string, bool) { return "", false })
	if err != nil {
		panic(fmt.Sprintf("embedded defaults: %v", err))
	}
	return settings
}

// LoadSettings reads path when it is non-empty. A missing file is not an
// error.
func LoadSettings(path string, overrides map[string]any) (Settings, error) {
	return loadSettings(path, overrides, os.LookupEnv)
}

func loadSettings(path string, overrides map[string]any, lookupEnv func(string) (string, bool)) (Settings, error) {
	defaultsStore, err := flatkeys.DecodeTOML(defaultsPayload)
	if err != nil {
		return Settings{}, err
	}
	defaults := defaultsStore.Flat()
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Settings{}, err
			}
		} else {
			store, err := flatkeys.DecodeFile(path, payload)
			if err != nil {
				return Settings{}, fmt.Errorf("parse %s: %w", path, err)
			}
			for key, value := range store.Flat() {
				values[key] = value
			}
		}
	}

	for key, value := range overrides {
		normalized := flatkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	for _, key := range Keys {
		if value, ok := lookupEnv(EnvName(key)); ok {
			values[key] = value
		}
	}

	settings := Settings{}

	settings.Cache.Capacity = intSetting(values, "cache.capacity", 0)
	settings.Cache.Debounce = durationSetting(values, "cache.debounce", 0)
	settings.Cache.CachedWatchGrace = durationSetting(values, "cache.cached-watch-grace", 0)
	settings.Cache.MaxConcurrentJobs = intSetting(values, "cache.max-concurrent-jobs", 0)
	settings.Cache.JobStartRate = floatSetting(values, "cache.job-start-rate", 0)
	settings.Cache.BatchSize = intSetting(values, "cache.batch-size", 0)
	settings.Cache.RedirectSymlinks = boolSetting(values, "cache.redirect-symlinks", false)

	settings.Watch.Enabled = boolSetting(values, "watch.enabled", boolSetting(defaults, "watch.enabled", true))
	settings.Watch.Debounce = durationSetting(values, "watch.debounce", 0)
	settings.Watch.MaxWatches = intSetting(values, "watch.max-watches", 0)

	settings.S3.Enabled = boolSetting(values, "s3.enabled", false)
	settings.S3.Region = stringSetting(values, "s3.region", "")
	settings.S3.Endpoint = stringSetting(values, "s3.endpoint", "")
	settings.S3.AccessKeyID = stringSetting(values, "s3.access-key-id", "")
	settings.S3.SecretAccessKey = stringSetting(values, "s3.secret-access-key", "")
	settings.S3.PathStyle = boolSetting(values, "s3.path-style", false)
	settings.S3.RequestsPerSecond = floatSetting(values, "s3.requests-per-second", 0)
	settings.S3.MaxRetries = intSetting(values, "s3.max-retries", 0)

	settings.Relay.Listen = stringSetting(values, "relay.listen", "")
	settings.Relay.URL = stringSetting(values, "relay.url", "")
	settings.Relay.Origin = stringSetting(values, "relay.origin", "")
	settings.Relay.History = intSetting(values, "relay.history", 0)

	settings.Log.Level = strings.ToLower(stringSetting(values, "log.level", ""))

	settings.Otel.Enabled = boolSetting(values, "otel.enabled", false)
	settings.Otel.Endpoint = stringSetting(values, "otel.endpoint", "")
	settings.Otel.ServiceName = stringSetting(values, "otel.service-name", "")
	settings.Otel.ResourceAttributes = stringSetting(values, "otel.resource-attributes", "")

	settings.Metrics.Listen = stringSetting(values, "metrics.listen", "")

	return normalizeSettings(settings, defaults), nil
}

func normalizeSettings(settings Settings, defaults map[string]any) Settings {
	if settings.Cache.Capacity <= 0 {
		settings.Cache.Capacity = intSetting(defaults, "cache.capacity", 0)
	}
	if settings.Cache.Debounce <= 0 {
		settings.Cache.Debounce = durationSetting(defaults, "cache.debounce", 0)
	}
	if settings.Cache.CachedWatchGrace == 0 {
		settings.Cache.CachedWatchGrace = durationSetting(defaults, "cache.cached-watch-grace", 0)
	}
	if settings.Cache.MaxConcurrentJobs < 0 {
		settings.Cache.MaxConcurrentJobs = 0
	}
	if settings.Cache.JobStartRate < 0 {
		settings.Cache.JobStartRate = 0
	}
	if settings.Cache.BatchSize <= 0 {
		settings.Cache.BatchSize = intSetting(defaults, "cache.batch-size", 0)
	}
	if settings.Watch.Debounce <= 0 {
		settings.Watch.Debounce = durationSetting(defaults, "watch.debounce", 0)
	}
	if settings.Watch.MaxWatches <= 0 {
		settings.Watch.MaxWatches = intSetting(defaults, "watch.max-watches", 0)
	}
	if settings.Relay.History < 0 {
		settings.Relay.History = 0
	}
	if settings.S3.Region == "" {
		settings.S3.Region = stringSetting(defaults, "s3.region", "")
	}
	if settings.S3.RequestsPerSecond < 0 {
		settings.S3.RequestsPerSecond = 0
	}
	if settings.Log.Level == "" {
		settings.Log.Level = stringSetting(defaults, "log.level", "")
	}
	if settings.Otel.Endpoint == "" {
		settings.Otel.Endpoint = stringSetting(defaults, "otel.endpoint", "")
	}
	if settings.Otel.ServiceName == "" {
		settings.Otel.ServiceName = stringSetting(defaults, "otel.service-name", "")
	}
	return settings
}

func intSetting(values map[string]any, key string, fallback int64) int64 {
	value, ok := values[flatkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := flatkeys.AsInt64(value); ok {
		return parsed
	}
	return fallback
}

func floatSetting(values map[string]any, key string, fallback float64) float64 {
	value, ok := values[flatkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := flatkeys.AsFloat64(value); ok {
		return parsed
	}
	return fallback
}

func durationSetting(values map[string]any, key string, fallback time.Duration) time.Duration {
	value, ok := values[flatkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := flatkeys.AsDuration(value); ok {
		return parsed
	}
	return fallback
}

func stringSetting(values map[string]any, key string, fallback string) string {
	value, ok := values[flatkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(string); ok {
		return strings.TrimSpace(parsed)
	}
	return fallback
}

func boolSetting(values map[string]any, key string, fallback bool) bool {
	value, ok := values[flatkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := flatkeys.AsBool(value); ok {
		return parsed
	}
	return fallback
}
