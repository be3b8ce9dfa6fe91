package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"dirlister/internal/config"
	"dirlister/internal/dircache"
	"dirlister/internal/event"
	"dirlister/internal/location"
	"dirlister/internal/logging"
	"dirlister/internal/metrics"
	"dirlister/internal/notify"
	"dirlister/internal/otel"
	"dirlister/internal/source"
	"dirlister/internal/version"
	"dirlister/internal/watcher"
)

// runtime is one fully wired cache with its watcher, change bus and
// telemetry, torn down through its shutdown coordinator.
type runtime struct {
	settings config.Settings
	logger   *logging.Logger
	metrics  *metrics.Registry
	origin   string
	bus      *event.Bus[event.DirEvent]
	cache    *dircache.Cache
	shutdown *shutdownCoordinator
	// failed receives the first unrecoverable background error.
	failed chan error
}

func newLogger(settings config.Settings, errOut io.Writer) *logging.Logger {
	level, ok := logging.ParseLevel(settings.Log.Level)
	if !ok {
		level = logging.LevelInfo
	}
	return logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, errOut)
}

func newOrigin(settings config.Settings) string {
	if settings.Relay.Origin != "" {
		return settings.Relay.Origin
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dirlister"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func newRuntime(ctx context.Context, settings config.Settings, errOut io.Writer) (*runtime, error) {
	logger := newLogger(settings, errOut)
	registry := metrics.New()
	rt := &runtime{
		settings: settings,
		logger:   logger,
		metrics:  registry,
		origin:   newOrigin(settings),
		shutdown: newShutdownCoordinator(logger),
		failed:   make(chan error, 1),
	}

	otelShutdown, err := otel.SetupSDK(ctx, otel.SDKOptions{
		Enabled:            settings.Otel.Enabled,
		HTTPEndpoint:       settings.Otel.Endpoint,
		ServiceName:        settings.Otel.ServiceName,
		ServiceVersion:     version.Version,
		ResourceAttributes: otel.ParseResourceAttributes(settings.Otel.ResourceAttributes),
	})
	if err != nil {
		return nil, fmt.Errorf("setup otel: %w", err)
	}
	rt.shutdown.Add("otel", otelShutdown)

	sources := dircache.Sources{
		location.SchemeFile: source.NewLocal(source.LocalOptions{
			BatchSize:        int(settings.Cache.BatchSize),
			RedirectSymlinks: settings.Cache.RedirectSymlinks,
			Logger:           logger.Component("source"),
		}),
	}
	if settings.S3.Enabled {
		client, err := source.NewS3Client(ctx, source.S3ClientConfig{
			Region:          settings.S3.Region,
			Endpoint:        settings.S3.Endpoint,
			AccessKeyID:     settings.S3.AccessKeyID,
			SecretAccessKey: settings.S3.SecretAccessKey,
			ForcePathStyle:  settings.S3.PathStyle,
			MaxRetries:      int(settings.S3.MaxRetries),
		})
		if err != nil {
			_ = rt.shutdown.Run(ctx)
			return nil, err
		}
		s3Source, err := source.NewS3(source.S3Options{
			Client:            client,
			RequestsPerSecond: settings.S3.RequestsPerSecond,
			Burst:             1,
			Logger:            logger.Component("source"),
		})
		if err != nil {
			_ = rt.shutdown.Run(ctx)
			return nil, err
		}
		sources[source.SchemeS3] = s3Source
	}

	rt.bus = event.NewBus[event.DirEvent](ctx, event.BusOptions{
		Name:     "dir_events",
		Registry: registry,
		Logger:   logger.Component("bus"),
	})
	rt.shutdown.Add("bus", func(context.Context) error {
		rt.bus.Close()
		return nil
	})

	options := dircache.Options{
		Capacity:          int(settings.Cache.Capacity),
		Debounce:          settings.Cache.Debounce,
		CachedWatchGrace:  settings.Cache.CachedWatchGrace,
		MaxConcurrentJobs: int(settings.Cache.MaxConcurrentJobs),
		JobStartRate:      settings.Cache.JobStartRate,
		Sources:           sources,
		Announcer:         notify.NewBusAnnouncer(rt.bus, rt.origin),
		Logger:            logger.Component("cache"),
		Metrics:           registry,
	}

	if settings.Watch.Enabled {
		fsWatcher, err := watcher.NewWithOptions(watcher.Options{
			Logger:     logger.Component("watcher"),
			Metrics:    registry,
			Debounce:   settings.Watch.Debounce,
			MaxWatches: int(settings.Watch.MaxWatches),
			ErrorHandler: func(err error) {
				rt.fail("watcher", err)
			},
		})
		if err != nil {
			_ = rt.shutdown.Run(ctx)
			return nil, fmt.Errorf("start watcher: %w", err)
		}
		bridge := watcher.NewBridge(fsWatcher, logger.Component("watcher"))
		rt.shutdown.Add("watcher", func(context.Context) error {
			bridgeErr := bridge.Close()
			summary := fsWatcher.Metrics()
			logger.Info("watcher stopped", map[string]string{
				"active_watches":   strconv.Itoa(summary.ActiveWatches),
				"events_delivered": strconv.FormatUint(summary.EventsDelivered, 10),
				"events_dropped":   strconv.FormatUint(summary.EventsDropped, 10),
				"errors":           strconv.FormatUint(summary.Errors, 10),
				"restart_attempts": strconv.Itoa(summary.RestartAttempts),
			})
			watcherErr := fsWatcher.Close()
			if bridgeErr != nil {
				return bridgeErr
			}
			return watcherErr
		})
		options.Watch = bridge
	}

	rt.cache = dircache.New(options)
	rt.shutdown.Add("cache", func(context.Context) error {
		return rt.cache.Close()
	})
	return rt, nil
}

// startPeer connects the cache to a relay in the background. The returned
// channel is closed once the peer stops.
func (rt *runtime) startPeer(ctx context.Context, url string) (<-chan struct{}, error) {
	peer, err := notify.NewPeer(notify.PeerOptions{
		URL:    url,
		Origin: rt.origin,
		Bus:    rt.bus,
		Target: rt.cache,
		Logger: rt.logger.Component("peer"),
	})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := peer.Run(ctx); err != nil {
			rt.logger.Warn("relay peer stopped", map[string]string{
				"url":   url,
				"error": err.Error(),
			})
		}
	}()
	return done, nil
}

// fail records an unrecoverable error from a background component. Only the
// first one is kept.
func (rt *runtime) fail(component string, err error) {
	rt.logger.Error("component failed", map[string]string{
		"component": component,
		"error":     err.Error(),
	})
	select {
	case rt.failed <- fmt.Errorf("%s: %w", component, err):
	default:
	}
}

// wait blocks until ctx ends or a background component fails, and returns
// the matching exit code.
func (rt *runtime) wait(ctx context.Context, errOut io.Writer) int {
	select {
	case <-ctx.Done():
		return exitCodeSuccess
	case err := <-rt.failed:
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}
}

func (rt *runtime) close() error {
	return rt.shutdown.Run(context.Background())
}

func loadSettings(path string) (config.Settings, error) {
	settings, err := config.LoadSettings(path, nil)
	if err != nil {
		return config.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}
