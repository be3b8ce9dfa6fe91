package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dirlister/internal/cli"
	"dirlister/internal/debugapi"
	"dirlister/internal/event"
	"dirlister/internal/metrics"
	"dirlister/internal/notify"
)

const (
	defaultRelayListen   = "127.0.0.1:7070"
	relayShutdownTimeout = 5 * time.Second
)

func runRelay(args []string, out io.Writer, errOut io.Writer) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	return relayWithContext(ctx, cancel, signalCh, args, out, errOut, nil)
}

// relayWithContext serves until ctx ends. ready, when non-nil, receives the
// bound address once the listener is up.
func relayWithContext(ctx context.Context, cancel context.CancelFunc, signalCh <-chan os.Signal, args []string, out io.Writer, errOut io.Writer, ready chan<- string) int {
	fs := flag.NewFlagSet("dirlister relay", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := cli.AddConfigFlag(fs)
	listen := fs.String("listen", "", "Address to serve /relay and /metrics on")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		return exitCodeUsage
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}
	addr := *listen
	if addr == "" {
		addr = settings.Relay.Listen
	}
	if addr == "" {
		addr = defaultRelayListen
	}

	logger := newLogger(settings, errOut)
	stopSignals := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignals()

	registry := metrics.New()
	bus := event.NewBus[event.DirEvent](ctx, event.BusOptions{
		Name:        "relay_events",
		HistorySize: int(settings.Relay.History),
		Registry:    registry,
		Logger:      logger.Component("relay"),
	})
	defer bus.Close()
	relay := notify.NewRelay(bus, logger.Component("relay"))

	mux := http.NewServeMux()
	mux.Handle("/relay", relay)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		published, dropped := bus.Stats()
		fmt.Fprintf(w, "ok peers=%d subscribers=%d published=%d dropped=%d\n",
			relay.Peers(), bus.SubscriberCount(), published, dropped)
	})
	debugapi.Register(mux, logger, bus)
	if settings.Metrics.Listen == "" || settings.Metrics.Listen == addr {
		mux.Handle("/metrics", registry.Handler())
	} else {
		metricsServer := &http.Server{
			Addr:              settings.Metrics.Listen,
			Handler:           registry.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", map[string]string{
					"error": err.Error(),
				})
			}
		}()
		defer metricsServer.Close()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logger.Info("relay listening", map[string]string{
		"addr": listener.Addr().String(),
	})
	fmt.Fprintf(out, "relay listening on ws://%s/relay\n", listener.Addr())
	if ready != nil {
		ready <- listener.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(errOut, err)
			return exitCodeFailure
		}
		return exitCodeSuccess
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), relayShutdownTimeout)
	defer shutdownCancel()
	// Shutdown does not track hijacked websocket connections; closing the bus
	// ends every peer session.
	bus.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay shutdown failed", map[string]string{
			"error": err.Error(),
		})
	}
	return exitCodeSuccess
}
