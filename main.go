// Command serialbridge exposes a USB serial device to one TCP client at a
// time, optionally mirroring it on the local terminal.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/RoanBrand/serialbridge/bridge"
	"github.com/RoanBrand/serialbridge/comwrapper"
	"github.com/RoanBrand/serialbridge/protocol"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if opts.showHelp {
		return nil
	}
	if opts.showVersion {
		fmt.Printf("serialbridge %s\n", protocol.Version)
		return nil
	}
	cfg := opts.config

	locator := comwrapper.Locator{Device: cfg.Device, Patterns: cfg.Patterns}
	if err := locator.Check(); err != nil {
		return err
	}

	var logOut io.Writer = os.Stderr
	var localIn io.Reader
	if cfg.Passthrough {
		localIn = os.Stdin
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			oldState, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("terminal raw mode: %w", err)
			}
			defer term.Restore(fd, oldState)
			logOut = crlfWriter{os.Stderr}
		}
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *bridge.Metrics
	if opts.metricsListen != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = bridge.NewMetrics(registry)

		shutdownMetrics, err := serveMetrics(opts.metricsListen, registry, logger)
		if err != nil {
			return err
		}
		defer shutdownMetrics()
	}

	b := &bridge.Bridge{
		Config:   cfg,
		Logger:   logger,
		Locate:   locator.Locate,
		LocalIn:  localIn,
		LocalOut: os.Stdout,
		Metrics:  metrics,
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	if cfg.Passthrough {
		logger.Info("local keyboard passthrough enabled, press ^] to quit")
	}

	<-b.Done()
	logger.Info("bridge stopped")
	return nil
}

// serveMetrics serves the registry on addr in the background. The returned
// function shuts the server down.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Surface an immediate bind failure instead of running without metrics.
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("metrics: failed to listen on %s: %w", addr, err)
		}
	case <-time.After(100 * time.Millisecond):
	}
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

// crlfWriter turns bare newlines into CRLF so log lines stay readable while
// the terminal is in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
