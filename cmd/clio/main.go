// Command clio is the real-time speech-transcription mediator: it captures
// PCM audio, streams it to a WhisperLive-compatible service over WebSocket,
// aggregates the returned segments into a live transcript, and serves the
// result over an HTTP control surface with SSE and WebSocket streaming.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cliolabs/clio/internal/config"
	"github.com/cliolabs/clio/internal/httpapi"
	"github.com/cliolabs/clio/internal/observe"
	"github.com/cliolabs/clio/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "start the pipeline immediately instead of waiting for POST /v1/control/start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "clio: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "clio: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("clio starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"upstream", cfg.UpstreamURL(),
		"input_mode", cfg.Audio.InputMode,
		"log_level", cfg.Server.LogLevel,
	)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "clio"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := pipeline.NewSupervisor(pipeline.SupervisorConfig{
		Config: cfg,
		Logger: logger,
	})
	server := httpapi.New(httpapi.ServerConfig{
		ListenAddr: cfg.Server.ListenAddr,
		Supervisor: sup,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if *autostart {
		if err := sup.Start(); err != nil {
			slog.Error("pipeline autostart failed", "err", err)
			stop()
			_ = g.Wait()
			return 1
		}
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level.SlogLevel(),
	}))
}
