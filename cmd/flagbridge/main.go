// flagbridge serves the experimentation SDK to a host application over a unix
// socket channel. Each connection carries one CBOR request naming a method and
// its arguments; the reply is a value or a coded error.
//
// An optional admin HTTP server exposes health, stats and a datafile refresh
// endpoint, plus a signed webhook for datafile publishers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/OrlandoBitencourt/flagbridge"
	"github.com/OrlandoBitencourt/flagbridge/internal/channel"
	"github.com/OrlandoBitencourt/flagbridge/internal/engine"
	"github.com/OrlandoBitencourt/flagbridge/internal/server"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, shutdownTelemetry, err := newTelemetry(cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	engineOpts := []engine.Option{
		engine.WithSnapshotDir(cfg.SnapshotDir),
		engine.WithEventsURL(cfg.EventsURL),
		engine.WithEventBatchSize(cfg.EventBatchSize),
		engine.WithTelemetry(provider),
		engine.WithLogger(logger),
	}
	if cfg.DatafileURL != "" {
		engineOpts = append(engineOpts, engine.WithDatafileURLTemplate(cfg.DatafileURL))
	}
	if cfg.DatafileToken != "" {
		engineOpts = append(engineOpts, engine.WithDatafileAccessToken(cfg.DatafileToken))
	}

	bridge, err := flagbridge.New(
		flagbridge.WithStarter(engine.NewStarter(engineOpts...)),
		flagbridge.WithLogger(logger),
		flagbridge.WithTelemetry(provider),
	)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	defer func() {
		if err := bridge.Close(); err != nil {
			logger.Warn("closing bridge", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return channel.NewServer(cfg.Socket, bridge.Dispatch, logger).Serve(gctx)
	})

	if cfg.AdminAddr != "" {
		admin := server.New(bridge, server.Config{
			Addr:          cfg.AdminAddr,
			WebhookSecret: cfg.WebhookSecret,
			Logger:        logger,
		})
		g.Go(func() error {
			return admin.ListenAndServe(gctx)
		})
	}

	logger.Info("flagbridge started", "channel", flagbridge.ChannelName, "socket", cfg.Socket)

	err = g.Wait()
	logger.Info("flagbridge stopping")
	return err
}

func newLogger(cfg config, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
}

// newTelemetry returns a no-op provider unless telemetry is enabled
func newTelemetry(cfg config) (telemetry.Provider, func(), error) {
	if !cfg.Telemetry {
		return telemetry.NewNoOp(), func() {}, nil
	}

	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()

	provider, err := telemetry.NewOTel(telemetry.WithTracerProvider(tp), telemetry.WithMeterProvider(mp))
	if err != nil {
		return nil, nil, fmt.Errorf("create telemetry: %w", err)
	}

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = provider.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
	}

	return provider, shutdown, nil
}
