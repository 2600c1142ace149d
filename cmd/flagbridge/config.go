package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/OrlandoBitencourt/flagbridge"
)

// config is read from the environment first, then overridden by flags
type config struct {
	Socket          string        `env:"FLAGBRIDGE_SOCKET"`
	AdminAddr       string        `env:"FLAGBRIDGE_ADMIN_ADDR"`
	WebhookSecret   string        `env:"FLAGBRIDGE_WEBHOOK_SECRET"`
	DatafileURL     string        `env:"FLAGBRIDGE_DATAFILE_URL"`
	DatafileToken   string        `env:"FLAGBRIDGE_DATAFILE_TOKEN"`
	EventsURL       string        `env:"FLAGBRIDGE_EVENTS_URL"`
	EventBatchSize  int           `env:"FLAGBRIDGE_EVENT_BATCH_SIZE" envDefault:"10"`
	SnapshotDir     string        `env:"FLAGBRIDGE_SNAPSHOT_DIR"`
	LogLevel        string        `env:"FLAGBRIDGE_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"FLAGBRIDGE_LOG_FORMAT" envDefault:"text"`
	Telemetry       bool          `env:"FLAGBRIDGE_TELEMETRY"`
	ShutdownTimeout time.Duration `env:"FLAGBRIDGE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func defaultSocket() string {
	return filepath.Join("/tmp", flagbridge.ChannelName+".sock")
}

func loadConfig(args []string) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Socket == "" {
		cfg.Socket = defaultSocket()
	}

	flagSet := pflag.NewFlagSet("flagbridge", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Socket, "socket", cfg.Socket, "unix socket the channel listens on")
	flagSet.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "admin HTTP listen address (disabled when empty)")
	flagSet.StringVar(&cfg.WebhookSecret, "webhook-secret", cfg.WebhookSecret, "HMAC secret for datafile webhooks")
	flagSet.StringVar(&cfg.DatafileURL, "datafile-url", cfg.DatafileURL, "datafile URL template, %s is replaced by the SDK key")
	flagSet.StringVar(&cfg.DatafileToken, "datafile-token", cfg.DatafileToken, "bearer token for authenticated datafiles")
	flagSet.StringVar(&cfg.EventsURL, "events-url", cfg.EventsURL, "event endpoint (events are discarded when empty)")
	flagSet.IntVar(&cfg.EventBatchSize, "event-batch-size", cfg.EventBatchSize, "events per dispatch")
	flagSet.StringVar(&cfg.SnapshotDir, "snapshot-dir", cfg.SnapshotDir, "directory for datafile snapshots")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	flagSet.BoolVar(&cfg.Telemetry, "telemetry", cfg.Telemetry, "record OpenTelemetry spans and metrics")
	flagSet.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for flushing on exit")

	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
