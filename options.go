package flagbridge

import (
	"fmt"
	"log/slog"

	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// Option configures a Bridge.
type Option func(*bridgeConfig) error

// WithStarter sets the SDK the bridge starts clients with.
// This is required.
func WithStarter(starter sdk.Starter) Option {
	return func(c *bridgeConfig) error {
		if starter == nil {
			return fmt.Errorf("starter cannot be nil")
		}
		c.starter = starter
		return nil
	}
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *bridgeConfig) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTelemetry sets the telemetry provider used for call spans and counters.
func WithTelemetry(provider telemetry.Provider) Option {
	return func(c *bridgeConfig) error {
		if provider == nil {
			return fmt.Errorf("telemetry provider cannot be nil")
		}
		c.telemetry = provider
		return nil
	}
}
