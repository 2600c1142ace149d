package cache

import (
	"fmt"
	"time"
)

// Config holds datafile manager configuration
type Config struct {
	// Refresh behavior
	RefreshInterval time.Duration
	InitialTimeout  time.Duration
	FetchTimeout    time.Duration

	// ProjectTTL bounds how long a parsed project stays in memory; 0 keeps it until replaced
	ProjectTTL time.Duration

	// Circuit breaker
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		RefreshInterval:         15 * time.Minute,
		InitialTimeout:          10 * time.Second,
		FetchTimeout:            30 * time.Second,
		ProjectTTL:              0,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval cannot be negative")
	}

	if c.InitialTimeout <= 0 {
		return fmt.Errorf("initial timeout must be positive")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}

	if c.ProjectTTL < 0 {
		return fmt.Errorf("project ttl cannot be negative")
	}

	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be at least 1")
	}

	return nil
}
