// Package config holds the runtime configuration of the montracker binaries.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPort         = 9091
	DefaultDatabaseURL  = "file://./data"
	DefaultEventBus     = "gochannel"
	DefaultAPIVersion   = "v1"
	DefaultCallTimeout  = 3 * time.Second
	DefaultPollInterval = 10 * time.Second
	DefaultWeight       = 1
)

// CalcServer locates the remote calculation service.
type CalcServer struct {
	Address    string        `validate:"required,url"`
	APIVersion string        `validate:"required"`
	Timeout    time.Duration `validate:"min=100ms"`
}

// Config is collected from command flags and environment variables.
type Config struct {
	Port              int    `validate:"min=1,max=65535"`
	DatabaseURL       string `validate:"required"`
	CacheURL          string `validate:"omitempty,url"`
	EventBus          string `validate:"oneof=gochannel kafka"`
	KafkaBrokers      string `validate:"required_if=EventBus kafka"`
	CatalogPath       string
	CalcServer        CalcServer
	DefaultWeight     int           `validate:"min=1"`
	PollInterval      time.Duration `validate:"min=1s"`
	ActivateScheduler bool
	Tracing           bool
	LogLevel          string `validate:"oneof=debug info warn error"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		Port:        DefaultPort,
		DatabaseURL: DefaultDatabaseURL,
		EventBus:    DefaultEventBus,
		CalcServer: CalcServer{
			APIVersion: DefaultAPIVersion,
			Timeout:    DefaultCallTimeout,
		},
		DefaultWeight:     DefaultWeight,
		PollInterval:      DefaultPollInterval,
		ActivateScheduler: true,
		LogLevel:          "info",
	}
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// ErrNotShareable reports a backend that keeps its state inside one process.
var ErrNotShareable = errors.New("backend is not shared between processes")

// ValidateWorker checks a configuration for a process that runs beside the
// API, such as a standalone poller. Such a process only sees the API's writes
// through postgres, redis and kafka.
func (c Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("invalid worker configuration: database %q: %w", c.DatabaseURL, ErrNotShareable)
	}

	if !strings.HasPrefix(c.CacheURL, "redis://") && !strings.HasPrefix(c.CacheURL, "rediss://") {
		return fmt.Errorf("invalid worker configuration: cache %q: %w", c.CacheURL, ErrNotShareable)
	}

	if c.EventBus != "kafka" {
		return fmt.Errorf("invalid worker configuration: event bus %q: %w", c.EventBus, ErrNotShareable)
	}

	return nil
}
