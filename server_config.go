package iec61850

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/validator.v2"
)

// ServerConfig holds runtime settings of a DeviceMapping.
type ServerConfig struct {
	// ReportBufferSize is the byte budget of each buffered report control block.
	ReportBufferSize int
	// EventWorkerInterval is the sleep between two event worker iterations.
	EventWorkerInterval time.Duration

	// Clock returns the current time. Tests replace it with a fake clock.
	Clock func() time.Time
	// Logger overrides the package logger when set.
	Logger *zerolog.Logger

	ReportSender   ReportSender
	GoosePublisher GoosePublisher
	ControlHandler ControlObjectHandler
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		ReportBufferSize:    65536,
		EventWorkerInterval: 10 * time.Millisecond,
		Clock:               time.Now,
	}
}

// Validate checks the numeric limits of the configuration.
func (c *ServerConfig) Validate() error {
	if err := validator.Valid(c.ReportBufferSize, "min=256"); err != nil {
		return fmt.Errorf("ReportBufferSize %d: %w", c.ReportBufferSize, err)
	}
	if err := validator.Valid(int64(c.EventWorkerInterval), "min=1000000,max=1000000000"); err != nil {
		return fmt.Errorf("EventWorkerInterval %s: %w", c.EventWorkerInterval, err)
	}
	return nil
}

func (c *ServerConfig) getLogger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return logger
}

func (c *ServerConfig) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}
