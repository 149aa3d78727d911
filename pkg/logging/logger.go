// Package logging configures the process-wide structured logger. All
// services log JSON lines; the level comes from LOG_LEVEL.
package logging

import (
	"github.com/sirupsen/logrus"

	"flotilla/pkg/config"
)

// Logger is the logger handle constructors accept.
type Logger = *logrus.Logger

// Fields aliases logrus.Fields for call sites that only import this package.
type Fields = logrus.Fields

// NewLogger returns a JSON logger at the level LOG_LEVEL selects.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// serviceHook stamps every entry with the originating service, so lines
// from co-located services can be separated in aggregate.
type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.service
	return nil
}

// NewLoggerWithService creates a logger whose entries all carry a
// service field.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(serviceHook{service: serviceName})
	return logger
}
