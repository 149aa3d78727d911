// Package config reads process configuration from the environment, with
// optional .env files layered in for local development. Getters are
// lenient and fall back to their defaults on absent or malformed values;
// RequireEnv is the strict form for settings the service cannot run
// without.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadEnv layers .env and .env.dev over the process environment when they
// exist in the working directory. Best effort; missing files are normal
// outside local development.
func LoadEnv(logger *logrus.Logger) {
	var loaded []string
	for _, file := range []string{".env", ".env.dev"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("No local env files loaded; relying on process environment")
	} else {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}

// GetEnv returns the variable's value, or defaultValue when unset or empty.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parsedEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := parse(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func GetEnvInt(key string, defaultValue int) int {
	return parsedEnv(key, defaultValue, strconv.Atoi)
}

func GetEnvFloat(key string, defaultValue float64) float64 {
	return parsedEnv(key, defaultValue, func(raw string) (float64, error) {
		return strconv.ParseFloat(raw, 64)
	})
}

// GetEnvDuration parses values in time.ParseDuration syntax ("30s", "24h").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return parsedEnv(key, defaultValue, time.ParseDuration)
}

// GetLogLevel maps LOG_LEVEL to a logrus level, defaulting to info.
func GetLogLevel() logrus.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// RequireEnv returns the trimmed value or exits the process. Startup-only;
// nothing should call this once the service is serving.
func RequireEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		logrus.Fatalf("required environment variable %s is empty", key)
	}
	return value
}
