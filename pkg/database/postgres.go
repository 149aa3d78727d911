// Package database opens the PostgreSQL pool shared by the stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"flotilla/pkg/config"
	"flotilla/pkg/logging"
)

// PostgresConn is the connection handle the stores accept.
type PostgresConn = *sql.DB

// ErrNoRows is returned when a query returns no rows
var ErrNoRows = sql.ErrNoRows

// Config is the connection URL plus pool sizing for one Postgres pool.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the pool profile, overridable per deployment.
// The open-connection cap bounds what one bosun instance can take from
// the shared PostgreSQL max_connections budget.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    config.GetEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    config.GetEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: config.GetEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Connect opens the pool and verifies the database is reachable before
// anything else starts depending on it.
func Connect(cfg Config, logger logging.Logger) (PostgresConn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("connection URL is empty")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.WithField("max_open_conns", cfg.MaxOpenConns).
		WithField("conn_max_lifetime", cfg.ConnMaxLifetime).
		Info("Database pool ready")

	return db, nil
}

// MustConnect is Connect for startup paths where a missing database is
// fatal anyway.
func MustConnect(cfg Config, logger logging.Logger) PostgresConn {
	db, err := Connect(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Database connection failed")
	}
	return db
}
