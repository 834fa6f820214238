// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package database is the registry's PostgreSQL data access layer.
//
// All geospatial computation (point-in-polygon, distance, radius
// filtering) and fuzzy string matching (levenshtein) is delegated to
// PostGIS and the fuzzystrmatch extension rather than reimplemented in
// Go. Schema initialization verifies both extensions are available and
// fails fast with a descriptive error when they are not.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/libratlas/libratlas/internal/config"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/metrics"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// ErrAmbiguous is returned when a place lookup matches multiple rows
// and the caller needs exactly one.
var ErrAmbiguous = errors.New("ambiguous")

// DB wraps the PostgreSQL connection pool and provides data access methods.
type DB struct {
	conn *sqlx.DB
	cfg  *config.DatabaseConfig
}

// New opens a connection pool, verifies connectivity, and initializes
// the schema (extensions, tables, indexes).
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	if err := db.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("Database connection established")

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (db *DB) Ping(ctx context.Context) error {
	metrics.DBConnectionsInUse.Set(float64(db.conn.Stats().InUse))
	return db.conn.PingContext(ctx)
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, nil)
}

// record observes query duration and errors for Prometheus. Callers
// defer it with the operation start time.
func record(operation, table string, start time.Time, err error) {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
		err = nil // empty results are not query errors
	}
	metrics.RecordDBQuery(operation, table, time.Since(start), err)
}
