// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package database is the DuckDB-backed store for games, runs, players and
// the run history ledger.
//
// All engine-facing methods live on Store, which binds either the shared
// connection pool or a transaction. WithTx gives the sync pipeline its
// per-run transaction scope: fetch, normalize, rank, obsolete and ledger
// updates commit or roll back as one unit.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver

	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB owns the DuckDB connection pool.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// Store executes queries against either the pool or one transaction.
type Store struct {
	q querier
}

// New opens (creating if necessary) the DuckDB database at cfg.Path and
// ensures the schema exists.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Parent directory must exist before DuckDB can create the file.
	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	// Auto-install/auto-load stay off so startup cannot hang on extension
	// downloads in restricted environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}
	if err := db.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("database opened")
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.cfg.Path
}

// Checkpoint flushes the WAL into the database file so the file on disk is
// a consistent snapshot.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Store returns a Store bound to the shared pool, for reads and standalone
// writes that need no transaction.
func (db *DB) Store() *Store {
	return &Store{q: db.conn}
}

// WithTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error or panics, committed otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// schema is executed on every open; all statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL,
		slug VARCHAR NOT NULL,
		release DATE,
		boxart VARCHAR,
		twitch VARCHAR,
		default_timing VARCHAR NOT NULL DEFAULT 'realtime',
		level_timing VARCHAR NOT NULL DEFAULT 'realtime',
		full_game_max INTEGER NOT NULL DEFAULT 1000,
		level_max INTEGER NOT NULL DEFAULT 100,
		category_extension BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id VARCHAR PRIMARY KEY,
		game_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		type VARCHAR NOT NULL,
		url VARCHAR,
		rules VARCHAR,
		timing VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS levels (
		id VARCHAR PRIMARY KEY,
		game_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		url VARCHAR,
		rules VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS platforms (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL,
		url VARCHAR,
		country VARCHAR,
		pronouns VARCHAR,
		twitch VARCHAR,
		youtube VARCHAR,
		twitter VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS variables (
		id VARCHAR PRIMARY KEY,
		game_id VARCHAR NOT NULL,
		category_id VARCHAR,
		name VARCHAR NOT NULL,
		scope VARCHAR NOT NULL,
		scope_level_id VARCHAR,
		is_subcategory BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS variable_values (
		id VARCHAR PRIMARY KEY,
		variable_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		rules VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR PRIMARY KEY,
		kind VARCHAR NOT NULL,
		game_id VARCHAR NOT NULL,
		category_id VARCHAR NOT NULL,
		level_id VARCHAR,
		subcategory VARCHAR NOT NULL,
		place INTEGER NOT NULL DEFAULT 0,
		points INTEGER NOT NULL DEFAULT 0,
		bonus INTEGER NOT NULL DEFAULT 0,
		url VARCHAR,
		video VARCHAR,
		arch_video VARCHAR,
		date TIMESTAMP,
		v_date TIMESTAMP,
		time VARCHAR,
		time_secs DOUBLE NOT NULL DEFAULT 0,
		timenl VARCHAR,
		timenl_secs DOUBLE NOT NULL DEFAULT 0,
		timeigt VARCHAR,
		timeigt_secs DOUBLE NOT NULL DEFAULT 0,
		platform_id VARCHAR,
		emulated BOOLEAN NOT NULL DEFAULT FALSE,
		vid_status VARCHAR NOT NULL DEFAULT 'verified',
		approver_id VARCHAR,
		obsolete BOOLEAN NOT NULL DEFAULT FALSE,
		description VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS run_players (
		run_id VARCHAR NOT NULL,
		player_id VARCHAR NOT NULL,
		PRIMARY KEY (run_id, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS run_variable_values (
		run_id VARCHAR NOT NULL,
		variable_id VARCHAR NOT NULL,
		value_id VARCHAR NOT NULL,
		PRIMARY KEY (run_id, variable_id)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS run_history_seq`,
	`CREATE TABLE IF NOT EXISTS run_history (
		id BIGINT PRIMARY KEY DEFAULT nextval('run_history_seq'),
		run_id VARCHAR NOT NULL,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP,
		points INTEGER NOT NULL,
		end_reason VARCHAR,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_slice ON runs (game_id, subcategory, kind, obsolete)`,
	`CREATE INDEX IF NOT EXISTS idx_run_history_run ON run_history (run_id, start_date)`,
}

func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
