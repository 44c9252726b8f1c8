// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package backup takes periodic gzip snapshots of the DuckDB file and
// prunes old ones. A snapshot is a checkpointed copy of the database file,
// restorable by unpacking it over the configured database path.
package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/logging"
)

const (
	snapshotPrefix = "pacesetter-"
	snapshotSuffix = ".duckdb.gz"
)

// Manager creates and prunes database snapshots.
type Manager struct {
	db  *database.DB
	cfg config.BackupConfig
}

// NewManager creates a snapshot manager for the given database.
func NewManager(db *database.DB, cfg config.BackupConfig) *Manager {
	return &Manager{db: db, cfg: cfg}
}

// Snapshot checkpoints the database and writes a compressed copy into the
// backup directory. Returns the snapshot path.
func (m *Manager) Snapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(m.cfg.Dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := m.db.Checkpoint(ctx); err != nil {
		return "", err
	}

	name := snapshotPrefix + time.Now().UTC().Format("20060102-150405") + snapshotSuffix
	dest := filepath.Join(m.cfg.Dir, name)

	// Write to a temp name first so a crash mid-copy never leaves a
	// plausible-looking partial snapshot behind.
	tmp := dest + ".tmp"
	if err := m.compressFile(m.db.Path(), tmp); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	logging.Info().Str("snapshot", dest).Msg("database snapshot written")
	return dest, nil
}

// Prune deletes the oldest snapshots beyond the retention count. Returns
// how many were removed.
func (m *Manager) Prune() (int, error) {
	snapshots, err := m.List()
	if err != nil {
		return 0, err
	}
	if m.cfg.Keep <= 0 || len(snapshots) <= m.cfg.Keep {
		return 0, nil
	}

	removed := 0
	for _, path := range snapshots[:len(snapshots)-m.cfg.Keep] {
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to prune snapshot %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

// List returns existing snapshot paths, oldest first. The timestamped
// names make lexical order chronological.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		snapshots = append(snapshots, filepath.Join(m.cfg.Dir, name))
	}
	sort.Strings(snapshots)
	return snapshots, nil
}

// Run takes a snapshot and applies retention. This is the scheduler entry
// point.
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.Snapshot(ctx); err != nil {
		return err
	}
	pruned, err := m.Prune()
	if err != nil {
		return err
	}
	if pruned > 0 {
		logging.Info().Int("pruned", pruned).Msg("old snapshots removed")
	}
	return nil
}

func (m *Manager) compressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open database file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = out.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return out.Close()
}
