// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package services

import (
	"context"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/logging"
)

// SnapshotRunner matches the backup manager's scheduler entry point.
type SnapshotRunner interface {
	Run(ctx context.Context) error
}

// BackupService takes a database snapshot on a fixed interval.
type BackupService struct {
	manager  SnapshotRunner
	interval time.Duration
}

// NewBackupService creates the periodic snapshot scheduler.
func NewBackupService(manager SnapshotRunner, interval time.Duration) *BackupService {
	return &BackupService{manager: manager, interval: interval}
}

// Serve implements suture.Service. The first snapshot waits a full
// interval so process restarts do not pile up snapshots.
func (s *BackupService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.manager.Run(ctx); err != nil {
				logging.Error().Err(err).Msg("scheduled snapshot failed")
			}
		}
	}
}

func (s *BackupService) String() string {
	return "backup-scheduler"
}
