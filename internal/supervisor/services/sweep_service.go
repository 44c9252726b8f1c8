// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package services

import (
	"context"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/engine"
	"github.com/pacesetter-app/pacesetter/internal/logging"
)

// Sweeper is the part of the engine the scheduler calls.
type Sweeper interface {
	StreakSweep(ctx context.Context, opts engine.SweepOptions) (*engine.SweepResult, error)
}

// SweepService runs the streak anniversary sweep on a fixed interval. The
// sweep is idempotent within a day, so overlapping schedules across worker
// instances are harmless.
type SweepService struct {
	sweeper Sweeper
	cfg     config.SweepConfig
}

// NewSweepService creates the periodic sweep scheduler.
func NewSweepService(sweeper Sweeper, cfg config.SweepConfig) *SweepService {
	return &SweepService{sweeper: sweeper, cfg: cfg}
}

// Serve implements suture.Service. One sweep runs immediately on start,
// then on every interval tick.
func (s *SweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SweepService) sweep(ctx context.Context) {
	result, err := s.sweeper.StreakSweep(ctx, engine.SweepOptions{DryRun: s.cfg.DryRun})
	if err != nil {
		logging.Error().Err(err).Msg("scheduled streak sweep failed")
		return
	}
	logging.Info().
		Int("records", result.RecordsChecked).
		Int("awarded", result.BonusesAwarded).
		Bool("dry_run", s.cfg.DryRun).
		Msg("scheduled streak sweep complete")
}

func (s *SweepService) String() string {
	return "streak-sweep-scheduler"
}
