// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/logging"
	"github.com/pacesetter-app/pacesetter/internal/metrics"
	"github.com/pacesetter-app/pacesetter/internal/models"
	"github.com/pacesetter-app/pacesetter/internal/timeutil"
)

// SweepOptions controls one streak sweep.
type SweepOptions struct {
	// GameID restricts the sweep to one game; empty sweeps everything.
	GameID string
	// Date overrides the check date, for backfills. Zero means today.
	Date time.Time
	// DryRun computes and logs awards without persisting them.
	DryRun bool
	// RecomputeAll awards from months held directly, ignoring whether the
	// check date is an anniversary. Used for initial population and audits.
	RecomputeAll bool
}

// SweepResult summarizes a streak sweep.
type SweepResult struct {
	RecordsChecked int
	Anniversaries  int
	BonusesAwarded int
}

// StreakSweep checks every current record for a streak anniversary and
// awards the monthly holding bonus. Eligible records are active, verified,
// first place, not yet at the bonus cap, and not on category-extension
// games. Recompute-all mode also visits capped records and may correct a
// stale bonus downward when the ledger shows a shorter reign.
func (e *Engine) StreakSweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	started := time.Now()
	checkDate := opts.Date
	if checkDate.IsZero() {
		checkDate = time.Now().UTC().Truncate(24 * time.Hour)
	}
	cutoff := checkDate.AddDate(0, -e.points.MaxStreakMonths, 0)

	bonusFilter := e.points.MaxStreakMonths
	if opts.RecomputeAll {
		bonusFilter = -1
	}

	s := e.db.Store()
	records, err := s.CurrentRecords(ctx, opts.GameID, bonusFilter)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{RecordsChecked: len(records)}
	games := make(map[string]*models.Game)
	var updates []database.BonusUpdate

	for _, record := range records {
		game, ok := games[record.GameID]
		if !ok {
			game, err = s.GetGame(ctx, record.GameID)
			if err != nil {
				return nil, fmt.Errorf("failed to load game %s: %w", record.GameID, err)
			}
			games[record.GameID] = game
		}

		maxPoints := game.MaxPoints(record.Kind, e.points.ExtensionMax)
		history, err := s.SliceHistory(ctx, record.Slice())
		if err != nil {
			return nil, err
		}

		// With no surviving streak a recompute-all pass still visits the
		// record, so a stale bonus can be cleared.
		start, ok := StreakStart(history, record.PlayerIDs, maxPoints, cutoff)
		if !ok && !opts.RecomputeAll {
			continue
		}

		months := 0
		if ok {
			months = timeutil.MonthsBetween(start, checkDate)
		}
		if !opts.RecomputeAll {
			anniversary, _ := timeutil.IsAnniversary(start, checkDate)
			if !anniversary {
				continue
			}
		}
		result.Anniversaries++

		newBonus := min(months, e.points.MaxStreakMonths)
		if opts.RecomputeAll {
			if newBonus == record.Bonus {
				continue
			}
		} else if months <= record.Bonus {
			continue
		}
		bonus := e.points.StreakBonus(record.Kind == models.KindLevel, newBonus, game.CategoryExtension)
		newPoints := maxPoints + bonus

		logging.Info().
			Str("game", game.Slug).
			Str("board", record.Subcategory).
			Str("run_id", record.ID).
			Time("streak_start", start).
			Int("months", newBonus).
			Int("points", newPoints).
			Bool("dry_run", opts.DryRun).
			Msg("streak bonus")

		updates = append(updates, database.BonusUpdate{
			ID:     record.ID,
			Points: newPoints,
			Bonus:  newBonus,
		})
		result.BonusesAwarded++
	}

	if len(updates) > 0 && !opts.DryRun {
		if err := e.db.WithTx(ctx, func(tx *database.Store) error {
			return tx.SaveBonuses(ctx, updates)
		}); err != nil {
			return nil, err
		}
	}

	metrics.RecordSweep(time.Since(started), result.RecordsChecked, result.BonusesAwarded, nil)
	return result, nil
}
