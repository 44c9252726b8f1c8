// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/logging"
	"github.com/pacesetter-app/pacesetter/internal/models"
	"github.com/pacesetter-app/pacesetter/internal/points"
)

// RebuildOptions controls a ledger rebuild.
type RebuildOptions struct {
	// GameID restricts the rebuild to one game; empty rebuilds everything.
	GameID string
	// DryRun replays without writing.
	DryRun bool
	// Clear deletes the existing ledger first.
	Clear bool
}

// RebuildResult summarizes a ledger rebuild.
type RebuildResult struct {
	Slices         int
	Runs           int
	EntriesCreated int
	RunsCorrected  int
}

// RebuildHistory reconstructs the run history ledger by replaying every
// verified run of each slice in effective-date order: holder periods open
// and close as records fall, per-player obsoletions end periods, and every
// surviving run's points and streak bonus are recomputed from scratch.
func (e *Engine) RebuildHistory(ctx context.Context, opts RebuildOptions) (*RebuildResult, error) {
	s := e.db.Store()

	if opts.Clear && !opts.DryRun {
		if err := e.db.WithTx(ctx, func(tx *database.Store) error {
			return tx.DeleteHistory(ctx, opts.GameID)
		}); err != nil {
			return nil, err
		}
	}

	slices, err := s.Slices(ctx, opts.GameID)
	if err != nil {
		return nil, err
	}

	result := &RebuildResult{Slices: len(slices)}
	games := make(map[string]*models.Game)

	for _, sl := range slices {
		game, ok := games[sl.GameID]
		if !ok {
			game, err = s.GetGame(ctx, sl.GameID)
			if err != nil {
				logging.Warn().Err(err).Str("game_id", sl.GameID).Msg("rebuild skipped untracked game")
				games[sl.GameID] = nil
				continue
			}
			games[sl.GameID] = game
		}
		if game == nil {
			continue
		}

		err := e.db.WithTx(ctx, func(tx *database.Store) error {
			return e.rebuildSlice(ctx, tx, sl, game, opts.DryRun, result)
		})
		if err != nil {
			return nil, fmt.Errorf("rebuild failed for %s/%s: %w", game.Slug, sl.Subcategory, err)
		}
	}

	logging.Info().
		Int("slices", result.Slices).
		Int("runs", result.Runs).
		Int("entries", result.EntriesCreated).
		Int("corrected", result.RunsCorrected).
		Bool("dry_run", opts.DryRun).
		Msg("ledger rebuild complete")
	return result, nil
}

// replayPeriod is one in-flight ledger period during replay.
type replayPeriod struct {
	entry models.HistoryEntry
	secs  float64
}

func (e *Engine) rebuildSlice(ctx context.Context, s *database.Store, sl models.Slice, game *models.Game, dryRun bool, result *RebuildResult) error {
	runs, err := s.VerifiedSliceRuns(ctx, sl)
	if err != nil {
		return err
	}
	dated := runs[:0:0]
	for _, r := range runs {
		if !r.EffectiveDate().IsZero() {
			dated = append(dated, r)
		}
	}
	if len(dated) == 0 {
		return nil
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].EffectiveDate().Before(dated[j].EffectiveDate())
	})

	timing := game.TimingFor(sl.Kind)
	if cat, err := s.GetCategory(ctx, sl.CategoryID); err == nil {
		if cat.Timing.Valid() {
			timing = cat.Timing
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}
	maxPoints := game.MaxPoints(sl.Kind, e.points.ExtensionMax)
	isLevel := sl.Kind == models.KindLevel

	var (
		wrTime    float64
		wrRun     *models.Run
		wrPlayers []string

		closed      []models.HistoryEntry
		active      = make(map[string]*replayPeriod)
		activeOrder []string
		playerBest  = make(map[string]struct {
			runID string
			secs  float64
		})
		streakMonths = make(map[string]int)
	)

	closePeriod := func(runID string, at time.Time, reason models.EndReason) {
		p := active[runID]
		p.entry.EndDate = &at
		p.entry.EndReason = reason
		closed = append(closed, p.entry)
		delete(active, runID)
		for i, id := range activeOrder {
			if id == runID {
				activeOrder = append(activeOrder[:i], activeOrder[i+1:]...)
				break
			}
		}
	}
	openPeriod := func(runID string, at time.Time, pts int, secs float64) {
		active[runID] = &replayPeriod{
			entry: models.HistoryEntry{RunID: runID, StartDate: at, Points: pts},
			secs:  secs,
		}
		activeOrder = append(activeOrder, runID)
	}

	for i := range dated {
		run := &dated[i]
		secs := boardTime(*run, timing)
		if secs <= 0 {
			continue
		}
		result.Runs++
		effective := run.EffectiveDate()

		// A faster run retires the same player's previous best. Retiring
		// the standing record this way is an own-record improvement.
		for _, pid := range run.PlayerIDs {
			if best, ok := playerBest[pid]; ok && secs < best.secs {
				if _, live := active[best.runID]; live {
					reason := models.EndObsoleted
					if wrRun != nil && best.runID == wrRun.ID {
						reason = models.EndNewWR
					}
					closePeriod(best.runID, effective, reason)
				}
			}
			if best, ok := playerBest[pid]; !ok || secs < best.secs {
				playerBest[pid] = struct {
					runID string
					secs  float64
				}{run.ID, secs}
			}
		}

		if wrRun == nil || secs < wrTime {
			streakContinues := wrRun != nil && models.SharePlayer(wrPlayers, run.PlayerIDs)
			carried := 0
			if streakContinues {
				carried = streakMonths[wrRun.ID]
				if carried == 0 {
					carried = wrRun.Bonus
				}
			}

			// Every open period reprices against the new record.
			for _, runID := range append([]string(nil), activeOrder...) {
				period := active[runID]
				oldSecs := period.secs

				reason := models.EndRecalculation
				if wrRun != nil && runID == wrRun.ID {
					reason = models.EndLostWR
					if !streakContinues {
						streakMonths[runID] = 0
					}
				}
				closePeriod(runID, effective, reason)
				openPeriod(runID, effective, points.Compute(secs, oldSecs, maxPoints), oldSecs)
			}

			wrTime, wrRun, wrPlayers = secs, run, run.PlayerIDs

			months := 0
			if streakContinues {
				months = carried
			}
			streakMonths[run.ID] = months
			bonus := e.points.StreakBonus(isLevel, months, game.CategoryExtension)
			openPeriod(run.ID, effective, maxPoints+bonus, secs)
		} else {
			openPeriod(run.ID, effective, points.Compute(wrTime, secs, maxPoints), secs)
		}
	}

	if !dryRun {
		for _, entry := range closed {
			if _, err := s.InsertHistoryEntry(ctx, entry); err != nil {
				return err
			}
		}
		for _, runID := range activeOrder {
			if _, err := s.InsertHistoryEntry(ctx, active[runID].entry); err != nil {
				return err
			}
		}
	}
	result.EntriesCreated += len(closed) + len(activeOrder)

	// Reconcile stored standings with the replayed state.
	var fixes []database.BonusUpdate
	for i := range dated {
		run := &dated[i]
		period, live := active[run.ID]
		if !live {
			continue
		}
		months, tracked := streakMonths[run.ID]
		if !tracked {
			months = run.Bonus
		}
		if run.Points != period.entry.Points || run.Bonus != months {
			fixes = append(fixes, database.BonusUpdate{
				ID:     run.ID,
				Points: period.entry.Points,
				Bonus:  months,
			})
		}
	}
	if len(fixes) > 0 && !dryRun {
		if err := s.SaveBonuses(ctx, fixes); err != nil {
			return err
		}
	}
	result.RunsCorrected += len(fixes)
	return nil
}
