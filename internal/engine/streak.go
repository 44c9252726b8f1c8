// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/logging"
	"github.com/pacesetter-app/pacesetter/internal/models"
)

// maintainLedger reconciles a slice's open record-holder period with the
// board state after a rerank. record is the current first-place run, nil
// when the slice has no rankable runs. A slice holds at most one open
// period; a change of record closes it with the reason that best explains
// the change and opens a new one.
func maintainLedger(ctx context.Context, s *database.Store, sl models.Slice, record *models.Run, now time.Time) error {
	open, err := s.OpenHistoryEntry(ctx, sl)
	switch {
	case errors.Is(err, database.ErrNotFound):
		open = nil
	case err != nil:
		return fmt.Errorf("failed to load open ledger period: %w", err)
	}

	if record == nil {
		if open != nil {
			return s.CloseHistoryEntry(ctx, open.ID, now, models.EndObsoleted)
		}
		return nil
	}

	if open != nil && open.RunID == record.ID {
		// Same holder; keep the snapshot current.
		if open.Points != record.Points {
			return s.UpdateHistoryPoints(ctx, open.ID, record.Points)
		}
		return nil
	}

	start := record.EffectiveDate()
	if start.IsZero() {
		start = now
	}

	if open != nil {
		closeAt := start
		if !closeAt.After(open.StartDate) {
			closeAt = now
		}
		reason, err := ledgerCloseReason(ctx, s, open.RunID, record)
		if err != nil {
			return err
		}
		if err := s.CloseHistoryEntry(ctx, open.ID, closeAt, reason); err != nil {
			return err
		}
		logging.Debug().
			Str("old_run", open.RunID).
			Str("new_run", record.ID).
			Str("reason", string(reason)).
			Msg("record holder changed")
	}

	_, err = s.InsertHistoryEntry(ctx, models.HistoryEntry{
		RunID:     record.ID,
		StartDate: start,
		Points:    record.Points,
	})
	return err
}

// ledgerCloseReason explains why the previous holder's period ended: the
// same player improved their own record, another player took it, or the run
// left the board. The shared-player check comes first because a holder
// beating their own record also retires the old run in the same sync, and
// that close is an improvement, not a plain obsoletion.
func ledgerCloseReason(ctx context.Context, s *database.Store, oldRunID string, record *models.Run) (models.EndReason, error) {
	old, err := s.GetRun(ctx, oldRunID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return models.EndObsoleted, nil
	case err != nil:
		return "", fmt.Errorf("failed to load previous record run: %w", err)
	}
	if models.SharePlayer(old.PlayerIDs, record.PlayerIDs) {
		return models.EndNewWR, nil
	}
	if old.Obsolete {
		return models.EndObsoleted, nil
	}
	return models.EndLostWR, nil
}

// StreakStart walks a slice's ledger newest first and returns when the
// current holders' continuous reign began. Only record periods count, i.e.
// entries worth at least the board's record value. The reign chains through
// entries that share at least one player with the holders tracked so far and
// breaks at the first disjoint holder. The walk stops early once an entry
// starts before cutoff, since bonuses cap out anyway.
//
// Anonymous records never form a streak.
func StreakStart(history []database.LedgerEntry, currentPlayers []string, maxPoints int, cutoff time.Time) (time.Time, bool) {
	if len(currentPlayers) == 0 {
		return time.Time{}, false
	}

	tracking := currentPlayers
	var start time.Time
	found := false

	for _, entry := range history {
		if entry.Points < maxPoints {
			continue
		}

		if entry.StartDate.Before(cutoff) {
			if !found && models.SharePlayer(entry.PlayerIDs, tracking) {
				start = entry.StartDate
				found = true
			}
			break
		}

		if models.SharePlayer(entry.PlayerIDs, tracking) {
			start = entry.StartDate
			tracking = entry.PlayerIDs
			found = true
		} else {
			break
		}
	}
	return start, found
}
