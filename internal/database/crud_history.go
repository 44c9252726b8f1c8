// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/metrics"
	"github.com/pacesetter-app/pacesetter/internal/models"
)

// LedgerEntry is a history period joined with the participant set of its
// run, which the streak walk needs to chain consecutive record holders.
type LedgerEntry struct {
	models.HistoryEntry
	PlayerIDs []string
}

// OpenHistoryEntry returns the open record-holder period of a slice, or
// ErrNotFound when the slice has none.
func (s *Store) OpenHistoryEntry(ctx context.Context, sl models.Slice) (*models.HistoryEntry, error) {
	args := sliceArgs(sl)
	start := time.Now()
	row := s.q.QueryRowContext(ctx, `
		SELECT h.id, h.run_id, h.start_date, h.end_date, h.points, h.end_reason
		FROM run_history h
		JOIN runs r ON r.id = h.run_id
		WHERE r.`+sliceWhereJoined+` AND h.end_date IS NULL`, args...)

	entry, err := scanHistoryRow(row)
	metrics.RecordDBQuery("open_history_entry", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open history entry: %w", err)
	}
	return entry, nil
}

// sliceWhereJoined is sliceWhere with columns qualified for a runs alias r.
const sliceWhereJoined = `game_id = ? AND r.category_id = ? AND COALESCE(r.level_id, '') = ?
	AND r.subcategory = ? AND r.kind = ?`

// InsertHistoryEntry opens a new ledger period and returns its ID.
func (s *Store) InsertHistoryEntry(ctx context.Context, e models.HistoryEntry) (int64, error) {
	start := time.Now()
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO run_history (run_id, start_date, end_date, points, end_reason)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		e.RunID, e.StartDate, nullTime(e.EndDate), e.Points,
		nullString(string(e.EndReason)))

	var id int64
	err := row.Scan(&id)
	metrics.RecordDBQuery("insert_history_entry", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to insert history entry for run %s: %w", e.RunID, err)
	}
	if e.EndDate == nil {
		metrics.HistoryEntriesOpened.Inc()
	}
	return id, nil
}

// CloseHistoryEntry ends an open ledger period.
func (s *Store) CloseHistoryEntry(ctx context.Context, id int64, end time.Time, reason models.EndReason) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		UPDATE run_history SET end_date = ?, end_reason = ? WHERE id = ?`,
		end, string(reason), id)
	metrics.RecordDBQuery("close_history_entry", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to close history entry %d: %w", id, err)
	}
	metrics.HistoryEntriesClosed.WithLabelValues(string(reason)).Inc()
	return nil
}

// UpdateHistoryPoints rewrites the point value of a ledger period, used when
// a recalculation changes what the period was worth.
func (s *Store) UpdateHistoryPoints(ctx context.Context, id int64, points int) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `UPDATE run_history SET points = ? WHERE id = ?`, points, id)
	metrics.RecordDBQuery("update_history_points", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update history entry %d: %w", id, err)
	}
	return nil
}

// SliceHistory returns a slice's ledger newest first, each period carrying
// its run's participant set.
func (s *Store) SliceHistory(ctx context.Context, sl models.Slice) ([]LedgerEntry, error) {
	args := sliceArgs(sl)
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT h.id, h.run_id, h.start_date, h.end_date, h.points, h.end_reason
		FROM run_history h
		JOIN runs r ON r.id = h.run_id
		WHERE r.`+sliceWhereJoined+`
		ORDER BY h.start_date DESC, h.id DESC`, args...)
	metrics.RecordDBQuery("slice_history", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list slice history: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e       models.HistoryEntry
			endDate sql.NullTime
			reason  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.StartDate, &endDate, &e.Points, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if endDate.Valid {
			e.EndDate = &endDate.Time
		}
		e.EndReason = models.EndReason(reason.String)
		out = append(out, LedgerEntry{HistoryEntry: e})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		players, err := s.runPlayerIDs(ctx, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].PlayerIDs = players
	}
	return out, nil
}

// DeleteHistory clears the ledger for one game, or everything when gameID is
// empty, ahead of a full rebuild.
func (s *Store) DeleteHistory(ctx context.Context, gameID string) error {
	query := `DELETE FROM run_history`
	var args []any
	if gameID != "" {
		query += ` WHERE run_id IN (SELECT id FROM runs WHERE game_id = ?)`
		args = append(args, gameID)
	}
	start := time.Now()
	_, err := s.q.ExecContext(ctx, query, args...)
	metrics.RecordDBQuery("delete_history", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

func (s *Store) runPlayerIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT player_id FROM run_players WHERE run_id = ? ORDER BY player_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load players for run %s: %w", runID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run player: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanHistoryRow(row *sql.Row) (*models.HistoryEntry, error) {
	var (
		e       models.HistoryEntry
		endDate sql.NullTime
		reason  sql.NullString
	)
	if err := row.Scan(&e.ID, &e.RunID, &e.StartDate, &endDate, &e.Points, &reason); err != nil {
		return nil, err
	}
	if endDate.Valid {
		e.EndDate = &endDate.Time
	}
	e.EndReason = models.EndReason(reason.String)
	return &e, nil
}
