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
	"strings"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/metrics"
	"github.com/pacesetter-app/pacesetter/internal/models"
)

const runColumns = `id, kind, game_id, category_id, level_id, subcategory,
	place, points, bonus, url, video, arch_video, date, v_date,
	time, time_secs, timenl, timenl_secs, timeigt, timeigt_secs,
	platform_id, emulated, vid_status, approver_id, obsolete, description`

// UpsertRun inserts or replaces a run's core row. Players and variable
// selections are replaced separately. Ranking state (place, points, bonus)
/// is never overwritten on conflict: normalized payloads carry zeros there,
// and standings are written by SaveRunPlacements and SaveBonuses.
func (s *Store) UpsertRun(ctx context.Context, r models.Run) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			game_id = excluded.game_id,
			category_id = excluded.category_id,
			level_id = excluded.level_id,
			subcategory = excluded.subcategory,
			url = excluded.url,
			video = excluded.video,
			arch_video = excluded.arch_video,
			date = excluded.date,
			v_date = excluded.v_date,
			time = excluded.time,
			time_secs = excluded.time_secs,
			timenl = excluded.timenl,
			timenl_secs = excluded.timenl_secs,
			timeigt = excluded.timeigt,
			timeigt_secs = excluded.timeigt_secs,
			platform_id = excluded.platform_id,
			emulated = excluded.emulated,
			vid_status = excluded.vid_status,
			approver_id = excluded.approver_id,
			obsolete = excluded.obsolete,
			description = excluded.description`,
		r.ID, string(r.Kind), r.GameID, r.CategoryID, nullString(r.LevelID), r.Subcategory,
		r.Place, r.Points, r.Bonus, r.URL, r.Video, r.ArchivedVideo,
		nullTime(r.Date), nullTime(r.VerifyDate),
		r.RTA, r.RTASeconds, r.LRT, r.LRTSeconds, r.IGT, r.IGTSeconds,
		nullString(r.PlatformID), r.Emulated, string(r.Status),
		nullString(r.ApproverID), r.Obsolete, r.Description)
	metrics.RecordDBQuery("upsert_run", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", r.ID, err)
	}
	return nil
}

// ReplaceRunPlayers replaces the participant set of a run.
func (s *Store) ReplaceRunPlayers(ctx context.Context, runID string, playerIDs []string) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `DELETE FROM run_players WHERE run_id = ?`, runID)
	if err == nil {
		for _, pid := range playerIDs {
			if _, err = s.q.ExecContext(ctx, `
				INSERT INTO run_players (run_id, player_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING`, runID, pid); err != nil {
				break
			}
		}
	}
	metrics.RecordDBQuery("replace_run_players", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to replace players for run %s: %w", runID, err)
	}
	return nil
}

// ReplaceRunValues replaces the variable selections of a run.
func (s *Store) ReplaceRunValues(ctx context.Context, runID string, values []models.ValueSelection) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `DELETE FROM run_variable_values WHERE run_id = ?`, runID)
	if err == nil {
		for _, v := range values {
			if _, err = s.q.ExecContext(ctx, `
				INSERT INTO run_variable_values (run_id, variable_id, value_id) VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING`, runID, v.VariableID, v.ValueID); err != nil {
				break
			}
		}
	}
	metrics.RecordDBQuery("replace_run_values", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to replace values for run %s: %w", runID, err)
	}
	return nil
}

// GetRun returns a run with its players and variable selections loaded, or
// ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	metrics.RecordDBQuery("get_run", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	if err := s.loadRunAssociations(ctx, runs); err != nil {
		return nil, err
	}
	return &runs[0], nil
}

// sliceWhere matches runs belonging to one leaderboard slice.
const sliceWhere = `game_id = ? AND category_id = ? AND COALESCE(level_id, '') = ?
	AND subcategory = ? AND kind = ?`

func sliceArgs(sl models.Slice) []any {
	return []any{sl.GameID, sl.CategoryID, sl.LevelID, sl.Subcategory, string(sl.Kind)}
}

// SliceRuns returns the active (non-obsolete) runs of a slice with players
// loaded, fastest first under no particular timing; callers sort by the
// board's own timing method.
func (s *Store) SliceRuns(ctx context.Context, sl models.Slice) ([]models.Run, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE `+sliceWhere+` AND obsolete = FALSE`, sliceArgs(sl)...)
	metrics.RecordDBQuery("slice_runs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for slice: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadRunAssociations(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// PlayerSliceRuns returns a player's runs on a slice, including obsolete
// ones, with players loaded.
func (s *Store) PlayerSliceRuns(ctx context.Context, sl models.Slice, playerID string) ([]models.Run, error) {
	args := append(sliceArgs(sl), playerID)
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE `+sliceWhere+`
		AND id IN (SELECT run_id FROM run_players WHERE player_id = ?)`, args...)
	metrics.RecordDBQuery("player_slice_runs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list player runs for slice: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadRunAssociations(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// VerifiedSliceRuns returns every verified run of a slice, obsolete included,
// for chronological ledger replay. Ordering is left to the caller since the
// effective date mixes two columns.
func (s *Store) VerifiedSliceRuns(ctx context.Context, sl models.Slice) ([]models.Run, error) {
	args := append(sliceArgs(sl), string(models.StatusVerified))
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE `+sliceWhere+` AND vid_status = ?`, args...)
	metrics.RecordDBQuery("verified_slice_runs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified runs for slice: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadRunAssociations(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunPlacement is one ranking result to persist.
type RunPlacement struct {
	ID     string
	Place  int
	Points int
}

// SaveRunPlacements writes place and points for a batch of ranked runs.
func (s *Store) SaveRunPlacements(ctx context.Context, placements []RunPlacement) error {
	start := time.Now()
	var err error
	for _, p := range placements {
		if _, err = s.q.ExecContext(ctx,
			`UPDATE runs SET place = ?, points = ? WHERE id = ?`,
			p.Place, p.Points, p.ID); err != nil {
			break
		}
	}
	metrics.RecordDBQuery("save_run_placements", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save placements: %w", err)
	}
	return nil
}

// MarkObsolete flags the given runs obsolete and zeroes their standing.
func (s *Store) MarkObsolete(ctx context.Context, runIDs []string) error {
	if len(runIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runIDs)), ",")
	args := make([]any, len(runIDs))
	for i, id := range runIDs {
		args[i] = id
	}
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		UPDATE runs SET obsolete = TRUE, place = 0, points = 0
		WHERE id IN (`+placeholders+`)`, args...)
	metrics.RecordDBQuery("mark_obsolete", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to mark runs obsolete: %w", err)
	}
	metrics.RunsObsoleted.Add(float64(len(runIDs)))
	return nil
}

// GameRunIDs returns the IDs of every stored run of a game.
func (s *Store) GameRunIDs(ctx context.Context, gameID string) ([]string, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM runs WHERE game_id = ?`, gameID)
	metrics.RecordDBQuery("game_run_ids", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list run IDs for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteGameRuns removes a game's active runs and their associations ahead
// of a full resync. Obsolete runs are kept; they are the player history the
// upstream board no longer shows.
func (s *Store) DeleteGameRuns(ctx context.Context, gameID string) error {
	stmts := []struct {
		name  string
		query string
	}{
		{"delete_run_values", `DELETE FROM run_variable_values WHERE run_id IN
			(SELECT id FROM runs WHERE game_id = ? AND obsolete = FALSE)`},
		{"delete_run_players", `DELETE FROM run_players WHERE run_id IN
			(SELECT id FROM runs WHERE game_id = ? AND obsolete = FALSE)`},
		{"delete_runs", `DELETE FROM runs WHERE game_id = ? AND obsolete = FALSE`},
	}
	for _, stmt := range stmts {
		start := time.Now()
		_, err := s.q.ExecContext(ctx, stmt.query, gameID)
		metrics.RecordDBQuery(stmt.name, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to clear runs for game %s: %w", gameID, err)
		}
	}
	return nil
}

// Slices returns the distinct leaderboard slices with at least one stored
// run, optionally restricted to one game.
func (s *Store) Slices(ctx context.Context, gameID string) ([]models.Slice, error) {
	query := `SELECT DISTINCT game_id, category_id, COALESCE(level_id, ''), subcategory, kind FROM runs`
	var args []any
	if gameID != "" {
		query += ` WHERE game_id = ?`
		args = append(args, gameID)
	}
	query += ` ORDER BY game_id, category_id, subcategory`

	start := time.Now()
	rows, err := s.q.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("slices", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list slices: %w", err)
	}
	defer rows.Close()

	var out []models.Slice
	for rows.Next() {
		var (
			sl   models.Slice
			kind string
		)
		if err := rows.Scan(&sl.GameID, &sl.CategoryID, &sl.LevelID, &sl.Subcategory, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan slice: %w", err)
		}
		sl.Kind = models.RunKind(kind)
		out = append(out, sl)
	}
	return out, rows.Err()
}

// CurrentRecords returns the active verified first-place runs, excluding
// category-extension games. A non-negative maxBonusMonths keeps only records
// whose streak bonus is still below it; pass a negative value to include
// records already at the cap. An empty gameID means all games.
func (s *Store) CurrentRecords(ctx context.Context, gameID string, maxBonusMonths int) ([]models.Run, error) {
	query := `
		SELECT ` + prefixColumns("r", runColumns) + ` FROM runs r
		JOIN games g ON g.id = r.game_id
		WHERE r.place = 1 AND r.obsolete = FALSE AND r.vid_status = ?
		AND g.category_extension = FALSE`
	args := []any{string(models.StatusVerified)}
	if maxBonusMonths >= 0 {
		query += ` AND r.bonus < ?`
		args = append(args, maxBonusMonths)
	}
	if gameID != "" {
		query += ` AND r.game_id = ?`
		args = append(args, gameID)
	}

	start := time.Now()
	rows, err := s.q.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("current_records", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list current records: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadRunAssociations(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// BonusUpdate is one streak bonus award to persist.
type BonusUpdate struct {
	ID     string
	Points int // final total, record value plus bonus
	Bonus  int // months of bonus now folded in
}

// SaveBonuses writes awarded streak bonuses for a batch of record runs.
func (s *Store) SaveBonuses(ctx context.Context, updates []BonusUpdate) error {
	start := time.Now()
	var err error
	for _, u := range updates {
		if _, err = s.q.ExecContext(ctx,
			`UPDATE runs SET points = ?, bonus = ? WHERE id = ?`,
			u.Points, u.Bonus, u.ID); err != nil {
			break
		}
	}
	metrics.RecordDBQuery("save_bonuses", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save bonuses: %w", err)
	}
	return nil
}

// prefixColumns qualifies each column of a comma-separated list with a table
// alias for use in joins.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// collectRuns scans and closes a run rowset.
func collectRuns(rows *sql.Rows) ([]models.Run, error) {
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var (
			r                      models.Run
			kind, status           string
			levelID                sql.NullString
			url, video, archVideo  sql.NullString
			date, vDate            sql.NullTime
			rta, lrt, igt          sql.NullString
			platformID, approverID sql.NullString
			description            sql.NullString
		)
		err := rows.Scan(&r.ID, &kind, &r.GameID, &r.CategoryID, &levelID, &r.Subcategory,
			&r.Place, &r.Points, &r.Bonus, &url, &video, &archVideo, &date, &vDate,
			&rta, &r.RTASeconds, &lrt, &r.LRTSeconds, &igt, &r.IGTSeconds,
			&platformID, &r.Emulated, &status, &approverID, &r.Obsolete, &description)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Kind = models.RunKind(kind)
		r.Status = models.VerificationStatus(status)
		r.LevelID = levelID.String
		r.URL = url.String
		r.Video = video.String
		r.ArchivedVideo = archVideo.String
		if date.Valid {
			r.Date = &date.Time
		}
		if vDate.Valid {
			r.VerifyDate = &vDate.Time
		}
		r.RTA = rta.String
		r.LRT = lrt.String
		r.IGT = igt.String
		r.PlatformID = platformID.String
		r.ApproverID = approverID.String
		r.Description = description.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadRunAssociations fills PlayerIDs and Values for a batch of runs.
func (s *Store) loadRunAssociations(ctx context.Context, runs []models.Run) error {
	if len(runs) == 0 {
		return nil
	}

	byID := make(map[string]*models.Run, len(runs))
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runs)), ",")
	args := make([]any, len(runs))
	for i := range runs {
		byID[runs[i].ID] = &runs[i]
		args[i] = runs[i].ID
	}

	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT run_id, player_id FROM run_players
		WHERE run_id IN (`+placeholders+`) ORDER BY run_id, player_id`, args...)
	metrics.RecordDBQuery("load_run_players", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to load run players: %w", err)
	}
	for rows.Next() {
		var runID, playerID string
		if err := rows.Scan(&runID, &playerID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan run player: %w", err)
		}
		if r, ok := byID[runID]; ok {
			r.PlayerIDs = append(r.PlayerIDs, playerID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	start = time.Now()
	rows, err = s.q.QueryContext(ctx, `
		SELECT run_id, variable_id, value_id FROM run_variable_values
		WHERE run_id IN (`+placeholders+`) ORDER BY run_id, variable_id`, args...)
	metrics.RecordDBQuery("load_run_values", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to load run values: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var runID string
		var v models.ValueSelection
		if err := rows.Scan(&runID, &v.VariableID, &v.ValueID); err != nil {
			return fmt.Errorf("failed to scan run value: %w", err)
		}
		if r, ok := byID[runID]; ok {
			r.Values = append(r.Values, v)
		}
	}
	return rows.Err()
}

// RunExists reports whether a run row exists.
func (s *Store) RunExists(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT count(*) FROM runs WHERE id = ?`, id).Scan(&n)
	metrics.RecordDBQuery("run_exists", time.Since(start), err)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check run %s: %w", id, err)
	}
	return n > 0, nil
}
