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

// UpsertGame inserts or replaces a game row.
func (s *Store) UpsertGame(ctx context.Context, g models.Game) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO games (id, name, slug, release, boxart, twitch,
			default_timing, level_timing, full_game_max, level_max, category_extension)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			release = excluded.release,
			boxart = excluded.boxart,
			twitch = excluded.twitch,
			default_timing = excluded.default_timing,
			level_timing = excluded.level_timing,
			full_game_max = excluded.full_game_max,
			level_max = excluded.level_max,
			category_extension = excluded.category_extension`,
		g.ID, g.Name, g.Slug, nullTime(g.Release), g.BoxArt, g.Twitch,
		string(g.DefaultTiming), string(g.LevelTiming),
		g.FullGameMax, g.LevelMax, g.CategoryExtension)
	metrics.RecordDBQuery("upsert_game", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert game %s: %w", g.ID, err)
	}
	return nil
}

// GetGame returns the game with the given ID, or ErrNotFound.
func (s *Store) GetGame(ctx context.Context, id string) (*models.Game, error) {
	start := time.Now()
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, slug, release, boxart, twitch,
			default_timing, level_timing, full_game_max, level_max, category_extension
		FROM games WHERE id = ?`, id)

	var (
		g       models.Game
		release sql.NullTime
		boxart  sql.NullString
		twitch  sql.NullString
		dt, lt  string
	)
	err := row.Scan(&g.ID, &g.Name, &g.Slug, &release, &boxart, &twitch,
		&dt, &lt, &g.FullGameMax, &g.LevelMax, &g.CategoryExtension)
	metrics.RecordDBQuery("get_game", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game %s: %w", id, err)
	}
	if release.Valid {
		g.Release = &release.Time
	}
	g.BoxArt = boxart.String
	g.Twitch = twitch.String
	g.DefaultTiming = models.TimingMethod(dt)
	g.LevelTiming = models.TimingMethod(lt)
	return &g, nil
}

// UpsertCategory inserts or replaces a category row.
func (s *Store) UpsertCategory(ctx context.Context, c models.Category) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (id, game_id, name, type, url, rules, timing)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			game_id = excluded.game_id,
			name = excluded.name,
			type = excluded.type,
			url = excluded.url,
			rules = excluded.rules,
			timing = excluded.timing`,
		c.ID, c.GameID, c.Name, c.Type, c.URL, c.Rules, nullString(string(c.Timing)))
	metrics.RecordDBQuery("upsert_category", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", c.ID, err)
	}
	return nil
}

// GetCategory returns the category with the given ID, or ErrNotFound.
func (s *Store) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	start := time.Now()
	row := s.q.QueryRowContext(ctx, `
		SELECT id, game_id, name, type, url, rules, timing FROM categories WHERE id = ?`, id)

	var (
		c                  models.Category
		url, rules, timing sql.NullString
	)
	err := row.Scan(&c.ID, &c.GameID, &c.Name, &c.Type, &url, &rules, &timing)
	metrics.RecordDBQuery("get_category", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", id, err)
	}
	c.URL = url.String
	c.Rules = rules.String
	c.Timing = models.TimingMethod(timing.String)
	return &c, nil
}

// UpsertLevel inserts or replaces a level row.
func (s *Store) UpsertLevel(ctx context.Context, l models.Level) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO levels (id, game_id, name, url, rules)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			game_id = excluded.game_id,
			name = excluded.name,
			url = excluded.url,
			rules = excluded.rules`,
		l.ID, l.GameID, l.Name, l.URL, l.Rules)
	metrics.RecordDBQuery("upsert_level", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert level %s: %w", l.ID, err)
	}
	return nil
}

// GetLevel returns the level with the given ID, or ErrNotFound.
func (s *Store) GetLevel(ctx context.Context, id string) (*models.Level, error) {
	start := time.Now()
	row := s.q.QueryRowContext(ctx, `
		SELECT id, game_id, name, url, rules FROM levels WHERE id = ?`, id)

	var (
		l          models.Level
		url, rules sql.NullString
	)
	err := row.Scan(&l.ID, &l.GameID, &l.Name, &url, &rules)
	metrics.RecordDBQuery("get_level", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get level %s: %w", id, err)
	}
	l.URL = url.String
	l.Rules = rules.String
	return &l, nil
}

// GameCategories returns a game's categories ordered by ID.
func (s *Store) GameCategories(ctx context.Context, gameID string) ([]models.Category, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, game_id, name, type, url, rules, timing
		FROM categories WHERE game_id = ? ORDER BY id`, gameID)
	metrics.RecordDBQuery("game_categories", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var (
			c                  models.Category
			url, rules, timing sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.GameID, &c.Name, &c.Type, &url, &rules, &timing); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.URL = url.String
		c.Rules = rules.String
		c.Timing = models.TimingMethod(timing.String)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GameLevels returns a game's levels ordered by ID.
func (s *Store) GameLevels(ctx context.Context, gameID string) ([]models.Level, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, game_id, name, url, rules
		FROM levels WHERE game_id = ? ORDER BY id`, gameID)
	metrics.RecordDBQuery("game_levels", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []models.Level
	for rows.Next() {
		var (
			l          models.Level
			url, rules sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.GameID, &l.Name, &url, &rules); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		l.URL = url.String
		l.Rules = rules.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertPlatform inserts a platform if it is not already known.
func (s *Store) UpsertPlatform(ctx context.Context, p models.Platform) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO platforms (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		p.ID, p.Name)
	metrics.RecordDBQuery("upsert_platform", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert platform %s: %w", p.ID, err)
	}
	return nil
}

// UpsertPlayer inserts or replaces a player profile.
func (s *Store) UpsertPlayer(ctx context.Context, p models.Player) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO players (id, name, url, country, pronouns, twitch, youtube, twitter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			country = excluded.country,
			pronouns = excluded.pronouns,
			twitch = excluded.twitch,
			youtube = excluded.youtube,
			twitter = excluded.twitter`,
		p.ID, p.Name, p.URL, p.Country, p.Pronouns, p.Twitch, p.YouTube, p.Twitter)
	metrics.RecordDBQuery("upsert_player", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert player %s: %w", p.ID, err)
	}
	return nil
}

// EnsurePlayer inserts a minimal player row if none exists, without
// overwriting a previously synced profile.
func (s *Store) EnsurePlayer(ctx context.Context, id, name string) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO players (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING`, id, name)
	metrics.RecordDBQuery("ensure_player", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to ensure player %s: %w", id, err)
	}
	return nil
}

// GetPlayer returns the player with the given ID, or ErrNotFound.
func (s *Store) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	start := time.Now()
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, url, country, pronouns, twitch, youtube, twitter
		FROM players WHERE id = ?`, id)

	var (
		p                                               models.Player
		url, country, pronouns, twitch, youtube, twtter sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &url, &country, &pronouns, &twitch, &youtube, &twtter)
	metrics.RecordDBQuery("get_player", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", id, err)
	}
	p.URL = url.String
	p.Country = country.String
	p.Pronouns = pronouns.String
	p.Twitch = twitch.String
	p.YouTube = youtube.String
	p.Twitter = twtter.String
	return &p, nil
}

// UpsertVariable inserts or replaces a variable row.
func (s *Store) UpsertVariable(ctx context.Context, v models.Variable) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO variables (id, game_id, category_id, name, scope, scope_level_id, is_subcategory)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			game_id = excluded.game_id,
			category_id = excluded.category_id,
			name = excluded.name,
			scope = excluded.scope,
			scope_level_id = excluded.scope_level_id,
			is_subcategory = excluded.is_subcategory`,
		v.ID, v.GameID, nullString(v.CategoryID), v.Name, v.Scope,
		nullString(v.ScopeLevelID), v.IsSubcategory)
	metrics.RecordDBQuery("upsert_variable", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert variable %s: %w", v.ID, err)
	}
	return nil
}

// UpsertVariableValue inserts or replaces a variable value row.
func (s *Store) UpsertVariableValue(ctx context.Context, v models.VariableValue) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO variable_values (id, variable_id, name, rules)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			variable_id = excluded.variable_id,
			name = excluded.name,
			rules = excluded.rules`,
		v.ID, v.VariableID, v.Name, v.Rules)
	metrics.RecordDBQuery("upsert_variable_value", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert variable value %s: %w", v.ID, err)
	}
	return nil
}

// GameVariables returns every variable defined for a game, ordered by ID so
// derived subcategory labels are stable.
func (s *Store) GameVariables(ctx context.Context, gameID string) ([]models.Variable, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, game_id, category_id, name, scope, scope_level_id, is_subcategory
		FROM variables WHERE game_id = ? ORDER BY id`, gameID)
	metrics.RecordDBQuery("game_variables", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []models.Variable
	for rows.Next() {
		var (
			v                  models.Variable
			category, scopeLvl sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.GameID, &category, &v.Name, &v.Scope, &scopeLvl, &v.IsSubcategory); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		v.CategoryID = category.String
		v.ScopeLevelID = scopeLvl.String
		out = append(out, v)
	}
	return out, rows.Err()
}

// VariableValues returns the values of one variable, ordered by ID.
func (s *Store) VariableValues(ctx context.Context, variableID string) ([]models.VariableValue, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, variable_id, name, rules
		FROM variable_values WHERE variable_id = ? ORDER BY id`, variableID)
	metrics.RecordDBQuery("variable_values", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list values for variable %s: %w", variableID, err)
	}
	defer rows.Close()

	var out []models.VariableValue
	for rows.Next() {
		var (
			v     models.VariableValue
			rules sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.VariableID, &v.Name, &rules); err != nil {
			return nil, fmt.Errorf("failed to scan variable value: %w", err)
		}
		v.Rules = rules.String
		out = append(out, v)
	}
	return out, rows.Err()
}

// ValueLabels returns display names for the given value IDs, keyed by ID.
// Unknown IDs are simply absent from the map.
func (s *Store) ValueLabels(ctx context.Context, valueIDs []string) (map[string]string, error) {
	if len(valueIDs) == 0 {
		return map[string]string{}, nil
	}

	placeholders := strings.Repeat("?,", len(valueIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(valueIDs))
	for i, id := range valueIDs {
		args[i] = id
	}

	start := time.Now()
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name FROM variable_values WHERE id IN (`+placeholders+`)`, args...)
	metrics.RecordDBQuery("value_labels", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to look up value labels: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]string, len(valueIDs))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan value label: %w", err)
		}
		labels[id] = name
	}
	return labels, rows.Err()
}

// DeleteGameTaxonomy removes a game's categories, levels, variables and
// variable values ahead of a full taxonomy resync.
func (s *Store) DeleteGameTaxonomy(ctx context.Context, gameID string) error {
	stmts := []struct {
		name  string
		query string
	}{
		{"delete_variable_values", `DELETE FROM variable_values WHERE variable_id IN (SELECT id FROM variables WHERE game_id = ?)`},
		{"delete_variables", `DELETE FROM variables WHERE game_id = ?`},
		{"delete_categories", `DELETE FROM categories WHERE game_id = ?`},
		{"delete_levels", `DELETE FROM levels WHERE game_id = ?`},
	}
	for _, stmt := range stmts {
		start := time.Now()
		_, err := s.q.ExecContext(ctx, stmt.query, gameID)
		metrics.RecordDBQuery(stmt.name, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to clear taxonomy for game %s: %w", gameID, err)
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
