// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/logging"
	"github.com/pacesetter-app/pacesetter/internal/metrics"
	"github.com/pacesetter-app/pacesetter/internal/models"
	"github.com/pacesetter-app/pacesetter/internal/points"
	"github.com/pacesetter-app/pacesetter/internal/srcapi"
)

// Integrity errors: the upstream payload references taxonomy this instance
// does not track. The caller decides whether that means "sync the game
// first" or "skip".
var (
	ErrUnknownGame     = errors.New("game not tracked")
	ErrUnknownCategory = errors.New("category not tracked")
	ErrUnknownLevel    = errors.New("level not tracked")
)

// Upstream is the slice of the API client the engine consumes.
type Upstream interface {
	Run(ctx context.Context, runID string) (*srcapi.Run, error)
	Game(ctx context.Context, gameID string) (*srcapi.Game, error)
	User(ctx context.Context, userID string) (*srcapi.User, error)
	Leaderboard(ctx context.Context, gameID, categoryID, levelID string, variables map[string]string) (*srcapi.Leaderboard, error)
	PlayerRuns(ctx context.Context, userID string, fn func(srcapi.Run) error) error
}

// Engine drives the sync pipeline against the store and the upstream API.
type Engine struct {
	db     *database.DB
	api    Upstream
	points points.Config
}

// New creates an Engine.
func New(db *database.DB, api Upstream, pts points.Config) *Engine {
	return &Engine{db: db, api: api, points: pts}
}

// IngestRun fetches one run and syncs its board: the run is normalized and
// stored, the slice reranked, per-player obsolescence resolved and the
// record ledger maintained, all in one transaction. Runs that are not
// verified are stored off-board.
func (e *Engine) IngestRun(ctx context.Context, runID string) error {
	up, err := e.api.Run(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to fetch run %s: %w", runID, err)
	}

	sc, err := e.sliceContextFor(ctx, e.db.Store(), up)
	if err != nil {
		return err
	}
	normalized := normalizeRun(up, sc)

	err = e.db.WithTx(ctx, func(s *database.Store) error {
		if err := ensurePlayers(ctx, s, up.Players.Data); err != nil {
			return err
		}

		if normalized.Status != models.StatusVerified {
			// Rejected and pending runs never rank; keep them off-board.
			normalized.Obsolete = true
			return storeRun(ctx, s, normalized)
		}

		if err := storeRun(ctx, s, normalized); err != nil {
			return err
		}
		return e.rerankSlice(ctx, s, sc, normalized.PlayerIDs)
	})
	if err != nil {
		return err
	}

	metrics.RunsIngested.Inc()
	logging.Info().
		Str("run_id", runID).
		Str("game", sc.game.Slug).
		Str("board", sc.subcategory).
		Msg("run ingested")
	return nil
}

// storeRun persists a run row with its player and value associations.
func storeRun(ctx context.Context, s *database.Store, r models.Run) error {
	if err := s.UpsertRun(ctx, r); err != nil {
		return err
	}
	if err := s.ReplaceRunPlayers(ctx, r.ID, r.PlayerIDs); err != nil {
		return err
	}
	return s.ReplaceRunValues(ctx, r.ID, r.Values)
}

// ensurePlayers creates minimal player rows for run participants so the
// board renders before the profile refresh job catches up.
func ensurePlayers(ctx context.Context, s *database.Store, players []srcapi.RunPlayer) error {
	for _, p := range players {
		if p.Guest() || p.ID == "" {
			continue
		}
		name := p.Name
		if p.Names != nil && p.Names.International != "" {
			name = p.Names.International
		}
		if name == "" {
			name = p.ID
		}
		if err := s.EnsurePlayer(ctx, p.ID, name); err != nil {
			return err
		}
	}
	return nil
}

// rerankSlice resolves obsolescence for the touched players, reranks the
// remaining active runs, and reconciles the record ledger. Sibling runs are
// only re-scored when the record time actually moved; an awarded streak
// bonus stays folded into the record's points across syncs and carries to a
// faster run sharing a player with the previous holder.
func (e *Engine) rerankSlice(ctx context.Context, s *database.Store, sc sliceContext, touchedPlayers []string) error {
	sl := models.Slice{
		GameID:      sc.game.ID,
		CategoryID:  sc.category.ID,
		Subcategory: sc.subcategory,
		Kind:        sc.kind,
	}
	if sc.level != nil {
		sl.LevelID = sc.level.ID
	}

	active, err := s.SliceRuns(ctx, sl)
	if err != nil {
		return err
	}
	timing := sc.timing()

	// Snapshot the standing record before obsolescence so its bonus and
	// holders survive its own retirement.
	var prev *models.Run
	for i := range active {
		if active[i].Place == 1 {
			prev = &active[i]
			break
		}
	}

	if obsoleteIDs := SelectObsolete(active, touchedPlayers, timing); len(obsoleteIDs) > 0 {
		if err := s.MarkObsolete(ctx, obsoleteIDs); err != nil {
			return err
		}
		active = dropRuns(active, obsoleteIDs)
	}

	var wr float64
	for _, r := range active {
		if t := boardTime(r, timing); t > 0 && (wr == 0 || t < wr) {
			wr = t
		}
	}
	recordMoved := prev == nil || boardTime(*prev, timing) != wr

	maxPoints := sc.game.MaxPoints(sc.kind, e.points.ExtensionMax)
	placements := RankSlice(active, timing, maxPoints, recordMoved)

	// The record keeps its streak bonus as long as it chains through a
	// shared player; a disjoint takeover starts over at zero.
	var record *models.Run
	for pi, p := range placements {
		if p.Place != 1 {
			continue
		}
		if record != nil && (prev == nil || p.ID != prev.ID) {
			continue // on ties, prefer the standing holder
		}
		for i := range active {
			if active[i].ID == p.ID {
				rec := active[i]
				rec.Place = p.Place
				rec.Points = placements[pi].Points
				record = &rec
				break
			}
		}
	}
	months := 0
	if record != nil {
		if prev != nil && models.SharePlayer(prev.PlayerIDs, record.PlayerIDs) {
			months = prev.Bonus
		}
		bonus := e.points.StreakBonus(sc.kind == models.KindLevel, months, sc.game.CategoryExtension)
		record.Points = maxPoints + bonus
		for i := range placements {
			if placements[i].ID == record.ID {
				placements[i].Points = record.Points
				break
			}
		}
	}

	if err := s.SaveRunPlacements(ctx, placements); err != nil {
		return err
	}

	var bonusFixes []database.BonusUpdate
	pts := make(map[string]int, len(placements))
	for _, p := range placements {
		pts[p.ID] = p.Points
	}
	for i := range active {
		want := 0
		if record != nil && active[i].ID == record.ID {
			want = months
		}
		if active[i].Bonus != want {
			bonusFixes = append(bonusFixes, database.BonusUpdate{
				ID:     active[i].ID,
				Points: pts[active[i].ID],
				Bonus:  want,
			})
		}
	}
	if len(bonusFixes) > 0 {
		if err := s.SaveBonuses(ctx, bonusFixes); err != nil {
			return err
		}
	}
	metrics.SlicesReranked.Inc()

	return maintainLedger(ctx, s, sl, record, time.Now().UTC())
}

// sliceContextFor resolves the locally-tracked taxonomy an upstream run
// references and derives its board label.
func (e *Engine) sliceContextFor(ctx context.Context, s *database.Store, up *srcapi.Run) (sliceContext, error) {
	var sc sliceContext

	game, err := s.GetGame(ctx, up.Game)
	if errors.Is(err, database.ErrNotFound) {
		return sc, fmt.Errorf("%w: %s", ErrUnknownGame, up.Game)
	}
	if err != nil {
		return sc, err
	}

	category, err := s.GetCategory(ctx, up.Category)
	if errors.Is(err, database.ErrNotFound) {
		return sc, fmt.Errorf("%w: %s", ErrUnknownCategory, up.Category)
	}
	if err != nil {
		return sc, err
	}

	sc.game = game
	sc.category = category
	sc.kind = models.KindFullGame
	base := category.Name
	levelID := ""

	if up.Level != nil && *up.Level != "" {
		level, err := s.GetLevel(ctx, *up.Level)
		if errors.Is(err, database.ErrNotFound) {
			return sc, fmt.Errorf("%w: %s", ErrUnknownLevel, *up.Level)
		}
		if err != nil {
			return sc, err
		}
		sc.level = level
		sc.kind = models.KindLevel
		base = level.Name
		levelID = level.ID
	}

	vars, err := s.GameVariables(ctx, game.ID)
	if err != nil {
		return sc, err
	}
	valueIDs := make([]string, 0, len(up.Values))
	for _, valueID := range up.Values {
		valueIDs = append(valueIDs, valueID)
	}
	valueNames, err := s.ValueLabels(ctx, valueIDs)
	if err != nil {
		return sc, err
	}

	sc.subcategory = subcategoryLabel(base, vars, up.Values, valueNames, category.ID, sc.kind, levelID)
	return sc, nil
}

// ResyncMode selects how much of a game a resync rebuilds.
type ResyncMode string

const (
	// ResyncAppend re-ingests every run already stored for the game.
	ResyncAppend ResyncMode = "append"
	// ResyncFullReset clears the game's active runs and taxonomy, re-imports
	// both from upstream, and walks every leaderboard.
	ResyncFullReset ResyncMode = "full-reset"
)

// ResyncGame rebuilds a game's boards. Append mode refreshes what is already
// stored; full-reset re-imports the game from upstream.
func (e *Engine) ResyncGame(ctx context.Context, gameID string, mode ResyncMode) error {
	switch mode {
	case ResyncAppend:
		return e.resyncAppend(ctx, gameID)
	case ResyncFullReset:
		return e.resyncFullReset(ctx, gameID)
	default:
		return fmt.Errorf("unknown resync mode %q", mode)
	}
}

func (e *Engine) resyncAppend(ctx context.Context, gameID string) error {
	ids, err := e.db.Store().GameRunIDs(ctx, gameID)
	if err != nil {
		return err
	}
	logging.Info().Str("game_id", gameID).Int("runs", len(ids)).Msg("append resync started")

	var failed int
	for _, id := range ids {
		if err := e.IngestRun(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if srcapi.IsNotFound(err) {
				// Deleted upstream; retire it here.
				if merr := e.db.WithTx(ctx, func(s *database.Store) error {
					return s.MarkObsolete(ctx, []string{id})
				}); merr != nil {
					return merr
				}
				continue
			}
			failed++
			logging.Warn().Err(err).Str("run_id", id).Msg("resync skipped run")
		}
	}
	if failed > 0 {
		logging.Warn().Str("game_id", gameID).Int("failed", failed).Msg("append resync finished with failures")
	}
	return nil
}

func (e *Engine) resyncFullReset(ctx context.Context, gameID string) error {
	if err := e.SyncGameTaxonomy(ctx, gameID); err != nil {
		return err
	}
	if err := e.db.WithTx(ctx, func(s *database.Store) error {
		return s.DeleteGameRuns(ctx, gameID)
	}); err != nil {
		return err
	}

	s := e.db.Store()
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	categories, err := s.GameCategories(ctx, gameID)
	if err != nil {
		return err
	}
	levels, err := s.GameLevels(ctx, gameID)
	if err != nil {
		return err
	}
	vars, err := s.GameVariables(ctx, gameID)
	if err != nil {
		return err
	}

	for _, category := range categories {
		if category.Type == "per-level" {
			for _, level := range levels {
				if err := e.syncBoards(ctx, game, category, &level, vars); err != nil {
					return err
				}
			}
		} else {
			if err := e.syncBoards(ctx, game, category, nil, vars); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncBoards walks every variable combination of one category (and level,
// for ILs), ingesting each filtered leaderboard.
func (e *Engine) syncBoards(ctx context.Context, game *models.Game, category models.Category, level *models.Level, vars []models.Variable) error {
	kind := models.KindFullGame
	levelID := ""
	if level != nil {
		kind = models.KindLevel
		levelID = level.ID
	}

	combos, err := e.variableCombos(ctx, vars, category.ID, kind, levelID)
	if err != nil {
		return err
	}

	for _, combo := range combos {
		board, err := e.api.Leaderboard(ctx, game.ID, category.ID, levelID, combo)
		if err != nil {
			if srcapi.IsNotFound(err) {
				continue // combination does not exist upstream
			}
			return err
		}
		if len(board.Runs) == 0 {
			continue
		}
		if err := e.ingestBoard(ctx, board); err != nil {
			return err
		}
	}
	return nil
}

// variableCombos builds the cartesian product of the applicable subcategory
// variables' values, one filter map per board. No applicable variables means
// a single unfiltered board.
func (e *Engine) variableCombos(ctx context.Context, vars []models.Variable, categoryID string, kind models.RunKind, levelID string) ([]map[string]string, error) {
	combos := []map[string]string{{}}
	s := e.db.Store()

	for _, v := range vars {
		if !v.IsSubcategory || !variableApplies(v, categoryID, kind, levelID) {
			continue
		}
		values, err := s.VariableValues(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			continue
		}

		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, val := range values {
				expanded := make(map[string]string, len(combo)+1)
				for k, cv := range combo {
					expanded[k] = cv
				}
				expanded[v.ID] = val.ID
				next = append(next, expanded)
			}
		}
		combos = next
	}
	return combos, nil
}

// ingestBoard stores every run of one fetched leaderboard, then reranks each
// slice the board touched once.
func (e *Engine) ingestBoard(ctx context.Context, board *srcapi.Leaderboard) error {
	return e.db.WithTx(ctx, func(s *database.Store) error {
		touched := make(map[models.Slice]sliceContext)
		players := make(map[models.Slice][]string)

		for _, placed := range board.Runs {
			up := placed.Run
			sc, err := e.sliceContextFor(ctx, s, &up)
			if err != nil {
				if errors.Is(err, ErrUnknownCategory) || errors.Is(err, ErrUnknownLevel) {
					logging.Warn().Err(err).Str("run_id", up.ID).Msg("board run references unknown taxonomy")
					continue
				}
				return err
			}
			if err := ensurePlayers(ctx, s, up.Players.Data); err != nil {
				return err
			}

			normalized := normalizeRun(&up, sc)
			if normalized.Status != models.StatusVerified {
				continue
			}
			if err := storeRun(ctx, s, normalized); err != nil {
				return err
			}

			sl := normalized.Slice()
			touched[sl] = sc
			players[sl] = append(players[sl], normalized.PlayerIDs...)
		}

		for sl, sc := range touched {
			if err := e.rerankSlice(ctx, s, sc, players[sl]); err != nil {
				return err
			}
		}
		return nil
	})
}

// BackfillPlayerRuns imports a player's verified runs on tracked games that
// are not stored yet. Backfilled runs carry no standing: place 0, points 0,
// obsolete. Ranking them is the next resync's job.
func (e *Engine) BackfillPlayerRuns(ctx context.Context, playerID string) (int, error) {
	stored := 0
	err := e.api.PlayerRuns(ctx, playerID, func(up srcapi.Run) error {
		if up.Status.Status != string(models.StatusVerified) {
			return nil
		}

		s := e.db.Store()
		exists, err := s.RunExists(ctx, up.ID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		sc, err := e.sliceContextFor(ctx, s, &up)
		if err != nil {
			if errors.Is(err, ErrUnknownGame) || errors.Is(err, ErrUnknownCategory) || errors.Is(err, ErrUnknownLevel) {
				return nil // not a tracked board
			}
			return err
		}

		normalized := normalizeRun(&up, sc)
		normalized.Place = 0
		normalized.Points = 0
		normalized.Obsolete = true

		if err := e.db.WithTx(ctx, func(tx *database.Store) error {
			if err := ensurePlayers(ctx, tx, up.Players.Data); err != nil {
				return err
			}
			return storeRun(ctx, tx, normalized)
		}); err != nil {
			return err
		}
		stored++
		return nil
	})
	if err != nil {
		return stored, err
	}

	logging.Info().Str("player_id", playerID).Int("stored", stored).Msg("player backfill complete")
	return stored, nil
}

// SyncGameTaxonomy imports a game's categories, levels, variables, values
// and platforms from upstream. Local overrides survive the refresh: IL
// timing and custom point caps on the game row, and per-category timing
// overrides, which upstream does not carry at all.
func (e *Engine) SyncGameTaxonomy(ctx context.Context, gameID string) error {
	up, err := e.api.Game(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to fetch game %s: %w", gameID, err)
	}

	existing, err := e.db.Store().GetGame(ctx, gameID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	game := models.Game{
		ID:            up.ID,
		Name:          up.Names.International,
		Slug:          up.Abbreviation,
		BoxArt:        up.Assets.CoverLarge.URI,
		Twitch:        up.Names.Twitch,
		DefaultTiming: models.TimingMethod(up.Ruleset.DefaultTime),
		FullGameMax:   e.points.DefaultFullGameMax,
		LevelMax:      e.points.DefaultLevelMax,
		CategoryExtension: strings.Contains(
			strings.ToLower(up.Names.International), "category extension"),
	}
	if !game.DefaultTiming.Valid() {
		game.DefaultTiming = models.TimingRealtime
	}
	game.LevelTiming = game.DefaultTiming
	game.Release = parseUpstreamTime(&up.ReleaseDate)

	if existing != nil {
		game.LevelTiming = existing.LevelTiming
		game.FullGameMax = existing.FullGameMax
		game.LevelMax = existing.LevelMax
		game.CategoryExtension = existing.CategoryExtension
		if existing.Twitch != "" {
			game.Twitch = existing.Twitch
		}
	}

	return e.db.WithTx(ctx, func(s *database.Store) error {
		if err := s.UpsertGame(ctx, game); err != nil {
			return err
		}

		timingOverrides := make(map[string]models.TimingMethod)
		stored, err := s.GameCategories(ctx, gameID)
		if err != nil {
			return err
		}
		for _, c := range stored {
			if c.Timing.Valid() {
				timingOverrides[c.ID] = c.Timing
			}
		}

		if err := s.DeleteGameTaxonomy(ctx, gameID); err != nil {
			return err
		}
		for _, p := range up.Platforms.Data {
			if err := s.UpsertPlatform(ctx, models.Platform{ID: p.ID, Name: p.Name}); err != nil {
				return err
			}
		}
		for _, c := range up.Categories.Data {
			if err := s.UpsertCategory(ctx, models.Category{
				ID: c.ID, GameID: gameID, Name: c.Name,
				Type: c.Type, URL: c.Weblink, Rules: c.Rules,
				Timing: timingOverrides[c.ID],
			}); err != nil {
				return err
			}
		}
		for _, l := range up.Levels.Data {
			if err := s.UpsertLevel(ctx, models.Level{
				ID: l.ID, GameID: gameID, Name: l.Name,
				URL: l.Weblink, Rules: l.Rules,
			}); err != nil {
				return err
			}
		}
		for _, v := range up.Variables.Data {
			variable := models.Variable{
				ID: v.ID, GameID: gameID, Name: v.Name,
				Scope:         v.Scope.Type,
				IsSubcategory: v.IsSubcategory,
			}
			if v.Category != nil {
				variable.CategoryID = *v.Category
			}
			if v.Scope.Level != nil {
				variable.ScopeLevelID = *v.Scope.Level
			}
			if err := s.UpsertVariable(ctx, variable); err != nil {
				return err
			}
			for valueID, value := range v.Values.Values {
				if err := s.UpsertVariableValue(ctx, models.VariableValue{
					ID: valueID, VariableID: v.ID, Name: value.Label, Rules: value.Rules,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// RefreshPlayer syncs one player's profile from upstream.
func (e *Engine) RefreshPlayer(ctx context.Context, playerID string) error {
	up, err := e.api.User(ctx, playerID)
	if err != nil {
		return fmt.Errorf("failed to fetch player %s: %w", playerID, err)
	}

	player := models.Player{
		ID:       up.ID,
		Name:     up.Names.International,
		URL:      up.Weblink,
		Pronouns: up.Pronouns,
	}
	if player.Name == "" {
		player.Name = up.Names.Japanese
	}
	if player.Name == "" {
		player.Name = up.ID
	}
	if up.Location != nil {
		player.Country = up.Location.Country.Code
	}
	if up.Twitch != nil {
		player.Twitch = up.Twitch.URI
	}
	if up.YouTube != nil {
		player.YouTube = up.YouTube.URI
	}
	if up.Twitter != nil {
		player.Twitter = up.Twitter.URI
	}

	return e.db.WithTx(ctx, func(s *database.Store) error {
		return s.UpsertPlayer(ctx, player)
	})
}
