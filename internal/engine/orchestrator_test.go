// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/models"
	"github.com/pacesetter-app/pacesetter/internal/points"
	"github.com/pacesetter-app/pacesetter/internal/srcapi"
)

// fakeUpstream serves canned payloads in place of the live API.
type fakeUpstream struct {
	runs   map[string]*srcapi.Run
	games  map[string]*srcapi.Game
	users  map[string]*srcapi.User
	boards map[string]*srcapi.Leaderboard
}

func (f *fakeUpstream) Run(_ context.Context, id string) (*srcapi.Run, error) {
	if r, ok := f.runs[id]; ok {
		return r, nil
	}
	return nil, &srcapi.StatusError{StatusCode: 404, URL: "/runs/" + id}
}

func (f *fakeUpstream) Game(_ context.Context, id string) (*srcapi.Game, error) {
	if g, ok := f.games[id]; ok {
		return g, nil
	}
	return nil, &srcapi.StatusError{StatusCode: 404, URL: "/games/" + id}
}

func (f *fakeUpstream) User(_ context.Context, id string) (*srcapi.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, &srcapi.StatusError{StatusCode: 404, URL: "/users/" + id}
}

func (f *fakeUpstream) Leaderboard(_ context.Context, gameID, categoryID, levelID string, _ map[string]string) (*srcapi.Leaderboard, error) {
	key := gameID + "/" + categoryID + "/" + levelID
	if b, ok := f.boards[key]; ok {
		return b, nil
	}
	return nil, &srcapi.StatusError{StatusCode: 404, URL: "/leaderboards/" + key}
}

func (f *fakeUpstream) PlayerRuns(_ context.Context, userID string, fn func(srcapi.Run) error) error {
	for _, r := range f.runs {
		for _, p := range r.Players.Data {
			if p.ID == userID {
				if err := fn(*r); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

func testEngine(t *testing.T) (*Engine, *fakeUpstream, *database.DB) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "engine.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	up := &fakeUpstream{
		runs:   make(map[string]*srcapi.Run),
		games:  make(map[string]*srcapi.Game),
		users:  make(map[string]*srcapi.User),
		boards: make(map[string]*srcapi.Leaderboard),
	}
	return New(db, up, points.DefaultConfig()), up, db
}

func seedTaxonomy(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()
	s := db.Store()
	if err := s.UpsertGame(ctx, models.Game{
		ID: "g1", Name: "Test Game", Slug: "tg",
		DefaultTiming: models.TimingRealtime,
		LevelTiming:   models.TimingRealtime,
		FullGameMax:   1000, LevelMax: 100,
	}); err != nil {
		t.Fatalf("UpsertGame: %v", err)
	}
	if err := s.UpsertCategory(ctx, models.Category{
		ID: "c1", GameID: "g1", Name: "Any%", Type: "per-game",
	}); err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
}

func verifiedRun(id string, secs float64, day int, playerIDs ...string) *srcapi.Run {
	verify := fmt.Sprintf("2024-03-%02dT10:00:00Z", day)
	players := make([]srcapi.RunPlayer, len(playerIDs))
	for i, pid := range playerIDs {
		players[i] = srcapi.RunPlayer{Rel: "user", ID: pid, Name: "Runner " + pid}
	}
	return &srcapi.Run{
		ID:       id,
		Game:     "g1",
		Category: "c1",
		Date:     fmt.Sprintf("2024-03-%02d", day),
		Times:    srcapi.Times{PrimaryT: secs, RealtimeT: secs},
		Status:   srcapi.RunStatus{Status: "verified", Examiner: "mod1", VerifyDate: &verify},
		Players:  srcapi.RunPlayers{Data: players},
	}
}

func TestIngestRunRanksAndOpensLedger(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun r1: %v", err)
	}

	s := db.Store()
	r1, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r1.Place != 1 || r1.Points != 1000 {
		t.Errorf("r1 place=%d points=%d, want 1/1000", r1.Place, r1.Points)
	}

	open, err := s.OpenHistoryEntry(ctx, r1.Slice())
	if err != nil {
		t.Fatalf("OpenHistoryEntry: %v", err)
	}
	if open.RunID != "r1" || open.Points != 1000 {
		t.Errorf("open entry = %+v", open)
	}

	// A slower run ranks second on the decay curve, record untouched.
	up.runs["r2"] = verifiedRun("r2", 660, 2, "p2")
	if err := e.IngestRun(ctx, "r2"); err != nil {
		t.Fatalf("IngestRun r2: %v", err)
	}
	r2, err := s.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("GetRun r2: %v", err)
	}
	if r2.Place != 2 || r2.Points != 644 {
		t.Errorf("r2 place=%d points=%d, want 2/644", r2.Place, r2.Points)
	}
}

func TestIngestRunRecordChangeClosesLedger(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	up.runs["r2"] = verifiedRun("r2", 590, 5, "p2")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun r1: %v", err)
	}
	if err := e.IngestRun(ctx, "r2"); err != nil {
		t.Fatalf("IngestRun r2: %v", err)
	}

	s := db.Store()
	sl := models.Slice{GameID: "g1", CategoryID: "c1", Subcategory: "Any%", Kind: models.KindFullGame}

	open, err := s.OpenHistoryEntry(ctx, sl)
	if err != nil {
		t.Fatalf("OpenHistoryEntry: %v", err)
	}
	if open.RunID != "r2" {
		t.Errorf("open holder = %s, want r2", open.RunID)
	}

	history, err := s.SliceHistory(ctx, sl)
	if err != nil {
		t.Fatalf("SliceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d ledger entries, want 2", len(history))
	}
	closedEntry := history[1]
	if closedEntry.RunID != "r1" || closedEntry.EndReason != models.EndLostWR {
		t.Errorf("closed entry = %+v, want r1 lost_wr", closedEntry.HistoryEntry)
	}

	// r1 is repriced against the new record.
	r1, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun r1: %v", err)
	}
	if r1.Place != 2 || r1.Points <= 0 || r1.Points >= 1000 {
		t.Errorf("r1 place=%d points=%d after losing record", r1.Place, r1.Points)
	}
}

func TestIngestRunSamePlayerImprovementObsoletesOldRun(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["slow"] = verifiedRun("slow", 600, 1, "p1")
	up.runs["fast"] = verifiedRun("fast", 580, 8, "p1")
	if err := e.IngestRun(ctx, "slow"); err != nil {
		t.Fatalf("IngestRun slow: %v", err)
	}
	if err := e.IngestRun(ctx, "fast"); err != nil {
		t.Fatalf("IngestRun fast: %v", err)
	}

	s := db.Store()
	old, err := s.GetRun(ctx, "slow")
	if err != nil {
		t.Fatalf("GetRun slow: %v", err)
	}
	if !old.Obsolete || old.Place != 0 || old.Points != 0 {
		t.Errorf("old run = place %d points %d obsolete %v, want retired", old.Place, old.Points, old.Obsolete)
	}

	sl := models.Slice{GameID: "g1", CategoryID: "c1", Subcategory: "Any%", Kind: models.KindFullGame}
	history, err := s.SliceHistory(ctx, sl)
	if err != nil {
		t.Fatalf("SliceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	// The old run went obsolete, but its reign ended because the holder
	// improved on it.
	if history[1].EndReason != models.EndNewWR {
		t.Errorf("close reason = %s, want new_wr", history[1].EndReason)
	}
	if history[0].RunID != "fast" || !history[0].Open() {
		t.Errorf("open entry = %+v, want fast", history[0].HistoryEntry)
	}
}

func TestIngestRunUnknownGame(t *testing.T) {
	e, up, _ := testEngine(t)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	err := e.IngestRun(ctx, "r1")
	if !errors.Is(err, ErrUnknownGame) {
		t.Errorf("err = %v, want ErrUnknownGame", err)
	}
}

func TestIngestRunRejectedStaysOffBoard(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	rejected := verifiedRun("bad", 500, 1, "p1")
	rejected.Status.Status = "rejected"
	up.runs["bad"] = rejected

	if err := e.IngestRun(ctx, "bad"); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	r, err := db.Store().GetRun(ctx, "bad")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !r.Obsolete || r.Place != 0 {
		t.Errorf("rejected run on board: place=%d obsolete=%v", r.Place, r.Obsolete)
	}
}

func TestBackfillPlayerRunsStoresWithoutStanding(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	other := verifiedRun("other-game", 300, 2, "p1")
	other.Game = "untracked"
	up.runs["other-game"] = other

	stored, err := e.BackfillPlayerRuns(ctx, "p1")
	if err != nil {
		t.Fatalf("BackfillPlayerRuns: %v", err)
	}
	if stored != 1 {
		t.Errorf("stored = %d, want 1 (untracked game skipped)", stored)
	}

	r, err := db.Store().GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !r.Obsolete || r.Place != 0 || r.Points != 0 {
		t.Errorf("backfilled run has standing: %+v", r)
	}

	// Already-stored runs are not re-imported.
	stored, err = e.BackfillPlayerRuns(ctx, "p1")
	if err != nil {
		t.Fatalf("BackfillPlayerRuns again: %v", err)
	}
	if stored != 0 {
		t.Errorf("second backfill stored %d, want 0", stored)
	}
}

func TestStreakSweepAwardsOnAnniversary(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	// One month after the verify date (2024-03-01) is an anniversary.
	res, err := e.StreakSweep(ctx, SweepOptions{
		Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("StreakSweep: %v", err)
	}
	if res.BonusesAwarded != 1 {
		t.Fatalf("awarded = %d, want 1", res.BonusesAwarded)
	}

	r, err := db.Store().GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Bonus != 1 || r.Points != 1025 {
		t.Errorf("bonus=%d points=%d, want 1/1025", r.Bonus, r.Points)
	}

	// Not an anniversary: nothing moves.
	res, err = e.StreakSweep(ctx, SweepOptions{
		Date: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("StreakSweep off-day: %v", err)
	}
	if res.BonusesAwarded != 0 {
		t.Errorf("off-day awarded %d, want 0", res.BonusesAwarded)
	}
}

func TestStreakSweepRecomputeAllAndDryRun(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	// Dry run on an off-day with RecomputeAll finds the award but persists
	// nothing.
	res, err := e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
		DryRun:       true,
	})
	if err != nil {
		t.Fatalf("StreakSweep dry: %v", err)
	}
	if res.BonusesAwarded != 1 {
		t.Fatalf("dry awarded = %d, want 1", res.BonusesAwarded)
	}
	r, _ := db.Store().GetRun(ctx, "r1")
	if r.Bonus != 0 {
		t.Errorf("dry run persisted bonus %d", r.Bonus)
	}

	// For real: 3 complete months by 2024-06-20, capped awards apply later.
	res, err = e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
	})
	if err != nil {
		t.Fatalf("StreakSweep: %v", err)
	}
	if res.BonusesAwarded != 1 {
		t.Fatalf("awarded = %d, want 1", res.BonusesAwarded)
	}
	r, _ = db.Store().GetRun(ctx, "r1")
	if r.Bonus != 3 || r.Points != 1075 {
		t.Errorf("bonus=%d points=%d, want 3/1075", r.Bonus, r.Points)
	}
}

func TestStreakSweepSkipsCategoryExtensions(t *testing.T) {
	e, up, db := testEngine(t)
	ctx := context.Background()
	s := db.Store()

	if err := s.UpsertGame(ctx, models.Game{
		ID: "g1", Name: "Test Game Category Extensions", Slug: "tgce",
		DefaultTiming: models.TimingRealtime, LevelTiming: models.TimingRealtime,
		FullGameMax: 1000, LevelMax: 100, CategoryExtension: true,
	}); err != nil {
		t.Fatalf("UpsertGame: %v", err)
	}
	if err := s.UpsertCategory(ctx, models.Category{
		ID: "c1", GameID: "g1", Name: "Any%", Type: "per-game",
	}); err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	res, err := e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
	})
	if err != nil {
		t.Fatalf("StreakSweep: %v", err)
	}
	if res.RecordsChecked != 0 || res.BonusesAwarded != 0 {
		t.Errorf("checked=%d awarded=%d, want 0/0 for extension game", res.RecordsChecked, res.BonusesAwarded)
	}
}

func TestRebuildHistoryReplaysChronologically(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	// Ingest out of order; the rebuild replays by effective date.
	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	up.runs["r2"] = verifiedRun("r2", 580, 10, "p2")
	up.runs["r3"] = verifiedRun("r3", 560, 20, "p1")
	for _, id := range []string{"r3", "r1", "r2"} {
		if err := e.IngestRun(ctx, id); err != nil {
			t.Fatalf("IngestRun %s: %v", id, err)
		}
	}

	res, err := e.RebuildHistory(ctx, RebuildOptions{GameID: "g1", Clear: true})
	if err != nil {
		t.Fatalf("RebuildHistory: %v", err)
	}
	if res.Slices != 1 {
		t.Errorf("slices = %d, want 1", res.Slices)
	}

	sl := models.Slice{GameID: "g1", CategoryID: "c1", Subcategory: "Any%", Kind: models.KindFullGame}
	history, err := db.Store().SliceHistory(ctx, sl)
	if err != nil {
		t.Fatalf("SliceHistory: %v", err)
	}

	// r1 reign, r1 repriced then obsoleted by r3, r2 reign, r2 repriced,
	// r3 reign.
	if len(history) != 5 {
		for _, h := range history {
			t.Logf("entry: %+v", h.HistoryEntry)
		}
		t.Fatalf("got %d entries, want 5", len(history))
	}

	var opens, lost, obsoleted int
	for _, h := range history {
		switch {
		case h.Open():
			opens++
		case h.EndReason == models.EndLostWR:
			lost++
		case h.EndReason == models.EndObsoleted:
			obsoleted++
		}
	}
	if opens != 2 || lost != 2 || obsoleted != 1 {
		t.Errorf("opens=%d lost=%d obsoleted=%d, want 2/2/1", opens, lost, obsoleted)
	}
}

func TestIngestPreservesRecordStreakBonus(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun r1: %v", err)
	}
	if _, err := e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
	}); err != nil {
		t.Fatalf("StreakSweep: %v", err)
	}

	s := db.Store()
	r1, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r1.Bonus != 3 || r1.Points != 1075 {
		t.Fatalf("bonus=%d points=%d before sibling sync, want 3/1075", r1.Bonus, r1.Points)
	}

	// A slower run by another player ranks second without touching the
	// record's standing.
	up.runs["r2"] = verifiedRun("r2", 660, 25, "p2")
	if err := e.IngestRun(ctx, "r2"); err != nil {
		t.Fatalf("IngestRun r2: %v", err)
	}
	r1, err = s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun after sibling: %v", err)
	}
	if r1.Place != 1 || r1.Points != 1075 || r1.Bonus != 3 {
		t.Errorf("record = place %d points %d bonus %d, want 1/1075/3", r1.Place, r1.Points, r1.Bonus)
	}
	r2, err := s.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("GetRun r2: %v", err)
	}
	if r2.Place != 2 || r2.Points != 644 {
		t.Errorf("r2 place=%d points=%d, want 2/644", r2.Place, r2.Points)
	}

	// Re-syncing the record itself keeps its standing too.
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun r1 again: %v", err)
	}
	r1, err = s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun after re-sync: %v", err)
	}
	if r1.Place != 1 || r1.Points != 1075 || r1.Bonus != 3 {
		t.Errorf("re-synced record = place %d points %d bonus %d, want 1/1075/3", r1.Place, r1.Points, r1.Bonus)
	}

	// Nothing for a follow-up sweep to repair.
	res, err := e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
	})
	if err != nil {
		t.Fatalf("StreakSweep again: %v", err)
	}
	if res.BonusesAwarded != 0 {
		t.Errorf("follow-up sweep awarded %d, want 0", res.BonusesAwarded)
	}
}

func TestIngestSamePlayerImprovementCarriesBonus(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun r1: %v", err)
	}
	if _, err := e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
	}); err != nil {
		t.Fatalf("StreakSweep: %v", err)
	}

	up.runs["r3"] = verifiedRun("r3", 580, 28, "p1")
	if err := e.IngestRun(ctx, "r3"); err != nil {
		t.Fatalf("IngestRun r3: %v", err)
	}

	s := db.Store()
	r3, err := s.GetRun(ctx, "r3")
	if err != nil {
		t.Fatalf("GetRun r3: %v", err)
	}
	if r3.Place != 1 || r3.Points != 1075 || r3.Bonus != 3 {
		t.Errorf("new record = place %d points %d bonus %d, want 1/1075/3", r3.Place, r3.Points, r3.Bonus)
	}

	sl := models.Slice{GameID: "g1", CategoryID: "c1", Subcategory: "Any%", Kind: models.KindFullGame}
	history, err := s.SliceHistory(ctx, sl)
	if err != nil {
		t.Fatalf("SliceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	if history[1].EndReason != models.EndNewWR {
		t.Errorf("close reason = %s, want new_wr", history[1].EndReason)
	}
}

func TestIngestDisjointTakeoverResetsBonus(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun r1: %v", err)
	}
	if _, err := e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
	}); err != nil {
		t.Fatalf("StreakSweep: %v", err)
	}

	up.runs["r4"] = verifiedRun("r4", 570, 28, "p2")
	if err := e.IngestRun(ctx, "r4"); err != nil {
		t.Fatalf("IngestRun r4: %v", err)
	}

	s := db.Store()
	r4, err := s.GetRun(ctx, "r4")
	if err != nil {
		t.Fatalf("GetRun r4: %v", err)
	}
	if r4.Place != 1 || r4.Points != 1000 || r4.Bonus != 0 {
		t.Errorf("new record = place %d points %d bonus %d, want 1/1000/0", r4.Place, r4.Points, r4.Bonus)
	}

	r1, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun r1: %v", err)
	}
	if r1.Place != 2 || r1.Bonus != 0 || r1.Points <= 0 || r1.Points >= 1000 {
		t.Errorf("dethroned run = place %d points %d bonus %d, want repriced second with no bonus",
			r1.Place, r1.Points, r1.Bonus)
	}
}

func TestCategoryTimingOverridesGameDefault(t *testing.T) {
	e, up, db := testEngine(t)
	ctx := context.Background()
	s := db.Store()

	if err := s.UpsertGame(ctx, models.Game{
		ID: "g1", Name: "Test Game", Slug: "tg",
		DefaultTiming: models.TimingRealtime,
		LevelTiming:   models.TimingRealtime,
		FullGameMax:   1000, LevelMax: 100,
	}); err != nil {
		t.Fatalf("UpsertGame: %v", err)
	}
	if err := s.UpsertCategory(ctx, models.Category{
		ID: "c1", GameID: "g1", Name: "Any%", Type: "per-game",
		Timing: models.TimingInGame,
	}); err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}

	// r1 is slower on RTA but faster on IGT; the override decides.
	r1 := verifiedRun("r1", 600, 1, "p1")
	r1.Times.IngameT = 120
	r2 := verifiedRun("r2", 590, 2, "p2")
	r2.Times.IngameT = 130
	up.runs["r1"], up.runs["r2"] = r1, r2

	for _, id := range []string{"r1", "r2"} {
		if err := e.IngestRun(ctx, id); err != nil {
			t.Fatalf("IngestRun %s: %v", id, err)
		}
	}

	got1, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun r1: %v", err)
	}
	got2, err := s.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("GetRun r2: %v", err)
	}
	if got1.Place != 1 || got1.Points != 1000 {
		t.Errorf("r1 place=%d points=%d, want record under IGT override", got1.Place, got1.Points)
	}
	if got2.Place != 2 {
		t.Errorf("r2 place=%d, want 2 under IGT override", got2.Place)
	}
}

func TestSyncGameTaxonomyKeepsCategoryTimingOverride(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()
	s := db.Store()

	if err := s.UpsertCategory(ctx, models.Category{
		ID: "c1", GameID: "g1", Name: "Any%", Type: "per-game",
		Timing: models.TimingInGame,
	}); err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}

	g := &srcapi.Game{ID: "g1", Abbreviation: "tg"}
	g.Names.International = "Test Game"
	g.Ruleset.DefaultTime = "realtime"
	g.Categories.Data = []srcapi.Category{{ID: "c1", Name: "Any%", Type: "per-game"}}
	up.games["g1"] = g

	if err := e.SyncGameTaxonomy(ctx, "g1"); err != nil {
		t.Fatalf("SyncGameTaxonomy: %v", err)
	}

	cat, err := s.GetCategory(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCategory: %v", err)
	}
	if cat.Timing != models.TimingInGame {
		t.Errorf("timing after resync = %q, want local override kept", cat.Timing)
	}
}

func TestStreakSweepRecomputeAllCorrectsCappedBonus(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()
	s := db.Store()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	if err := e.IngestRun(ctx, "r1"); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	// Simulate drifted state: the stored bonus sits at the cap while the
	// ledger only supports one month.
	if err := s.SaveBonuses(ctx, []database.BonusUpdate{
		{ID: "r1", Points: 1100, Bonus: 4},
	}); err != nil {
		t.Fatalf("SaveBonuses: %v", err)
	}

	// Anniversary mode never visits a capped record.
	res, err := e.StreakSweep(ctx, SweepOptions{
		Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("StreakSweep anniversary: %v", err)
	}
	if res.RecordsChecked != 0 {
		t.Errorf("anniversary mode checked %d capped records, want 0", res.RecordsChecked)
	}

	// Recompute-all does, and corrects the bonus downward.
	res, err = e.StreakSweep(ctx, SweepOptions{
		Date:         time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC),
		RecomputeAll: true,
	})
	if err != nil {
		t.Fatalf("StreakSweep recompute: %v", err)
	}
	if res.BonusesAwarded != 1 {
		t.Fatalf("awarded = %d, want 1 correction", res.BonusesAwarded)
	}
	r1, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r1.Bonus != 1 || r1.Points != 1025 {
		t.Errorf("bonus=%d points=%d, want corrected to 1/1025", r1.Bonus, r1.Points)
	}
}

func TestRebuildHistorySamePlayerImprovement(t *testing.T) {
	e, up, db := testEngine(t)
	seedTaxonomy(t, db)
	ctx := context.Background()

	up.runs["r1"] = verifiedRun("r1", 600, 1, "p1")
	up.runs["r2"] = verifiedRun("r2", 580, 5, "p1")
	for _, id := range []string{"r1", "r2"} {
		if err := e.IngestRun(ctx, id); err != nil {
			t.Fatalf("IngestRun %s: %v", id, err)
		}
	}

	if _, err := e.RebuildHistory(ctx, RebuildOptions{GameID: "g1", Clear: true}); err != nil {
		t.Fatalf("RebuildHistory: %v", err)
	}

	sl := models.Slice{GameID: "g1", CategoryID: "c1", Subcategory: "Any%", Kind: models.KindFullGame}
	history, err := db.Store().SliceHistory(ctx, sl)
	if err != nil {
		t.Fatalf("SliceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	if history[0].RunID != "r2" || !history[0].Open() {
		t.Errorf("open entry = %+v, want r2", history[0].HistoryEntry)
	}
	if history[1].RunID != "r1" || history[1].EndReason != models.EndNewWR {
		t.Errorf("closed entry = %+v, want r1 new_wr", history[1].HistoryEntry)
	}
}
