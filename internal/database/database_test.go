// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testGame(id string) models.Game {
	return models.Game{
		ID:            id,
		Name:          "Test Game",
		Slug:          "testgame",
		DefaultTiming: models.TimingRealtime,
		LevelTiming:   models.TimingRealtime,
		FullGameMax:   1000,
		LevelMax:      100,
	}
}

func testRun(id string, secs float64, playerIDs ...string) models.Run {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Run{
		ID:          id,
		Kind:        models.KindFullGame,
		GameID:      "g1",
		CategoryID:  "c1",
		Subcategory: "Any%",
		RTA:         "1m 00s",
		RTASeconds:  secs,
		Date:        &date,
		VerifyDate:  &date,
		Status:      models.StatusVerified,
		PlayerIDs:   playerIDs,
	}
}

func storeRun(t *testing.T, s *Store, r models.Run) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertRun(ctx, r); err != nil {
		t.Fatalf("UpsertRun(%s): %v", r.ID, err)
	}
	if err := s.ReplaceRunPlayers(ctx, r.ID, r.PlayerIDs); err != nil {
		t.Fatalf("ReplaceRunPlayers(%s): %v", r.ID, err)
	}
	if err := s.ReplaceRunValues(ctx, r.ID, r.Values); err != nil {
		t.Fatalf("ReplaceRunValues(%s): %v", r.ID, err)
	}
}

func TestGameRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Store()

	release := time.Date(1998, 11, 21, 0, 0, 0, 0, time.UTC)
	g := testGame("g1")
	g.Release = &release
	g.LevelTiming = models.TimingInGame

	if err := s.UpsertGame(ctx, g); err != nil {
		t.Fatalf("UpsertGame: %v", err)
	}

	got, err := s.GetGame(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got.Name != "Test Game" || got.LevelTiming != models.TimingInGame {
		t.Errorf("game = %+v", got)
	}
	if got.Release == nil || !got.Release.Equal(release) {
		t.Errorf("release = %v, want %v", got.Release, release)
	}

	// Upsert with changed fields replaces, not duplicates.
	g.Name = "Renamed"
	if err := s.UpsertGame(ctx, g); err != nil {
		t.Fatalf("UpsertGame again: %v", err)
	}
	got, err = s.GetGame(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGame after update: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("name = %q, want Renamed", got.Name)
	}

	if _, err := s.GetGame(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGame(missing) = %v, want ErrNotFound", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Store()

	r := testRun("r1", 60, "p1")
	r.Values = []models.ValueSelection{{VariableID: "v1", ValueID: "val1"}}
	storeRun(t, s, r)
	storeRun(t, s, testRun("r2", 65, "p2"))

	sl := r.Slice()
	runs, err := s.SliceRuns(ctx, sl)
	if err != nil {
		t.Fatalf("SliceRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(got.PlayerIDs) != 1 || got.PlayerIDs[0] != "p1" {
		t.Errorf("players = %v", got.PlayerIDs)
	}
	if len(got.Values) != 1 || got.Values[0].ValueID != "val1" {
		t.Errorf("values = %v", got.Values)
	}

	if err := s.SaveRunPlacements(ctx, []RunPlacement{
		{ID: "r1", Place: 1, Points: 1000},
		{ID: "r2", Place: 2, Points: 700},
	}); err != nil {
		t.Fatalf("SaveRunPlacements: %v", err)
	}

	if err := s.MarkObsolete(ctx, []string{"r2"}); err != nil {
		t.Fatalf("MarkObsolete: %v", err)
	}

	runs, err = s.SliceRuns(ctx, sl)
	if err != nil {
		t.Fatalf("SliceRuns after obsolete: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" || runs[0].Place != 1 {
		t.Errorf("active runs = %+v", runs)
	}

	// Obsolete runs still show in the player's own history.
	playerRuns, err := s.PlayerSliceRuns(ctx, sl, "p2")
	if err != nil {
		t.Fatalf("PlayerSliceRuns: %v", err)
	}
	if len(playerRuns) != 1 || !playerRuns[0].Obsolete || playerRuns[0].Place != 0 {
		t.Errorf("player runs = %+v", playerRuns)
	}
}

func TestHistoryLedger(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Store()

	r := testRun("r1", 60, "p1")
	storeRun(t, s, r)
	storeRun(t, s, testRun("r2", 55, "p2"))
	sl := r.Slice()

	if _, err := s.OpenHistoryEntry(ctx, sl); !errors.Is(err, ErrNotFound) {
		t.Fatalf("OpenHistoryEntry on empty ledger = %v, want ErrNotFound", err)
	}

	t1 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	id1, err := s.InsertHistoryEntry(ctx, models.HistoryEntry{
		RunID: "r1", StartDate: t1, Points: 1000,
	})
	if err != nil {
		t.Fatalf("InsertHistoryEntry: %v", err)
	}

	open, err := s.OpenHistoryEntry(ctx, sl)
	if err != nil {
		t.Fatalf("OpenHistoryEntry: %v", err)
	}
	if open.ID != id1 || open.RunID != "r1" || !open.Open() {
		t.Errorf("open entry = %+v", open)
	}

	t2 := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	if err := s.CloseHistoryEntry(ctx, id1, t2, models.EndLostWR); err != nil {
		t.Fatalf("CloseHistoryEntry: %v", err)
	}
	if _, err := s.InsertHistoryEntry(ctx, models.HistoryEntry{
		RunID: "r2", StartDate: t2, Points: 1000,
	}); err != nil {
		t.Fatalf("InsertHistoryEntry second: %v", err)
	}

	history, err := s.SliceHistory(ctx, sl)
	if err != nil {
		t.Fatalf("SliceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	// Newest first.
	if history[0].RunID != "r2" || !history[0].Open() {
		t.Errorf("newest = %+v", history[0])
	}
	if history[1].RunID != "r1" || history[1].EndReason != models.EndLostWR {
		t.Errorf("oldest = %+v", history[1])
	}
	if len(history[0].PlayerIDs) != 1 || history[0].PlayerIDs[0] != "p2" {
		t.Errorf("newest players = %v", history[0].PlayerIDs)
	}

	if err := s.DeleteHistory(ctx, "g1"); err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	history, err = s.SliceHistory(ctx, sl)
	if err != nil {
		t.Fatalf("SliceHistory after delete: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d entries after delete, want 0", len(history))
	}
}

func TestCurrentRecordsFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Store()

	if err := s.UpsertGame(ctx, testGame("g1")); err != nil {
		t.Fatalf("UpsertGame: %v", err)
	}
	ce := testGame("g2")
	ce.CategoryExtension = true
	if err := s.UpsertGame(ctx, ce); err != nil {
		t.Fatalf("UpsertGame ce: %v", err)
	}

	record := testRun("r1", 60, "p1")
	record.Place = 1
	record.Points = 1000
	storeRun(t, s, record)

	second := testRun("r2", 65, "p2")
	second.Place = 2
	storeRun(t, s, second)

	ceRecord := testRun("r3", 50, "p3")
	ceRecord.GameID = "g2"
	ceRecord.Place = 1
	storeRun(t, s, ceRecord)

	capped := testRun("r4", 40, "p4")
	capped.CategoryID = "c2"
	capped.Place = 1
	capped.Bonus = 4
	storeRun(t, s, capped)

	records, err := s.CurrentRecords(ctx, "", 4)
	if err != nil {
		t.Fatalf("CurrentRecords: %v", err)
	}
	if len(records) != 1 || records[0].ID != "r1" {
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.ID
		}
		t.Errorf("records = %v, want [r1]", ids)
	}

	// A negative cap disables the bonus filter, so capped records show up.
	records, err = s.CurrentRecords(ctx, "", -1)
	if err != nil {
		t.Fatalf("CurrentRecords unfiltered: %v", err)
	}
	got := make(map[string]bool, len(records))
	for _, r := range records {
		got[r.ID] = true
	}
	if len(records) != 2 || !got["r1"] || !got["r4"] {
		t.Errorf("unfiltered records = %v, want r1 and r4", got)
	}
}

func TestUpsertRunKeepsRankingState(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Store()

	storeRun(t, s, testRun("r1", 60, "p1"))
	if err := s.SaveRunPlacements(ctx, []RunPlacement{{ID: "r1", Place: 1, Points: 1000}}); err != nil {
		t.Fatalf("SaveRunPlacements: %v", err)
	}
	if err := s.SaveBonuses(ctx, []BonusUpdate{{ID: "r1", Points: 1075, Bonus: 3}}); err != nil {
		t.Fatalf("SaveBonuses: %v", err)
	}

	// A re-sync delivers the same run with zeroed ranking columns.
	storeRun(t, s, testRun("r1", 60, "p1"))

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Place != 1 || got.Points != 1075 || got.Bonus != 3 {
		t.Errorf("after re-upsert: place=%d points=%d bonus=%d, want 1/1075/3", got.Place, got.Points, got.Bonus)
	}
}

func TestCategoryTimingRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Store()

	if err := s.UpsertCategory(ctx, models.Category{
		ID: "c1", GameID: "g1", Name: "Any%", Type: "per-game",
		Timing: models.TimingInGame,
	}); err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	if err := s.UpsertCategory(ctx, models.Category{
		ID: "c2", GameID: "g1", Name: "100%", Type: "per-game",
	}); err != nil {
		t.Fatalf("UpsertCategory plain: %v", err)
	}

	got, err := s.GetCategory(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCategory: %v", err)
	}
	if got.Timing != models.TimingInGame {
		t.Errorf("timing = %q, want ingame", got.Timing)
	}

	plain, err := s.GetCategory(ctx, "c2")
	if err != nil {
		t.Fatalf("GetCategory plain: %v", err)
	}
	if plain.Timing != "" {
		t.Errorf("plain timing = %q, want inherit", plain.Timing)
	}

	cats, err := s.GameCategories(ctx, "g1")
	if err != nil {
		t.Fatalf("GameCategories: %v", err)
	}
	byID := make(map[string]models.TimingMethod, len(cats))
	for _, c := range cats {
		byID[c.ID] = c.Timing
	}
	if byID["c1"] != models.TimingInGame || byID["c2"] != "" {
		t.Errorf("listed timings = %v", byID)
	}
}

func TestSlicesAndValueLabels(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Store()

	storeRun(t, s, testRun("r1", 60, "p1"))
	il := testRun("r2", 30, "p1")
	il.Kind = models.KindLevel
	il.LevelID = "l1"
	il.Subcategory = "Level Any%"
	storeRun(t, s, il)

	slices, err := s.Slices(ctx, "g1")
	if err != nil {
		t.Fatalf("Slices: %v", err)
	}
	if len(slices) != 2 {
		t.Fatalf("got %d slices, want 2", len(slices))
	}

	if err := s.UpsertVariable(ctx, models.Variable{
		ID: "v1", GameID: "g1", Name: "Version", Scope: "global", IsSubcategory: true,
	}); err != nil {
		t.Fatalf("UpsertVariable: %v", err)
	}
	if err := s.UpsertVariableValue(ctx, models.VariableValue{
		ID: "val1", VariableID: "v1", Name: "PC",
	}); err != nil {
		t.Fatalf("UpsertVariableValue: %v", err)
	}

	labels, err := s.ValueLabels(ctx, []string{"val1", "unknown"})
	if err != nil {
		t.Fatalf("ValueLabels: %v", err)
	}
	if labels["val1"] != "PC" || len(labels) != 1 {
		t.Errorf("labels = %v", labels)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := db.WithTx(ctx, func(s *Store) error {
		if err := s.UpsertGame(ctx, testGame("g1")); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx = %v, want sentinel", err)
	}

	if _, err := db.Store().GetGame(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("game visible after rollback: %v", err)
	}

	if err := db.WithTx(ctx, func(s *Store) error {
		return s.UpsertGame(ctx, testGame("g1"))
	}); err != nil {
		t.Fatalf("WithTx commit: %v", err)
	}
	if _, err := db.Store().GetGame(ctx, "g1"); err != nil {
		t.Errorf("game missing after commit: %v", err)
	}
}
