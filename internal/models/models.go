// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package models defines the domain types shared by the sync engine, the
// store, and the job queue: games and their taxonomy, runs, players, and the
// record-holder history ledger.
package models

import "time"

// TimingMethod identifies which clock a leaderboard ranks by.
type TimingMethod string

const (
	TimingRealtime TimingMethod = "realtime"         // RTA
	TimingNoLoads  TimingMethod = "realtime_noloads" // LRT
	TimingInGame   TimingMethod = "ingame"           // IGT
)

// Valid reports whether m is one of the three known timing methods.
func (m TimingMethod) Valid() bool {
	switch m {
	case TimingRealtime, TimingNoLoads, TimingInGame:
		return true
	}
	return false
}

// RunKind separates full-game boards from individual-level boards.
type RunKind string

const (
	KindFullGame RunKind = "main"
	KindLevel    RunKind = "il"
)

// VerificationStatus mirrors the upstream moderation state of a run.
type VerificationStatus string

const (
	StatusVerified VerificationStatus = "verified"
	StatusNew      VerificationStatus = "new"
	StatusRejected VerificationStatus = "rejected"
)

// Game is a tracked leaderboard game.
type Game struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Slug    string     `json:"slug"`
	Release *time.Time `json:"release,omitempty"`
	BoxArt  string     `json:"boxart,omitempty"`
	Twitch  string     `json:"twitch,omitempty"`

	// DefaultTiming ranks full-game boards; LevelTiming ranks IL boards.
	// Upstream only reports the former, so LevelTiming starts equal to it
	// and is overridden per game where the community times ILs differently.
	DefaultTiming TimingMethod `json:"default_timing"`
	LevelTiming   TimingMethod `json:"level_timing"`

	// FullGameMax and LevelMax are the record point values for this game's
	// boards. CategoryExtension games use the global extension cap instead
	// and never earn streak bonuses.
	FullGameMax       int  `json:"full_game_max"`
	LevelMax          int  `json:"level_max"`
	CategoryExtension bool `json:"category_extension"`
}

// TimingFor returns the timing method that ranks boards of the given kind.
func (g Game) TimingFor(kind RunKind) TimingMethod {
	if kind == KindLevel {
		return g.LevelTiming
	}
	return g.DefaultTiming
}

// MaxPoints returns the record point value for a board of the given kind.
// extensionMax is the configured cap for category-extension games.
func (g Game) MaxPoints(kind RunKind, extensionMax int) int {
	if g.CategoryExtension {
		return extensionMax
	}
	if kind == KindLevel {
		return g.LevelMax
	}
	return g.FullGameMax
}

// Category is a full-game or per-level run category.
type Category struct {
	ID     string `json:"id"`
	GameID string `json:"game_id"`
	Name   string `json:"name"`
	// Type is "per-game" or "per-level".
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Rules string `json:"rules,omitempty"`

	// Timing, when set, ranks this category's boards instead of the game
	// default. A locally maintained override; empty means inherit.
	Timing TimingMethod `json:"timing,omitempty"`
}

// Level is an individual level of a game.
type Level struct {
	ID     string `json:"id"`
	GameID string `json:"game_id"`
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
	Rules  string `json:"rules,omitempty"`
}

// Platform is a hardware platform a run was performed on.
type Platform struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Player is a leaderboard participant.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Country  string `json:"country,omitempty"`
	Pronouns string `json:"pronouns,omitempty"`
	Twitch   string `json:"twitch,omitempty"`
	YouTube  string `json:"youtube,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
}

// Variable is a run variable; subcategory variables partition leaderboards.
type Variable struct {
	ID         string `json:"id"`
	GameID     string `json:"game_id"`
	CategoryID string `json:"category_id,omitempty"` // empty = applies to all categories
	Name       string `json:"name"`
	// Scope is "global", "full-game", "all-levels" or "single-level".
	Scope         string `json:"scope"`
	ScopeLevelID  string `json:"scope_level_id,omitempty"`
	IsSubcategory bool   `json:"is_subcategory"`
}

// VariableValue is one selectable value of a variable.
type VariableValue struct {
	ID         string `json:"id"`
	VariableID string `json:"variable_id"`
	Name       string `json:"name"`
	Rules      string `json:"rules,omitempty"`
}

// ValueSelection records one variable:value choice on a run.
type ValueSelection struct {
	VariableID string `json:"variable_id"`
	ValueID    string `json:"value_id"`
}

// Run is a single synced leaderboard entry.
type Run struct {
	ID         string  `json:"id"`
	Kind       RunKind `json:"kind"`
	GameID     string  `json:"game_id"`
	CategoryID string  `json:"category_id"`
	LevelID    string  `json:"level_id,omitempty"` // empty for full-game runs

	// Subcategory is the derived display label of the board the run sits
	// on, e.g. "Any% (No Major Glitches, PC)". Together with game, kind and
	// level it identifies the leaderboard slice.
	Subcategory string `json:"subcategory"`

	Place  int `json:"place"`  // 0 = unranked
	Points int `json:"points"` // includes any streak bonus
	Bonus  int `json:"bonus"`  // months of streak bonus folded into Points

	URL           string     `json:"url,omitempty"`
	Video         string     `json:"video,omitempty"`
	ArchivedVideo string     `json:"arch_video,omitempty"`
	Date          *time.Time `json:"date,omitempty"`   // submitted
	VerifyDate    *time.Time `json:"v_date,omitempty"` // verified

	// Each timing method is stored as a display string plus raw seconds; a
	// method the run was not timed with holds "0" and 0.
	RTA        string  `json:"time"`
	RTASeconds float64 `json:"time_secs"`
	LRT        string  `json:"timenl"`
	LRTSeconds float64 `json:"timenl_secs"`
	IGT        string  `json:"timeigt"`
	IGTSeconds float64 `json:"timeigt_secs"`

	PlatformID string             `json:"platform_id,omitempty"`
	Emulated   bool               `json:"emulated"`
	Status     VerificationStatus `json:"vid_status"`
	ApproverID string             `json:"approver_id,omitempty"`
	Obsolete   bool               `json:"obsolete"`

	Description string `json:"description,omitempty"`

	PlayerIDs []string         `json:"player_ids,omitempty"`
	Values    []ValueSelection `json:"values,omitempty"`
}

// TimeFor returns the run's raw seconds under the given timing method.
func (r Run) TimeFor(method TimingMethod) float64 {
	switch method {
	case TimingNoLoads:
		return r.LRTSeconds
	case TimingInGame:
		return r.IGTSeconds
	default:
		return r.RTASeconds
	}
}

// EffectiveDate is the date a run took effect on its board: the verified
// date when present, otherwise the submitted date.
func (r Run) EffectiveDate() time.Time {
	if r.VerifyDate != nil {
		return *r.VerifyDate
	}
	if r.Date != nil {
		return *r.Date
	}
	return time.Time{}
}

// Slice returns the leaderboard slice the run belongs to.
func (r Run) Slice() Slice {
	return Slice{
		GameID:      r.GameID,
		CategoryID:  r.CategoryID,
		LevelID:     r.LevelID,
		Subcategory: r.Subcategory,
		Kind:        r.Kind,
	}
}

// Slice identifies one leaderboard: a (game, category, level, subcategory,
// kind) partition. All ranking, obsolescence and streak logic operates
// within a single slice.
type Slice struct {
	GameID      string  `json:"game_id"`
	CategoryID  string  `json:"category_id"`
	LevelID     string  `json:"level_id,omitempty"`
	Subcategory string  `json:"subcategory"`
	Kind        RunKind `json:"kind"`
}

// EndReason explains why a history ledger period was closed.
type EndReason string

const (
	EndNewWR         EndReason = "new_wr"
	EndLostWR        EndReason = "lost_wr"
	EndGainedWR      EndReason = "gained_wr"
	EndObsoleted     EndReason = "obsoleted"
	EndRecalculation EndReason = "recalculation"
)

// HistoryEntry is one period of the append-only run history ledger. An open
// period (EndDate nil, EndReason empty) is the run's current standing; a
// slice has at most one open record-holder period at a time.
type HistoryEntry struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Points    int        `json:"points"`
	EndReason EndReason  `json:"end_reason,omitempty"`
}

// Open reports whether the period is still current.
func (h HistoryEntry) Open() bool {
	return h.EndDate == nil
}

// SharePlayer reports whether two player ID sets intersect. Two empty sets
// never share a player, so anonymous records never chain into a streak.
func SharePlayer(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
