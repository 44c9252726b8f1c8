// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/models"
	"github.com/pacesetter-app/pacesetter/internal/srcapi"
	"github.com/pacesetter-app/pacesetter/internal/timeutil"
)

// sliceContext is the locally-known taxonomy surrounding an upstream run:
// the game, category, level (IL only) and the derived board label.
type sliceContext struct {
	game        *models.Game
	category    *models.Category
	level       *models.Level
	kind        models.RunKind
	subcategory string
}

// timing returns the method that ranks this board: the category override
// when one is set, otherwise the game default for the board's kind.
func (sc sliceContext) timing() models.TimingMethod {
	if sc.category != nil && sc.category.Timing.Valid() {
		return sc.category.Timing
	}
	return sc.game.TimingFor(sc.kind)
}

// normalizeRun converts one upstream run payload into the stored form.
// Place, points and the obsolete flag are the caller's business.
func normalizeRun(up *srcapi.Run, sc sliceContext) models.Run {
	r := models.Run{
		ID:          up.ID,
		Kind:        sc.kind,
		GameID:      sc.game.ID,
		CategoryID:  sc.category.ID,
		Subcategory: sc.subcategory,
		URL:         up.Weblink,
		Video:       up.VideoURI(),
		Date:        normalizeDate(up),
		VerifyDate:  parseUpstreamTime(up.Status.VerifyDate),
		RTA:         timeutil.FormatClock(up.Times.RealtimeT),
		RTASeconds:  up.Times.RealtimeT,
		LRT:         timeutil.FormatClock(up.Times.RealtimeNoloadsT),
		LRTSeconds:  up.Times.RealtimeNoloadsT,
		IGT:         timeutil.FormatClock(up.Times.IngameT),
		IGTSeconds:  up.Times.IngameT,
		PlatformID:  up.System.Platform,
		Emulated:    up.System.Emulated,
		Status:      models.VerificationStatus(up.Status.Status),
		ApproverID:  up.Status.Examiner,
		Description: up.Comment,
	}
	if sc.level != nil {
		r.LevelID = sc.level.ID
	}

	for _, p := range up.Players.Data {
		if !p.Guest() && p.ID != "" {
			r.PlayerIDs = append(r.PlayerIDs, p.ID)
		}
	}

	varIDs := make([]string, 0, len(up.Values))
	for varID := range up.Values {
		varIDs = append(varIDs, varID)
	}
	sort.Strings(varIDs)
	for _, varID := range varIDs {
		r.Values = append(r.Values, models.ValueSelection{
			VariableID: varID,
			ValueID:    up.Values[varID],
		})
	}

	// Some boards timed without loads come through with the loads-removed
	// time sitting in the realtime column and the LRT column empty. Move it
	// where the board expects it.
	if sc.timing() == models.TimingNoLoads && r.RTASeconds > 0 && r.LRTSeconds == 0 {
		r.LRT = r.RTA
		r.LRTSeconds = r.RTASeconds
		r.RTA = "0"
		r.RTASeconds = 0
	}

	return r
}

// normalizeDate prefers the full submission timestamp over the date-only
// field the upstream also carries.
func normalizeDate(up *srcapi.Run) *time.Time {
	if t := parseUpstreamTime(up.Submitted); t != nil {
		return t
	}
	return parseUpstreamTime(&up.Date)
}

// parseUpstreamTime accepts the two formats the upstream mixes: RFC3339
// timestamps and bare YYYY-MM-DD dates.
func parseUpstreamTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02", *s); err == nil {
		return &t
	}
	return nil
}

// variableApplies reports whether a variable scopes onto a board of the
// given kind and level.
func variableApplies(v models.Variable, categoryID string, kind models.RunKind, levelID string) bool {
	if v.CategoryID != "" && v.CategoryID != categoryID {
		return false
	}
	switch v.Scope {
	case "full-game":
		return kind == models.KindFullGame
	case "all-levels":
		return kind == models.KindLevel
	case "single-level":
		return kind == models.KindLevel && v.ScopeLevelID == levelID
	default: // global
		return true
	}
}

// subcategoryLabel derives the board display label: the base name (category
// for full-game boards, level for ILs) plus the run's subcategory value
// names in variable-ID order, e.g. "Any% (No Major Glitches, PC)".
func subcategoryLabel(base string, vars []models.Variable, runValues map[string]string, valueNames map[string]string, categoryID string, kind models.RunKind, levelID string) string {
	var parts []string
	for _, v := range vars { // vars arrive ordered by ID
		if !v.IsSubcategory || !variableApplies(v, categoryID, kind, levelID) {
			continue
		}
		valueID, ok := runValues[v.ID]
		if !ok {
			continue
		}
		if name, ok := valueNames[valueID]; ok && name != "" {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return base
	}
	return base + " (" + strings.Join(parts, ", ") + ")"
}
