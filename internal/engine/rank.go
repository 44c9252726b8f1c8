// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package engine implements the leaderboard sync pipeline: normalization of
// upstream runs, competition ranking and points, per-player obsolescence,
// and the record-holder history ledger with its streak bonuses.
package engine

import (
	"sort"

	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/logging"
	"github.com/pacesetter-app/pacesetter/internal/models"
	"github.com/pacesetter-app/pacesetter/internal/points"
)

// boardTime returns the seconds that rank a run on a board timed with the
// given method. A zero primary column falls back to the other clock the way
// the boards themselves do: RTA boards fall back to IGT and IGT boards to
// RTA. Loads-removed boards have no fallback.
func boardTime(r models.Run, timing models.TimingMethod) float64 {
	switch timing {
	case models.TimingNoLoads:
		return r.LRTSeconds
	case models.TimingInGame:
		if r.IGTSeconds == 0 {
			return r.RTASeconds
		}
		return r.IGTSeconds
	default:
		if r.RTASeconds == 0 {
			return r.IGTSeconds
		}
		return r.RTASeconds
	}
}

// RankSlice assigns standard competition ranking (1, 1, 3, ...) and points to
// the active runs of one slice. The record time earns maxPoints; slower runs
// decay along the points curve. With recomputePoints false only places move:
// runs keep their stored points except the record, which is normalized to
// maxPoints (the caller folds any streak bonus back in), and runs with no
// stored points yet, which are priced against the standing record.
//
// Runs without a positive time under the board's timing cannot be ranked and
// are returned with place 0 and points 0.
func RankSlice(runs []models.Run, timing models.TimingMethod, maxPoints int, recomputePoints bool) []database.RunPlacement {
	if len(runs) == 0 {
		return nil
	}

	type timed struct {
		run  models.Run
		secs float64
	}
	ranked := make([]timed, 0, len(runs))
	placements := make([]database.RunPlacement, 0, len(runs))

	for _, r := range runs {
		secs := boardTime(r, timing)
		if secs <= 0 {
			logging.Warn().
				Str("run_id", r.ID).
				Str("timing", string(timing)).
				Msg("run has no usable time, left unranked")
			placements = append(placements, database.RunPlacement{ID: r.ID})
			continue
		}
		ranked = append(ranked, timed{run: r, secs: secs})
	}
	if len(ranked) == 0 {
		return placements
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].secs < ranked[j].secs })
	wr := ranked[0].secs

	currentPlace := 1
	tiedPlacements := 0
	havePrevious := false
	var previousTime float64

	for _, t := range ranked {
		if havePrevious && t.secs != previousTime {
			currentPlace += tiedPlacements
			tiedPlacements = 0
		}

		pts := t.run.Points
		if recomputePoints || t.secs == wr || t.run.Points == 0 {
			pts = points.Compute(wr, t.secs, maxPoints)
		}

		placements = append(placements, database.RunPlacement{
			ID:     t.run.ID,
			Place:  currentPlace,
			Points: pts,
		})

		tiedPlacements++
		previousTime = t.secs
		havePrevious = true
	}
	return placements
}
