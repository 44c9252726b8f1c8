// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package engine

import (
	"github.com/pacesetter-app/pacesetter/internal/models"
)

// SelectObsolete decides which of a slice's active runs should be retired
// after a sync touched the given players. For each player, their fastest
// active run stays on the board and the rest go obsolete. Ties keep the run
// with the earlier effective date. Runs are never deleted, a player's sole
// run is never flagged, and runs without registered players are left alone.
func SelectObsolete(active []models.Run, playerIDs []string, timing models.TimingMethod) []string {
	var obsolete []string
	flagged := make(map[string]bool)

	for _, pid := range playerIDs {
		if pid == "" {
			continue
		}

		var mine []models.Run
		for _, r := range active {
			for _, rp := range r.PlayerIDs {
				if rp == pid {
					mine = append(mine, r)
					break
				}
			}
		}
		if len(mine) < 2 {
			continue
		}

		best := mine[0]
		bestTime := boardTime(best, timing)
		for _, r := range mine[1:] {
			t := boardTime(r, timing)
			switch {
			case t < bestTime:
				best, bestTime = r, t
			case t == bestTime && r.EffectiveDate().Before(best.EffectiveDate()):
				best = r
			}
		}

		for _, r := range mine {
			if r.ID != best.ID && !flagged[r.ID] {
				flagged[r.ID] = true
				obsolete = append(obsolete, r.ID)
			}
		}
	}
	return obsolete
}

// dropRuns returns active without the runs whose IDs appear in ids.
func dropRuns(active []models.Run, ids []string) []models.Run {
	if len(ids) == 0 {
		return active
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := active[:0:0]
	for _, r := range active {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	return kept
}
