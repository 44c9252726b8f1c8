// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package points implements the leaderboard scoring formulas: the continuous
// decay curve that scores a run against the current record, and the monthly
// streak bonus awarded to long-held records.
package points

import "math"

// decayExponent is the steepness constant of the points curve.
const decayExponent = 4.8284

// Compute scores a run against the record time. The record earns maxPoints
// exactly; slower runs decay on e^(k·((wr/run)−1)). Records under a minute
// flatten the curve by sqrt(wr/60) so millisecond-scale gaps on short boards
// are not over-punished. Non-positive times score zero.
func Compute(wr, run float64, maxPoints int) int {
	if wr <= 0 || run <= 0 {
		return 0
	}
	if run == wr {
		return maxPoints
	}

	k := decayExponent
	if wr < 60 {
		k *= math.Sqrt(wr / 60)
	}

	p := math.Floor(math.Pow(math.E, k*((wr/run)-1)) * float64(maxPoints))
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	return int(p)
}

// Config holds the scoring constants. Values are fixed at construction;
// changing them requires a full recompute of stored points.
type Config struct {
	// DefaultFullGameMax and DefaultLevelMax seed the per-game point caps
	// when a game is first imported. Individual games may override them.
	DefaultFullGameMax int `koanf:"default_full_game_max" validate:"gt=0"`
	DefaultLevelMax    int `koanf:"default_level_max" validate:"gt=0"`

	// ExtensionMax is the cap for category-extension games, full-game and
	// level boards alike.
	ExtensionMax int `koanf:"extension_max" validate:"gt=0"`

	// FullGameMonthly and LevelMonthly are the streak bonus rates in points
	// per whole month the record is held.
	FullGameMonthly float64 `koanf:"full_game_monthly" validate:"gte=0"`
	LevelMonthly    float64 `koanf:"level_monthly" validate:"gte=0"`

	// MaxStreakMonths caps the streak bonus and bounds the ledger walk.
	MaxStreakMonths int `koanf:"max_streak_months" validate:"gt=0"`
}

// DefaultConfig returns the standard scoring constants.
func DefaultConfig() Config {
	return Config{
		DefaultFullGameMax: 1000,
		DefaultLevelMax:    100,
		ExtensionMax:       25,
		FullGameMonthly:    25,
		LevelMonthly:       2.5,
		MaxStreakMonths:    4,
	}
}

// StreakBonus returns the bonus points for a record held monthsHeld whole
// months. Category-extension games never earn a bonus. The fractional level
// rate accumulates before flooring, so months pay out 2, 5, 7, 10 rather
// than a flat 2 per month.
func (c Config) StreakBonus(isLevel bool, monthsHeld int, categoryExtension bool) int {
	if categoryExtension || monthsHeld <= 0 {
		return 0
	}

	capped := monthsHeld
	if capped > c.MaxStreakMonths {
		capped = c.MaxStreakMonths
	}

	if isLevel {
		return int(float64(capped) * c.LevelMonthly)
	}
	return int(float64(capped) * c.FullGameMonthly)
}
