// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package timeutil provides speedrun clock formatting and the calendar-month
// arithmetic used by the streak bonus engine.
package timeutil

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatDuration converts a run time in seconds to its display form,
// "1h 23m 45s 678ms". Hours are omitted when zero and milliseconds when
// exactly zero; minutes and seconds are always present, seconds zero-padded
// to two digits. Negative input is treated as zero.
func FormatDuration(secs float64) string {
	if secs < 0 || math.IsNaN(secs) {
		secs = 0
	}

	totalMS := int64(math.Round(secs * 1000))
	hours := totalMS / 3_600_000
	totalMS %= 3_600_000
	minutes := totalMS / 60_000
	totalMS %= 60_000
	seconds := totalMS / 1000
	millis := totalMS % 1000

	var b strings.Builder
	if hours >= 1 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	fmt.Fprintf(&b, "%dm %02ds", minutes, seconds)
	if millis != 0 {
		fmt.Fprintf(&b, " %03dms", millis)
	}
	return b.String()
}

// FormatClock is FormatDuration for optional clocks: a non-positive time
// renders as "0", the upstream convention for an absent timing method.
func FormatClock(secs float64) string {
	if secs <= 0 {
		return "0"
	}
	return FormatDuration(secs)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AnniversaryDay returns the day-of-month an anniversary falls on in the
// target month, clamping start days that the month does not have (a streak
// started on the 31st has its February anniversary on the 28th or 29th).
func AnniversaryDay(originalDay, year int, month time.Month) int {
	if d := DaysInMonth(year, month); originalDay > d {
		return d
	}
	return originalDay
}

// MonthsBetween returns the number of whole calendar months from start to
// end. A month is complete once end reaches the (clamped) anniversary day,
// so Jan 31 to Feb 28 of a non-leap year counts as one month. Returns 0 when
// end does not follow start.
func MonthsBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}

	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < AnniversaryDay(start.Day(), end.Year(), end.Month()) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// IsAnniversary reports whether check falls on a monthly anniversary of
// start, along with the number of whole months held at that date.
func IsAnniversary(start, check time.Time) (bool, int) {
	months := MonthsBetween(start, check)
	if months <= 0 {
		return false, months
	}
	return check.Day() == AnniversaryDay(start.Day(), check.Year(), check.Month()), months
}
