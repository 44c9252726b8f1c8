// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package queue carries sync work through NATS JetStream. Every job is a
// small JSON payload on its own subject under "jobs."; the worker router
// consumes them with retry and poison-queue handling.
package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobType names a queue job.
type JobType string

const (
	JobIngestRun      JobType = "ingest_run"
	JobResyncGame     JobType = "resync_game"
	JobBackfillPlayer JobType = "backfill_player"
	JobRefreshPlayer  JobType = "refresh_player"
	JobStreakSweep    JobType = "streak_sweep"
)

// Topic returns the NATS subject the job type travels on.
func (t JobType) Topic() string {
	return "jobs." + string(t)
}

// IngestRunJob syncs one run and its board.
type IngestRunJob struct {
	RunID string `json:"run_id"`
}

// ResyncGameJob rebuilds a game's boards.
type ResyncGameJob struct {
	GameID string `json:"game_id"`
	// Mode is "append" or "full-reset".
	Mode string `json:"mode"`
}

// BackfillPlayerJob imports a player's unstored verified runs.
type BackfillPlayerJob struct {
	PlayerID string `json:"player_id"`
}

// RefreshPlayerJob refreshes one player profile.
type RefreshPlayerJob struct {
	PlayerID string `json:"player_id"`
}

// StreakSweepJob runs a streak anniversary sweep.
type StreakSweepJob struct {
	GameID string `json:"game_id,omitempty"`
	// Date is YYYY-MM-DD; empty means today.
	Date         string `json:"date,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty"`
	RecomputeAll bool   `json:"recompute_all,omitempty"`
}

// newJobMessage encodes a payload into a watermill message with a fresh
// UUID.
func newJobMessage(payload any) (*message.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return message.NewMessage(uuid.NewString(), body), nil
}

// decodeJob decodes a message payload into out.
func decodeJob(msg *message.Message, out any) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}
