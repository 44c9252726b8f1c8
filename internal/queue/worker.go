// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/engine"
	"github.com/pacesetter-app/pacesetter/internal/metrics"
)

// Worker consumes job messages and dispatches them to the sync engine.
// Failed jobs retry with exponential backoff; jobs that exhaust retries go
// to the poison queue topic.
type Worker struct {
	router *message.Router
	engine *engine.Engine
}

// NewWorker builds the job router. The poison publisher may be nil, which
// disables dead-lettering.
func NewWorker(
	cfg *config.NATSConfig,
	eng *engine.Engine,
	sub message.Subscriber,
	poisonPub message.Publisher,
	logger watermill.LoggerAdapter,
) (*Worker, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	// Middleware order matters: panics become errors before retry sees
	// them, and only errors that survive every retry reach the poison
	// queue.
	router.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryCount,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	if cfg.PoisonQueueEnabled && poisonPub != nil && cfg.PoisonQueueTopic != "" {
		poison, err := middleware.PoisonQueue(poisonPub, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poison)
	}

	w := &Worker{router: router, engine: eng}

	router.AddConsumerHandler(string(JobIngestRun), JobIngestRun.Topic(), sub, w.handleIngestRun)
	router.AddConsumerHandler(string(JobResyncGame), JobResyncGame.Topic(), sub, w.handleResyncGame)
	router.AddConsumerHandler(string(JobBackfillPlayer), JobBackfillPlayer.Topic(), sub, w.handleBackfillPlayer)
	router.AddConsumerHandler(string(JobRefreshPlayer), JobRefreshPlayer.Topic(), sub, w.handleRefreshPlayer)
	router.AddConsumerHandler(string(JobStreakSweep), JobStreakSweep.Topic(), sub, w.handleStreakSweep)

	return w, nil
}

// Run starts the worker and blocks until the context is canceled or Close
// is called.
func (w *Worker) Run(ctx context.Context) error {
	return w.router.Run(ctx)
}

// Running returns a channel that closes once all handlers are consuming.
func (w *Worker) Running() <-chan struct{} {
	return w.router.Running()
}

// Close drains in-flight jobs up to the configured close timeout.
func (w *Worker) Close() error {
	return w.router.Close()
}

func (w *Worker) handleIngestRun(msg *message.Message) error {
	var job IngestRunJob
	if err := decodeJob(msg, &job); err != nil {
		return err
	}
	start := time.Now()
	err := w.engine.IngestRun(msg.Context(), job.RunID)
	metrics.RecordJob(string(JobIngestRun), time.Since(start), err)
	return err
}

func (w *Worker) handleResyncGame(msg *message.Message) error {
	var job ResyncGameJob
	if err := decodeJob(msg, &job); err != nil {
		return err
	}
	start := time.Now()
	err := w.engine.ResyncGame(msg.Context(), job.GameID, engine.ResyncMode(job.Mode))
	metrics.RecordJob(string(JobResyncGame), time.Since(start), err)
	return err
}

func (w *Worker) handleBackfillPlayer(msg *message.Message) error {
	var job BackfillPlayerJob
	if err := decodeJob(msg, &job); err != nil {
		return err
	}
	start := time.Now()
	_, err := w.engine.BackfillPlayerRuns(msg.Context(), job.PlayerID)
	metrics.RecordJob(string(JobBackfillPlayer), time.Since(start), err)
	return err
}

func (w *Worker) handleRefreshPlayer(msg *message.Message) error {
	var job RefreshPlayerJob
	if err := decodeJob(msg, &job); err != nil {
		return err
	}
	start := time.Now()
	err := w.engine.RefreshPlayer(msg.Context(), job.PlayerID)
	metrics.RecordJob(string(JobRefreshPlayer), time.Since(start), err)
	return err
}

func (w *Worker) handleStreakSweep(msg *message.Message) error {
	var job StreakSweepJob
	if err := decodeJob(msg, &job); err != nil {
		return err
	}
	opts := engine.SweepOptions{
		GameID:       job.GameID,
		DryRun:       job.DryRun,
		RecomputeAll: job.RecomputeAll,
	}
	if job.Date != "" {
		date, err := time.Parse("2006-01-02", job.Date)
		if err != nil {
			return fmt.Errorf("invalid sweep date %q: %w", job.Date, err)
		}
		opts.Date = date
	}
	start := time.Now()
	_, err := w.engine.StreakSweep(msg.Context(), opts)
	metrics.RecordJob(string(JobStreakSweep), time.Since(start), err)
	return err
}
