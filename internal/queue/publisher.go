// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pacesetter-app/pacesetter/internal/metrics"
)

// Publisher enqueues jobs with circuit breaker protection. A run of failed
// publishes trips the breaker so callers fail fast instead of piling up on
// a dead broker.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[any]
	mu             sync.RWMutex
	closed         bool
}

// NewPublisher wraps a transport publisher. Works with the NATS publisher
// in production and gochannel in tests.
func NewPublisher(pub message.Publisher) *Publisher {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "queue-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Publisher{publisher: pub, circuitBreaker: cb}
}

// Enqueue publishes one job. The message UUID is set as Nats-Msg-Id so the
// stream deduplicates redeliveries.
func (p *Publisher) Enqueue(ctx context.Context, t JobType, payload any) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	msg, err := newJobMessage(payload)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	_, err = p.circuitBreaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(t.Topic(), msg)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", t, err)
	}
	metrics.JobsPublished.WithLabelValues(string(t)).Inc()
	return nil
}

// EnqueueIngestRun queues a sync of one run.
func (p *Publisher) EnqueueIngestRun(ctx context.Context, runID string) error {
	return p.Enqueue(ctx, JobIngestRun, IngestRunJob{RunID: runID})
}

// EnqueueResyncGame queues a game resync in the given mode.
func (p *Publisher) EnqueueResyncGame(ctx context.Context, gameID, mode string) error {
	return p.Enqueue(ctx, JobResyncGame, ResyncGameJob{GameID: gameID, Mode: mode})
}

// EnqueueBackfillPlayer queues a player run backfill.
func (p *Publisher) EnqueueBackfillPlayer(ctx context.Context, playerID string) error {
	return p.Enqueue(ctx, JobBackfillPlayer, BackfillPlayerJob{PlayerID: playerID})
}

// EnqueueRefreshPlayer queues a player profile refresh.
func (p *Publisher) EnqueueRefreshPlayer(ctx context.Context, playerID string) error {
	return p.Enqueue(ctx, JobRefreshPlayer, RefreshPlayerJob{PlayerID: playerID})
}

// EnqueueStreakSweep queues a streak anniversary sweep.
func (p *Publisher) EnqueueStreakSweep(ctx context.Context, job StreakSweepJob) error {
	return p.Enqueue(ctx, JobStreakSweep, job)
}

// Close shuts down the underlying transport.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
