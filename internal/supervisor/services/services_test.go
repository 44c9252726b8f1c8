// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/engine"
)

type countingSweeper struct {
	calls atomic.Int64
}

func (c *countingSweeper) StreakSweep(ctx context.Context, opts engine.SweepOptions) (*engine.SweepResult, error) {
	c.calls.Add(1)
	return &engine.SweepResult{}, nil
}

func TestSweepServiceRunsImmediatelyAndOnTicks(t *testing.T) {
	sweeper := &countingSweeper{}
	svc := NewSweepService(sweeper, config.SweepConfig{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve returned %v, want deadline exceeded", err)
	}

	got := sweeper.calls.Load()
	if got < 2 {
		t.Errorf("sweeps = %d, want at least 2 (immediate plus ticks)", got)
	}
}

type blockingRunner struct {
	started chan struct{}
	closed  atomic.Bool
}

func (r *blockingRunner) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	return ctx.Err()
}

func (r *blockingRunner) Close() error {
	r.closed.Store(true)
	return nil
}

func TestWorkerServiceBuildsAndClosesWorker(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{})}
	var builds atomic.Int64
	svc := NewWorkerService(func() (JobRunner, error) {
		builds.Add(1)
		return runner, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("worker never started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve never returned")
	}

	if builds.Load() != 1 {
		t.Errorf("builds = %d, want 1", builds.Load())
	}
	if !runner.closed.Load() {
		t.Error("worker was not closed on shutdown")
	}
}

func TestWorkerServicePropagatesBuildErrors(t *testing.T) {
	boom := errors.New("no broker")
	svc := NewWorkerService(func() (JobRunner, error) { return nil, boom })
	if err := svc.Serve(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Serve returned %v, want build error", err)
	}
}

func TestMetricsServiceStopsOnCancel(t *testing.T) {
	svc := NewMetricsService("127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give the listener a moment to bind before shutting down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve never returned")
	}
}
