// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package supervisor assembles the process's long-running services into a
// suture tree. The queue worker and the sweep scheduler restart
// independently of the telemetry endpoint, so a broker outage never takes
// the metrics endpoint down with it.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/pacesetter-app/pacesetter/internal/logging"
)

// TreeConfig tunes restart behavior for every supervisor in the tree.
type TreeConfig struct {
	// FailureThreshold is the failure score that triggers backoff.
	FailureThreshold float64
	// FailureDecay is how fast the failure score decays, in seconds.
	FailureDecay float64
	// FailureBackoff is how long a tripped supervisor waits before
	// restarting its services.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds graceful shutdown of each service.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig mirrors suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the two-layer supervisor for the sync process: a sync layer for
// the queue worker and sweep scheduler, and a telemetry layer for the
// metrics endpoint.
type Tree struct {
	root      *suture.Supervisor
	sync      *suture.Supervisor
	telemetry *suture.Supervisor
}

// NewTree builds the supervisor hierarchy. Supervisor events are logged
// through the process logger.
func NewTree(cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook()

	rootSpec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("pacesetter", rootSpec)
	syncLayer := suture.New("sync-layer", childSpec)
	telemetry := suture.New("telemetry-layer", childSpec)
	root.Add(syncLayer)
	root.Add(telemetry)

	return &Tree{root: root, sync: syncLayer, telemetry: telemetry}
}

// AddSyncService supervises a service in the sync layer.
func (t *Tree) AddSyncService(svc suture.Service) suture.ServiceToken {
	return t.sync.Add(svc)
}

// AddTelemetryService supervises a service in the telemetry layer.
func (t *Tree) AddTelemetryService(svc suture.Service) suture.ServiceToken {
	return t.telemetry.Add(svc)
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the returned channel
// receives the terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
