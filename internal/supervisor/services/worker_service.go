// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package services adapts the process's components to suture's Serve
// lifecycle.
package services

import (
	"context"
	"fmt"
)

// JobRunner matches the queue worker's lifecycle.
type JobRunner interface {
	Run(ctx context.Context) error
	Close() error
}

// WorkerService supervises the job queue worker. A watermill router cannot
// run again after it closes, so the service builds a fresh worker on every
// restart; the durable consumer resumes where the last one left off.
type WorkerService struct {
	build func() (JobRunner, error)
}

// NewWorkerService wraps a worker factory as a supervised service.
func NewWorkerService(build func() (JobRunner, error)) *WorkerService {
	return &WorkerService{build: build}
}

// Serve implements suture.Service. It blocks until the context is canceled
// or the worker fails.
func (s *WorkerService) Serve(ctx context.Context) error {
	worker, err := s.build()
	if err != nil {
		return fmt.Errorf("failed to build queue worker: %w", err)
	}
	defer func() { _ = worker.Close() }()
	return worker.Run(ctx)
}

func (s *WorkerService) String() string {
	return "queue-worker"
}
