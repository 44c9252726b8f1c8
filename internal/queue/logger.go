// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package queue

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/pacesetter-app/pacesetter/internal/logging"
)

// zerologAdapter bridges watermill's LoggerAdapter onto the global zerolog
// logger so queue internals log in the same format as everything else.
type zerologAdapter struct {
	fields watermill.LogFields
}

// NewLogger returns a watermill logger backed by the process logger.
func NewLogger() watermill.LoggerAdapter {
	return &zerologAdapter{}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.emit(logging.Error().Err(err), msg, fields)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.emit(logging.Info(), msg, fields)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.emit(logging.Debug(), msg, fields)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.emit(logging.Debug(), msg, fields)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zerologAdapter{fields: merged}
}

func (a *zerologAdapter) emit(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range a.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
