// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogHandler implements slog.Handler on top of the global zerolog logger,
// for libraries that only speak slog (sutureslog in particular).
type slogHandler struct {
	attrs  []slog.Attr
	groups []string
}

// NewSlogLogger returns an slog.Logger that writes through zerolog.
func NewSlogLogger() *slog.Logger {
	return slog.New(&slogHandler{})
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return Logger().GetLevel() <= slogLevel(level)
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	logger := Logger()
	var ev *zerolog.Event
	switch {
	case record.Level >= slog.LevelError:
		ev = logger.Error()
	case record.Level >= slog.LevelWarn:
		ev = logger.Warn()
	case record.Level >= slog.LevelInfo:
		ev = logger.Info()
	default:
		ev = logger.Debug()
	}

	for _, attr := range h.attrs {
		ev = h.addAttr(ev, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		ev = h.addAttr(ev, attr)
		return true
	})
	ev.Msg(record.Message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &slogHandler{attrs: merged, groups: h.groups}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &slogHandler{attrs: h.attrs, groups: groups}
}

func (h *slogHandler) addAttr(ev *zerolog.Event, attr slog.Attr) *zerolog.Event {
	key := attr.Key
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}

	switch attr.Value.Kind() {
	case slog.KindString:
		return ev.Str(key, attr.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, attr.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, attr.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, attr.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, attr.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, attr.Value.Duration())
	case slog.KindTime:
		return ev.Time(key, attr.Value.Time())
	case slog.KindGroup:
		for _, ga := range attr.Value.Group() {
			ev = ev.Interface(key+"."+ga.Key, ga.Value.Any())
		}
		return ev
	default:
		return ev.Interface(key, attr.Value.Any())
	}
}

func slogLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
