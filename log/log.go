// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// Logger carries contextual key/value pairs to every record it emits.
type Logger = *slog.Logger

var root atomic.Pointer[slog.Logger]

func init() {
	root.Store(slog.New(discardHandler{}))
}

// WithContext returns a logger bound to the given key/value context,
// e.g. WithContext("pkg", "stakepool").
func WithContext(kv ...any) Logger {
	return root.Load().With(kv...)
}

// SetRootHandler replaces the process root handler.
// Loggers obtained before the call keep the old handler.
func SetRootHandler(h slog.Handler) {
	root.Store(slog.New(h))
}

// NewTextHandler builds a text handler writing to w at the given level.
func NewTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// VerbosityToLevel maps a 0..4 verbosity flag to a slog level.
func VerbosityToLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelWarn
	case verbosity == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
