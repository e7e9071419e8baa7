// Copyright 2024 The Erigon Authors
// (original work)
// Copyright 2026 The Merge Recovery Authors
// (modifications)
// This file is part of Merge Recovery.
//
// Merge Recovery is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Merge Recovery is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Merge Recovery. If not, see <http://www.gnu.org/licenses/>.

// Package rlog is the structured logger used across the merge recovery
// core: a thin, leveled wrapper over log/slog with caller-frame
// annotation, writing through a colorable stdout writer when stdout is a
// terminal, in the style of the storage node's own logging package. The
// slog text handler itself emits no color codes.
package rlog

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level mirrors the node's log levels (spec.md §3, ctx.log_level).
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseLevel accepts the conventional lowercase level names; unrecognized
// input falls back to info.
func ParseLevel(s string) Level {
	switch s {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Logger wraps *slog.Logger, adding the caller-frame field every call site
// in the node's own logger attaches.
type Logger struct {
	base *slog.Logger
}

// New opens a Logger at the given level. A non-empty path opens/creates
// that log file in append mode (ctx.log_file, spec.md §3); the caller is
// responsible for closing it via the returned io.Closer when non-nil. An
// empty path writes to stdout, through a colorable writer when stdout is a
// terminal.
func New(path string, level Level) (*Logger, io.Closer, error) {
	var w io.Writer
	var closer io.Closer

	switch {
	case path != "":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closer = f
	case isatty.IsTerminal(os.Stdout.Fd()):
		w = colorable.NewColorableStdout()
	default:
		w = os.Stdout
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &Logger{base: slog.New(handler)}, closer, nil
}

// With returns a child logger with the given key/value pairs bound.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	caller := stack.Caller(2)
	args = append(args, slog.String("caller", caller.String()))
	l.base.Log(ctx, level, msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(context.Background(), slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(context.Background(), slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(context.Background(), slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(context.Background(), slog.LevelError, msg, args) }

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{base: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
