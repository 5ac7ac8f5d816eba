// Package logging wraps log/slog to produce the persistent-log line format
// spec §6 requires: UTF-8, line-oriented, ISO-8601 timestamps, levels
// DEBUG/INFO/WARN/ERROR. The teacher (cmd/consumption/main.go) already uses
// log/slog directly for its own console logging; this package generalizes
// that into a handler over any io.Writer, with the moby-moby/logrus-style
// level names DEBUG/INFO/WARN/ERROR pinned as constants.
package logging

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Level name constants matching spec §6 exactly.
const (
	LevelDebugName = "DEBUG"
	LevelInfoName  = "INFO"
	LevelWarnName  = "WARN"
	LevelErrorName = "ERROR"
)

// lineHandler renders one slog.Record per line as
// "<ISO-8601> <LEVEL> <msg> key=value...".
type lineHandler struct {
	w     io.Writer
	attrs []slog.Attr
	level slog.Leveler
}

// NewLineHandler builds an slog.Handler that writes to w in the spec §6
// line format. level sets the minimum level that is emitted.
func NewLineHandler(w io.Writer, level slog.Leveler) slog.Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &lineHandler{w: w, level: level}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := ts.UTC().Format(time.RFC3339) + " " + levelName(r.Level) + " " + r.Message

	for _, a := range h.attrs {
		line += " " + a.Key + "=" + a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + a.Key + "=" + a.Value.String()
		return true
	})
	line += "\n"

	_, err := io.WriteString(h.w, line)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &lineHandler{w: h.w, level: h.level}
	next.attrs = append(next.attrs, h.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *lineHandler) WithGroup(_ string) slog.Handler {
	// Groups are not part of the spec §6 line format; flatten instead of
	// nesting, matching the teacher's flat key=value style.
	return h
}

func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return LevelDebugName
	case l < slog.LevelWarn:
		return LevelInfoName
	case l < slog.LevelError:
		return LevelWarnName
	default:
		return LevelErrorName
	}
}

// New builds a *slog.Logger writing to w in the spec §6 line format, at
// or above the given minimum level.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewLineHandler(w, level))
}
