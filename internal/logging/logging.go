// Package logging is a thin leveled-logging shim every package in this
// module calls instead of bare log.Printf, mirroring the shape of the
// teacher's own fs.Debugf/fs.Logf/fs.Errorf convention: the first
// argument is whatever the message concerns (rendered through its
// String() method, or nil for global messages).
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetHandler lets the host process (or a test) redirect log output.
func SetHandler(h slog.Handler) {
	base = slog.New(h)
}

func subject(o fmt.Stringer) string {
	if o == nil {
		return "-"
	}
	return o.String()
}

// Debugf logs at debug level about subject o (nil for a global message).
func Debugf(o fmt.Stringer, format string, args ...any) {
	base.Debug(fmt.Sprintf(format, args...), "subject", subject(o))
}

// Infof logs at info level.
func Infof(o fmt.Stringer, format string, args ...any) {
	base.Info(fmt.Sprintf(format, args...), "subject", subject(o))
}

// Errorf logs at error level.
func Errorf(o fmt.Stringer, format string, args ...any) {
	base.Error(fmt.Sprintf(format, args...), "subject", subject(o))
}

// Logf logs at a level equivalent to the teacher's generic fs.LogPrintf.
func Logf(ctx context.Context, o fmt.Stringer, level slog.Level, format string, args ...any) {
	base.Log(ctx, level, fmt.Sprintf(format, args...), "subject", subject(o))
}
