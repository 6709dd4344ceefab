// Package checkpoint persists the highest mention ID the agent has fully
// processed, so that a restart resumes without replying twice.
package checkpoint

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// Store loads and saves the mention checkpoint.
//
// Load returns ok=false when no checkpoint has been written yet. Corrupt
// state is logged and reported as absent; only I/O and connectivity
// failures are returned as errors.
type Store interface {
	Load(ctx context.Context) (id uint64, ok bool, err error)
	Save(ctx context.Context, id uint64) error
}

// parse decodes a stored checkpoint value. Unparseable values are logged at
// WARN and treated as absent.
func parse(logger *slog.Logger, backend, raw string) (uint64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		logger.Warn("ignoring corrupt checkpoint", "backend", backend, "value", raw, "error", err)
		return 0, false
	}
	return id, true
}

func format(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
