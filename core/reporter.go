package core

import (
	"context"

	"go.uber.org/zap"
)

// Operation names passed to ErrorReporter.
const (
	OpLoadCache    = "load_cached_profile"
	OpFetchSession = "fetch_initial_session"
	OpSyncAccount  = "sync_linked_account"
	OpWriteCache   = "write_cached_profile"
	OpClearCache   = "clear_cached_profile"
	OpSignOut      = "sign_out"
	OpSteamID      = "detect_steam_id"
	OpSteamProfile = "fetch_steam_profile"
)

// ErrorReporter is the sink for failures that must not reach the caller.
type ErrorReporter interface {
	Report(ctx context.Context, op string, err error)
}

type logReporter struct {
	log *zap.Logger
}

// NewLogReporter reports failures at error level.
func NewLogReporter(log *zap.Logger) ErrorReporter {
	return &logReporter{log: log}
}

func (r *logReporter) Report(ctx context.Context, op string, err error) {
	r.log.Error("operation failed", zap.String("op", op), zap.Error(err))
}
