package lock

import (
	"context"

	"github.com/gaestalt/lockd/types"
)

// Apply executes one committed log entry against the lock store. Entries at
// or below the last applied index are skipped idempotently, which keeps
// replay after restart or leader change harmless.
func (lm *lockManager) Apply(ctx context.Context, entry types.LogEntry) types.CommandResult {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if entry.Index <= lm.lastApplied {
		lm.logger.Debugw("Skipping already applied entry", "index", entry.Index)
		return types.CommandResult{Status: types.StatusOK}
	}
	defer func() { lm.lastApplied = entry.Index }()

	if entry.Type == types.EntryNoop {
		return types.CommandResult{Status: types.StatusOK}
	}

	cmd, err := types.DecodeCommand(entry.Command)
	if err != nil {
		lm.logger.Errorw("Invalid command payload", "index", entry.Index, "error", err)
		return types.CommandResult{Status: types.StatusError, Message: "invalid command data"}
	}

	switch cmd.Type {
	case types.EntryAcquire:
		return lm.acquireWithToken(cmd.LockID, cmd.ClientID, cmd.RegionID, cmd.Token, cmd.ExpiresAt, cmd.AcquiredAt)
	case types.EntryRelease:
		return lm.releaseByToken(cmd.LockID, cmd.Token)
	case types.EntryExtend:
		return lm.extendByToken(cmd.LockID, cmd.Token, cmd.ExpiresAt)
	default:
		lm.logger.Errorw("Unknown entry type", "index", entry.Index, "type", entry.Type)
		return types.CommandResult{Status: types.StatusError, Message: "unknown entry type"}
	}
}
