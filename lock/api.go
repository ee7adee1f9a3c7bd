package lock

import (
	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/types"
)

// LockManager is the replicated state machine of the lock service: an
// authoritative map of held locks mutated only by committed log entries.
//
// It implements raft.Applier; the consensus layer calls Apply from a single
// goroutine in log order, so mutations are deterministic and serialized.
// Reads take a shared lock and may be used from request handlers.
type LockManager interface {
	raft.Applier

	// Check returns the current holder data for a lock, or NOT_FOUND when
	// the lock is absent or its lease has expired.
	Check(lockID types.LockID) types.CommandResult

	// GetLock returns the raw entry for a lock when one exists, expired or
	// not. Used by the front-end when pre-assigning fencing tokens.
	GetLock(lockID types.LockID) (types.Lock, bool)

	// LastApplied returns the index of the last log entry applied.
	LastApplied() types.Index

	// HeldCount returns the number of entries currently in the table,
	// including expired ones not yet lazily collected.
	HeldCount() int

	// Clear removes all state. Test-only.
	Clear()
}
