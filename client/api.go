package client

import (
	"context"
	"time"

	"github.com/gaestalt/lockd/types"
)

// Client is the Go client of the lock service. It tracks the current
// leader across redirects, retries transient failures with backoff, and
// returns policy denials as statuses rather than errors.
type Client interface {
	// Acquire requests exclusive ownership of a lock for the given lease
	// duration (zero means the server default).
	Acquire(ctx context.Context, lockID types.LockID, lease time.Duration) (*AcquireResult, error)

	// Release relinquishes a lock under the fencing token returned by
	// Acquire.
	Release(ctx context.Context, lockID types.LockID, token types.FencingToken) (types.LockStatus, error)

	// Check reports the lock's current holder.
	Check(ctx context.Context, lockID types.LockID) (*CheckResult, error)

	// Extend moves a held lock's expiry forward under the fencing token.
	Extend(ctx context.Context, lockID types.LockID, token types.FencingToken, lease time.Duration) (*ExtendResult, error)

	// KeepAlive extends the lock at a fraction of its lease until the
	// context is cancelled, the lock is lost (NOT_FOUND, INVALID_TOKEN or
	// EXPIRED, reported as ErrLockLost), or Extend returns an error, such as
	// exhausted retries. Any other status is retried at the next tick. It
	// blocks; run it in its own goroutine.
	KeepAlive(ctx context.Context, lockID types.LockID, token types.FencingToken, lease time.Duration) error

	// Close releases all connections.
	Close() error
}

// AcquireResult is the outcome of an Acquire call.
type AcquireResult struct {
	Status    types.LockStatus
	Token     types.FencingToken
	ExpiresAt int64
	Message   string
}

// Acquired reports whether the lock was granted.
func (r *AcquireResult) Acquired() bool {
	return r.Status == types.StatusOK
}

// CheckResult is the outcome of a Check call.
type CheckResult struct {
	Status    types.LockStatus
	Holder    types.ClientID
	Region    types.RegionID
	Token     types.FencingToken
	ExpiresAt int64
	Remaining time.Duration
}

// ExtendResult is the outcome of an Extend call.
type ExtendResult struct {
	Status    types.LockStatus
	ExpiresAt int64
	Message   string
}
