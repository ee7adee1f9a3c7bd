package lock

import (
	"sync"

	"github.com/gaestalt/lockd/logger"
	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/types"
)

// lockManager is the concrete lock store. Expiry is lazy: no timer runs,
// and an expired entry is treated as absent by the next operation that
// touches its lock ID.
type lockManager struct {
	mu    sync.RWMutex
	locks map[types.LockID]types.Lock

	lastApplied types.Index

	clock   raft.Clock
	logger  logger.Logger
	metrics Metrics
}

// Option customizes a LockManager.
type Option func(*lockManager)

// WithClock replaces the wall clock, typically for tests.
func WithClock(clock raft.Clock) Option {
	return func(lm *lockManager) { lm.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(lm *lockManager) { lm.logger = log.WithComponent("lock") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(lm *lockManager) { lm.metrics = m }
}

// NewLockManager creates an empty lock store.
func NewLockManager(opts ...Option) LockManager {
	lm := &lockManager{
		locks:   make(map[types.LockID]types.Lock),
		clock:   raft.NewStandardClock(),
		logger:  &logger.NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// acquireWithToken inserts a lock entry unless a live holder exists.
// A re-acquire by the same client and region is treated as re-entrant and
// succeeds with the existing token and expiry unchanged.
func (lm *lockManager) acquireWithToken(lockID types.LockID, clientID types.ClientID, regionID types.RegionID, token types.FencingToken, expiresAt int64, acquiredAt int64) types.CommandResult {
	now := lm.clock.NowUnixMilli()

	existing, ok := lm.locks[lockID]
	if ok && !existing.IsExpired(now) {
		if existing.HolderID == clientID && existing.RegionID == regionID {
			return types.CommandResult{
				Status:    types.StatusOK,
				Holder:    existing.HolderID,
				Region:    existing.RegionID,
				Token:     existing.Token,
				ExpiresAt: existing.ExpiresAt,
			}
		}
		return types.CommandResult{
			Status:    types.StatusAlreadyLocked,
			Holder:    existing.HolderID,
			Region:    existing.RegionID,
			Token:     existing.Token,
			ExpiresAt: existing.ExpiresAt,
		}
	}
	if ok {
		lm.metrics.IncExpired()
	}

	lm.locks[lockID] = types.Lock{
		LockID:     lockID,
		HolderID:   clientID,
		RegionID:   regionID,
		Token:      token,
		AcquiredAt: acquiredAt,
		ExpiresAt:  expiresAt,
	}
	lm.metrics.IncAcquired()
	return types.CommandResult{
		Status:    types.StatusOK,
		Holder:    clientID,
		Region:    regionID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
}

// releaseByToken removes a lock entry when the fencing token matches.
// A mismatched token leaves the entry in place.
func (lm *lockManager) releaseByToken(lockID types.LockID, token types.FencingToken) types.CommandResult {
	now := lm.clock.NowUnixMilli()

	existing, ok := lm.locks[lockID]
	if !ok {
		return types.CommandResult{Status: types.StatusNotFound}
	}
	if existing.IsExpired(now) {
		delete(lm.locks, lockID)
		lm.metrics.IncExpired()
		return types.CommandResult{Status: types.StatusNotFound}
	}
	if existing.Token != token {
		return types.CommandResult{
			Status: types.StatusInvalidToken,
			Holder: existing.HolderID,
			Token:  existing.Token,
		}
	}

	delete(lm.locks, lockID)
	lm.metrics.IncReleased()
	return types.CommandResult{Status: types.StatusOK}
}

// extendByToken moves a held lock's expiry when the fencing token matches.
func (lm *lockManager) extendByToken(lockID types.LockID, token types.FencingToken, expiresAt int64) types.CommandResult {
	now := lm.clock.NowUnixMilli()

	existing, ok := lm.locks[lockID]
	if !ok {
		return types.CommandResult{Status: types.StatusNotFound}
	}
	if existing.IsExpired(now) {
		delete(lm.locks, lockID)
		lm.metrics.IncExpired()
		return types.CommandResult{Status: types.StatusNotFound}
	}
	if existing.Token != token {
		return types.CommandResult{
			Status: types.StatusInvalidToken,
			Holder: existing.HolderID,
			Token:  existing.Token,
		}
	}

	existing.ExpiresAt = expiresAt
	lm.locks[lockID] = existing
	lm.metrics.IncExtended()
	return types.CommandResult{
		Status:    types.StatusOK,
		Holder:    existing.HolderID,
		Region:    existing.RegionID,
		Token:     existing.Token,
		ExpiresAt: expiresAt,
	}
}

// Check returns the holder data for a live lock, filtering expired entries.
func (lm *lockManager) Check(lockID types.LockID) types.CommandResult {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	existing, ok := lm.locks[lockID]
	if !ok || existing.IsExpired(lm.clock.NowUnixMilli()) {
		return types.CommandResult{Status: types.StatusNotFound}
	}
	return types.CommandResult{
		Status:    types.StatusOK,
		Holder:    existing.HolderID,
		Region:    existing.RegionID,
		Token:     existing.Token,
		ExpiresAt: existing.ExpiresAt,
	}
}

// GetLock returns the raw entry for a lock, expired or not.
func (lm *lockManager) GetLock(lockID types.LockID) (types.Lock, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	existing, ok := lm.locks[lockID]
	return existing, ok
}

// LastApplied returns the index of the last applied log entry.
func (lm *lockManager) LastApplied() types.Index {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.lastApplied
}

// HeldCount returns the number of entries currently in the table.
func (lm *lockManager) HeldCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.locks)
}

// Clear resets the store. Test-only.
func (lm *lockManager) Clear() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.locks = make(map[types.LockID]types.Lock)
	lm.lastApplied = 0
}
