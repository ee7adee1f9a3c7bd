package server

import (
	"sync"

	"github.com/gaestalt/lockd/types"
)

// tokenAllocator pre-assigns fencing tokens on the leader. The next token
// for a lock is max(store token, last issued)+1, so tokens stay strictly
// increasing across re-acquisitions of a released lock and across proposals
// serialized by Raft, even when several race for the same lock.
type tokenAllocator struct {
	mu         sync.Mutex
	lastIssued map[types.LockID]types.FencingToken
}

func newTokenAllocator() *tokenAllocator {
	return &tokenAllocator{lastIssued: make(map[types.LockID]types.FencingToken)}
}

// next returns a fresh token for the lock, strictly greater than both the
// store's current token and any token this allocator issued before.
func (a *tokenAllocator) next(lockID types.LockID, current types.FencingToken) types.FencingToken {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := current
	if issued := a.lastIssued[lockID]; issued > next {
		next = issued
	}
	next++
	a.lastIssued[lockID] = next
	return next
}

// observe records a token seen in the store, keeping the allocator monotone
// after leadership moves to this node.
func (a *tokenAllocator) observe(lockID types.LockID, token types.FencingToken) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if token > a.lastIssued[lockID] {
		a.lastIssued[lockID] = token
	}
}
