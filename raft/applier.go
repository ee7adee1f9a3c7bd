package raft

import (
	"context"

	"github.com/gaestalt/lockd/types"
)

// runApplyLoop delivers committed entries to the state machine in log
// order. It is the only goroutine that calls the applier, which keeps
// application single-threaded relative to the lock store.
func (r *raftNode) runApplyLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.applyNotifyCh:
			r.applyCommitted()
		}
	}
}

// applyCommitted applies every entry in (lastApplied, commitIndex] and
// resolves the proposal handles waiting on them.
func (r *raftNode) applyCommitted() {
	for {
		r.mu.Lock()
		if r.lastApplied >= r.commitIndex {
			r.mu.Unlock()
			return
		}
		idx := r.lastApplied + 1
		entry, ok := r.log.EntryAt(idx)
		if !ok {
			// Commit index ran ahead of the log; nothing more to do until
			// replication catches up.
			r.mu.Unlock()
			return
		}
		p := r.pending[idx]
		delete(r.pending, idx)
		r.mu.Unlock()

		result := r.applier.Apply(context.Background(), entry)

		r.mu.Lock()
		if idx == r.lastApplied+1 {
			r.lastApplied = idx
		}
		r.mu.Unlock()
		r.metrics.IncCounter("raft_entries_applied_total", "type", entry.Type.String())
		r.metrics.SetGauge("raft_last_applied", float64(idx))

		if p != nil {
			if p.term == entry.Term {
				p.resolve(ProposalResult{Result: result})
			} else {
				// The entry at this index was overwritten by a later
				// leader; the original proposal did not commit.
				p.resolve(ProposalResult{Err: ErrNotLeader})
			}
		}
	}
}
