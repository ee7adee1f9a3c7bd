package raft

import (
	"context"
	"sort"

	"github.com/gaestalt/lockd/types"
)

// runHeartbeatLoop replicates the leader's log to every peer at the
// heartbeat interval, and immediately whenever a proposal arrives. One
// loop exists per leadership; stepping down ends it via stopCh.
func (r *raftNode) runHeartbeatLoop(term types.Term, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	r.broadcastAppendEntries(term)
	for {
		select {
		case <-stopCh:
			return
		case <-r.stopCh:
			return
		case <-r.replicateNotifyCh:
			r.broadcastAppendEntries(term)
		case <-ticker.Chan():
			r.broadcastAppendEntries(term)
		}
	}
}

// broadcastAppendEntries replicates to all peers in parallel.
func (r *raftNode) broadcastAppendEntries(term types.Term) {
	for _, peer := range r.cfg.peerIDs() {
		go r.replicateToPeer(peer, term)
	}
}

// replicateToPeer sends one AppendEntries RPC to a peer, carrying the
// suffix of the log the peer is missing (or nothing, as a heartbeat), and
// folds the reply back into nextIndex/matchIndex and the commit index.
func (r *raftNode) replicateToPeer(peer types.NodeID, term types.Term) {
	r.mu.Lock()
	if r.role != types.RoleLeader || r.currentTerm != term {
		r.mu.Unlock()
		return
	}
	ni := r.nextIndex[peer]
	if ni == 0 {
		ni = 1
	}
	prevIndex := ni - 1
	prevTerm, ok := r.log.TermAt(prevIndex)
	if !ok {
		// The peer's nextIndex points past our log; resync from the tail.
		r.nextIndex[peer] = r.log.LastIndex() + 1
		r.mu.Unlock()
		return
	}
	hi := ni + types.Index(r.cfg.MaxEntriesPerRequest)
	entries := r.log.Slice(ni, hi)
	args := &types.AppendEntriesArgs{
		Term:         term,
		LeaderID:     r.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: r.commitIndex,
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RPCTimeout)
	defer cancel()

	reply, err := r.network.SendAppendEntries(ctx, peer, args)
	if err != nil {
		r.logger.Debugw("AppendEntries failed", "peer", peer, "error", err)
		r.metrics.IncCounter("raft_replication_failures_total", "peer", string(peer))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.role != types.RoleLeader || r.currentTerm != term {
		return
	}
	if reply.Term > r.currentTerm {
		r.stepDownLocked(reply.Term, "")
		return
	}

	if reply.Success {
		match := args.PrevLogIndex + types.Index(len(args.Entries))
		if match > r.matchIndex[peer] {
			r.matchIndex[peer] = match
		}
		r.nextIndex[peer] = match + 1
		r.advanceCommitIndexLocked()
		return
	}

	// Rejected: back up nextIndex using the follower's conflict hints, or
	// one step when no hint was offered, then retry immediately.
	switch {
	case reply.ConflictTerm > 0:
		if last := r.log.LastIndexOfTerm(reply.ConflictTerm); last > 0 {
			r.nextIndex[peer] = last + 1
		} else if reply.ConflictIndex > 0 {
			r.nextIndex[peer] = reply.ConflictIndex
		} else {
			r.nextIndex[peer] = max(1, ni-1)
		}
	case reply.ConflictIndex > 0:
		r.nextIndex[peer] = reply.ConflictIndex
	default:
		r.nextIndex[peer] = max(1, ni-1)
	}
	r.triggerReplicate()
}

// advanceCommitIndexLocked advances the commit index to the highest index
// replicated on a quorum, counting only entries from the current term. A
// prior-term entry commits only as a side effect of a later current-term
// commit; the NOOP appended on election guarantees one exists. Caller
// holds the state lock.
func (r *raftNode) advanceCommitIndexLocked() {
	if r.role != types.RoleLeader {
		return
	}

	matches := make([]types.Index, 0, len(r.cfg.Peers))
	matches = append(matches, r.log.LastIndex())
	for _, peer := range r.cfg.peerIDs() {
		matches = append(matches, r.matchIndex[peer])
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	candidate := matches[r.quorum-1]

	if candidate <= r.commitIndex {
		return
	}
	term, ok := r.log.TermAt(candidate)
	if !ok || term != r.currentTerm {
		return
	}

	r.commitIndex = candidate
	r.metrics.SetGauge("raft_commit_index", float64(candidate))
	r.notifyApply()
}

// AppendEntries handles replication and heartbeats from the leader.
func (r *raftNode) AppendEntries(ctx context.Context, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error) {
	if r.isShutdown.Load() {
		return nil, ErrShuttingDown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reply := &types.AppendEntriesReply{Term: r.currentTerm}
	if args.Term < r.currentTerm {
		return reply, nil
	}

	// A valid AppendEntries for our term or later establishes the sender as
	// leader: candidates and stale leaders fall back to follower.
	if args.Term > r.currentTerm || r.role != types.RoleFollower {
		r.stepDownLocked(args.Term, args.LeaderID)
	}
	r.leaderID = args.LeaderID
	r.lastContact = r.clock.Now()
	reply.Term = r.currentTerm

	// Consistency check: our log must contain an entry matching
	// (PrevLogIndex, PrevLogTerm).
	if args.PrevLogIndex > r.log.LastIndex() {
		reply.ConflictIndex = r.log.LastIndex() + 1
		return reply, nil
	}
	if prevTerm, _ := r.log.TermAt(args.PrevLogIndex); prevTerm != args.PrevLogTerm {
		reply.ConflictTerm = prevTerm
		if first := r.log.FirstIndexOfTerm(prevTerm); first > 0 {
			reply.ConflictIndex = first
		} else {
			reply.ConflictIndex = args.PrevLogIndex
		}
		return reply, nil
	}

	// Append new entries, overwriting any conflicting suffix. Entries the
	// log already holds with matching terms are skipped.
	for i, e := range args.Entries {
		existingTerm, exists := r.log.TermAt(e.Index)
		if exists && existingTerm == e.Term {
			continue
		}
		if exists {
			r.failPendingFromLocked(e.Index)
			if err := r.storage.TruncateLogSuffix(e.Index); err != nil {
				r.logger.Errorw("Failed to truncate stored log", "from", e.Index, "error", err)
				return reply, nil
			}
			r.log.TruncateSuffix(e.Index)
		}
		if err := r.appendToLogLocked(args.Entries[i:]...); err != nil {
			r.logger.Errorw("Failed to append entries", "error", err)
			return reply, nil
		}
		break
	}

	if args.LeaderCommit > r.commitIndex {
		r.commitIndex = min(args.LeaderCommit, r.log.LastIndex())
		r.notifyApply()
	}

	reply.Success = true
	return reply, nil
}
