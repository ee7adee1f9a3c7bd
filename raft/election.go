package raft

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gaestalt/lockd/types"
)

// runElectionTimer drives elections. Each cycle picks a fresh random
// timeout in [E, 2E]; when it fires without recent leader contact and the
// node is not itself the leader, a new election starts.
func (r *raftNode) runElectionTimer() {
	defer r.wg.Done()
	for {
		timeout := r.randomElectionTimeout()
		timer := r.clock.NewTimer(timeout)
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.Chan():
			r.maybeStartElection(timeout)
		}
	}
}

// randomElectionTimeout returns a duration in [E, 2E].
func (r *raftNode) randomElectionTimeout() time.Duration {
	base := r.cfg.ElectionTimeout
	return base + time.Duration(r.rand.IntN(int(base)))
}

// maybeStartElection transitions to candidate and solicits votes, unless
// the node is the leader or has heard from one within the timeout.
func (r *raftNode) maybeStartElection(timeout time.Duration) {
	r.mu.Lock()
	if r.role == types.RoleLeader {
		r.mu.Unlock()
		return
	}
	if r.clock.Since(r.lastContact) < timeout {
		r.mu.Unlock()
		return
	}
	if !r.role.CanTransitionTo(types.RoleCandidate) {
		r.mu.Unlock()
		return
	}

	r.currentTerm++
	r.role = types.RoleCandidate
	r.votedFor = r.id
	r.leaderID = ""
	term := r.currentTerm

	if err := r.persistStateLocked(); err != nil {
		r.logger.Errorw("Failed to persist candidate state, aborting election",
			"term", term, "error", err)
		r.role = types.RoleFollower
		r.mu.Unlock()
		return
	}

	lastIndex := r.log.LastIndex()
	lastTerm := r.log.LastTerm()
	r.mu.Unlock()

	r.logger.Infow("Election started", "term", term)
	r.metrics.IncCounter("raft_elections_started_total")
	r.metrics.SetGauge("raft_term", float64(term))

	args := &types.RequestVoteArgs{
		Term:         term,
		CandidateID:  r.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	// One vote from self; the rest are solicited concurrently. The first
	// goroutine to push the count to quorum promotes the node.
	votes := int64(1)
	if int(votes) >= r.quorum {
		r.becomeLeader(term)
		return
	}
	for _, peer := range r.cfg.peerIDs() {
		go r.solicitVote(peer, term, args, &votes)
	}
}

// solicitVote requests one peer's vote for the given election term.
func (r *raftNode) solicitVote(peer types.NodeID, term types.Term, args *types.RequestVoteArgs, votes *int64) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RPCTimeout)
	defer cancel()

	reply, err := r.network.SendRequestVote(ctx, peer, args)
	if err != nil {
		r.logger.Debugw("RequestVote failed", "peer", peer, "term", term, "error", err)
		return
	}

	if reply.Term > term {
		r.mu.Lock()
		if reply.Term > r.currentTerm {
			r.stepDownLocked(reply.Term, "")
		}
		r.mu.Unlock()
		return
	}
	if !reply.VoteGranted {
		return
	}

	if int(atomic.AddInt64(votes, 1)) == r.quorum {
		r.becomeLeader(term)
	}
}

// becomeLeader promotes the node if it is still the candidate of the given
// term, appends the NOOP entry that makes prior-term entries committable,
// and starts the heartbeat loop.
func (r *raftNode) becomeLeader(term types.Term) {
	if r.isShutdown.Load() {
		return
	}
	r.mu.Lock()
	if r.role != types.RoleCandidate || r.currentTerm != term {
		r.mu.Unlock()
		return
	}

	r.role = types.RoleLeader
	r.leaderID = r.id
	r.isLeader.Store(true)

	last := r.log.LastIndex()
	for _, peer := range r.cfg.peerIDs() {
		r.nextIndex[peer] = last + 1
		r.matchIndex[peer] = 0
	}

	noop := types.LogEntry{
		Term:  term,
		Index: last + 1,
		Type:  types.EntryNoop,
	}
	if err := r.appendToLogLocked(noop); err != nil {
		r.logger.Errorw("Failed to append NOOP on election, stepping down",
			"term", term, "error", err)
		r.stepDownLocked(term, "")
		r.mu.Unlock()
		return
	}
	r.advanceCommitIndexLocked()

	hbStop := make(chan struct{})
	r.heartbeatStopCh = hbStop
	r.mu.Unlock()

	r.logger.Infow("Became leader", "term", term, "noop_index", noop.Index)
	r.metrics.IncCounter("raft_elections_won_total")

	r.wg.Add(1)
	go r.runHeartbeatLoop(term, hbStop)
}

// RequestVote handles a vote solicitation from a candidate.
func (r *raftNode) RequestVote(ctx context.Context, args *types.RequestVoteArgs) (*types.RequestVoteReply, error) {
	if r.isShutdown.Load() {
		return nil, ErrShuttingDown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reply := &types.RequestVoteReply{Term: r.currentTerm}
	if args.Term < r.currentTerm {
		return reply, nil
	}
	if args.Term > r.currentTerm {
		r.stepDownLocked(args.Term, "")
		reply.Term = r.currentTerm
	}

	// A candidate's log must be at least as up-to-date as ours: a higher
	// last term wins outright, an equal last term needs at least our length.
	lastIndex := r.log.LastIndex()
	lastTerm := r.log.LastTerm()
	upToDate := args.LastLogTerm > lastTerm ||
		(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)

	if (r.votedFor == "" || r.votedFor == args.CandidateID) && upToDate {
		r.votedFor = args.CandidateID
		if err := r.persistStateLocked(); err != nil {
			r.logger.Errorw("Failed to persist vote", "candidate", args.CandidateID, "error", err)
			r.votedFor = ""
			return reply, nil
		}
		r.lastContact = r.clock.Now()
		reply.VoteGranted = true
		r.logger.Debugw("Vote granted", "candidate", args.CandidateID, "term", args.Term)
	}
	return reply, nil
}
