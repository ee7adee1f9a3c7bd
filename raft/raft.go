package raft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaestalt/lockd/logger"
	"github.com/gaestalt/lockd/types"
)

// raftNode implements the Raft consensus protocol for a single group.
//
// A single state mutex serializes mutation of the term, the vote, the log,
// the commit index and role transitions. Election and replication handlers
// acquire it; outbound RPC is always performed outside the lock. The
// randomized election timer, the leader heartbeat loop and the apply loop
// run as independent goroutines driven by the injected Clock.
type raftNode struct {
	id     types.NodeID
	cfg    Config
	quorum int

	mu          sync.RWMutex
	currentTerm types.Term
	votedFor    types.NodeID
	role        types.NodeRole
	leaderID    types.NodeID
	log         *raftLog
	commitIndex types.Index
	lastApplied types.Index
	lastContact time.Time

	// Leader-only volatile state, reinitialized on election.
	nextIndex  map[types.NodeID]types.Index
	matchIndex map[types.NodeID]types.Index

	// pending maps a log index to the proposal handle awaiting its apply
	// result. Handles are failed with ErrNotLeader on step-down.
	pending map[types.Index]*pendingProposal

	// heartbeatStopCh ends the current leadership's heartbeat loop.
	heartbeatStopCh chan struct{}

	applier Applier
	storage Storage
	network NetworkManager
	clock   Clock
	rand    Rand
	logger  logger.Logger
	metrics Metrics

	isShutdown atomic.Bool
	isLeader   atomic.Bool

	stopCh            chan struct{}
	applyNotifyCh     chan struct{}
	replicateNotifyCh chan struct{}
	wg                sync.WaitGroup
}

type pendingProposal struct {
	term types.Term
	ch   chan ProposalResult
}

// NewRaft constructs a Raft node from the given configuration and
// dependencies. The network manager is injected separately via
// SetNetworkManager before Start.
func NewRaft(cfg Config, deps Dependencies) (Raft, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.applyDefaults()

	r := &raftNode{
		id:                cfg.ID,
		cfg:               cfg,
		quorum:            cfg.quorumSize(),
		role:              types.RoleFollower,
		log:               newRaftLog(nil),
		nextIndex:         make(map[types.NodeID]types.Index),
		matchIndex:        make(map[types.NodeID]types.Index),
		pending:           make(map[types.Index]*pendingProposal),
		applier:           deps.Applier,
		storage:           deps.Storage,
		clock:             deps.Clock,
		rand:              deps.Rand,
		logger:            deps.Logger.WithNodeID(cfg.ID).WithComponent("raft"),
		metrics:           deps.Metrics,
		stopCh:            make(chan struct{}),
		applyNotifyCh:     make(chan struct{}, 1),
		replicateNotifyCh: make(chan struct{}, 1),
	}
	return r, nil
}

// SetNetworkManager injects the peer transport. Must be called before Start.
func (r *raftNode) SetNetworkManager(nm NetworkManager) {
	r.network = nm
}

// Start loads persisted state and launches the background loops.
func (r *raftNode) Start() error {
	if r.network == nil {
		return ErrNetworkNotSet
	}
	if r.isShutdown.Load() {
		return ErrShuttingDown
	}

	state, err := r.storage.LoadState()
	if err != nil {
		return fmt.Errorf("load persistent state: %w", err)
	}
	entries, err := r.storage.LoadLog()
	if err != nil {
		return fmt.Errorf("load log: %w", err)
	}

	r.mu.Lock()
	r.currentTerm = state.CurrentTerm
	r.votedFor = state.VotedFor
	r.log = newRaftLog(entries)
	r.lastContact = r.clock.Now()
	r.mu.Unlock()

	if err := r.network.Start(); err != nil {
		return fmt.Errorf("start network manager: %w", err)
	}

	r.wg.Add(2)
	go r.runElectionTimer()
	go r.runApplyLoop()

	r.logger.Infow("Raft node started",
		"term", state.CurrentTerm,
		"log_length", len(entries),
		"group_size", len(r.cfg.Peers))
	r.metrics.IncCounter("raft_node_start_total")
	return nil
}

// Stop shuts the node down, drains in-flight proposal handles and waits for
// the background loops to exit or the context to expire.
func (r *raftNode) Stop(ctx context.Context) error {
	if !r.isShutdown.CompareAndSwap(false, true) {
		return nil
	}
	r.logger.Infow("Stopping Raft node")

	close(r.stopCh)

	r.mu.Lock()
	if r.heartbeatStopCh != nil {
		close(r.heartbeatStopCh)
		r.heartbeatStopCh = nil
	}
	r.failAllPendingLocked(ErrShuttingDown)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
		r.logger.Warnw("Timed out waiting for background loops", "error", waitErr)
	}

	if err := r.network.Stop(); err != nil {
		r.logger.Warnw("Error stopping network manager", "error", err)
	}
	r.metrics.IncCounter("raft_node_stop_total")
	return waitErr
}

// Propose appends a command to the leader's log and returns a handle that
// resolves when the entry is applied.
func (r *raftNode) Propose(ctx context.Context, cmd types.Command) (*Proposal, error) {
	if r.isShutdown.Load() {
		return nil, ErrShuttingDown
	}
	data, err := cmd.Encode()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.role != types.RoleLeader {
		r.mu.Unlock()
		return nil, ErrNotLeader
	}
	term := r.currentTerm
	idx := r.log.LastIndex() + 1
	entry := types.LogEntry{
		Term:    term,
		Index:   idx,
		Type:    cmd.Type,
		Command: data,
	}
	if err := r.appendToLogLocked(entry); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	ch := make(chan ProposalResult, 1)
	r.pending[idx] = &pendingProposal{term: term, ch: ch}

	// A single-node group commits on its own match; larger groups commit
	// via replication replies.
	r.advanceCommitIndexLocked()
	r.mu.Unlock()

	r.triggerReplicate()
	r.metrics.IncCounter("raft_proposals_total", "type", cmd.Type.String())

	return &Proposal{Index: idx, Term: term, ResultCh: ch}, nil
}

// GetState returns the current term and whether this node is the leader.
func (r *raftNode) GetState() (types.Term, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentTerm, r.role == types.RoleLeader
}

// GetLeaderID returns the last known leader, or "" if unknown.
func (r *raftNode) GetLeaderID() types.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaderID
}

// Status returns a snapshot of the node's consensus state.
func (r *raftNode) Status() types.RaftStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return types.RaftStatus{
		ID:          r.id,
		Role:        r.role,
		Term:        r.currentTerm,
		LeaderID:    r.leaderID,
		LastIndex:   r.log.LastIndex(),
		CommitIndex: r.commitIndex,
		LastApplied: r.lastApplied,
	}
}

// appendToLogLocked appends an entry to the in-memory log and the durable
// store. Caller holds the state lock.
func (r *raftNode) appendToLogLocked(entries ...types.LogEntry) error {
	if err := r.storage.AppendLogEntries(entries); err != nil {
		return fmt.Errorf("persist log entries: %w", err)
	}
	r.log.Append(entries...)
	return nil
}

// persistStateLocked durably records the term and vote. Caller holds the
// state lock.
func (r *raftNode) persistStateLocked() error {
	return r.storage.SaveState(types.PersistentState{
		CurrentTerm: r.currentTerm,
		VotedFor:    r.votedFor,
	})
}

// stepDownLocked transitions to follower for the given term, ending any
// leadership and draining in-flight proposals with ErrNotLeader. Caller
// holds the state lock.
func (r *raftNode) stepDownLocked(term types.Term, leader types.NodeID) {
	if term > r.currentTerm {
		r.currentTerm = term
		r.votedFor = ""
	}
	wasLeader := r.role == types.RoleLeader
	r.role = types.RoleFollower
	r.leaderID = leader
	r.isLeader.Store(false)

	if wasLeader {
		if r.heartbeatStopCh != nil {
			close(r.heartbeatStopCh)
			r.heartbeatStopCh = nil
		}
		r.failAllPendingLocked(ErrNotLeader)
		r.logger.Infow("Stepped down from leadership", "term", r.currentTerm, "new_leader", leader)
	}

	if err := r.persistStateLocked(); err != nil {
		r.logger.Errorw("Failed to persist state on step-down", "error", err)
	}
	r.metrics.SetGauge("raft_term", float64(r.currentTerm))
}

// failAllPendingLocked resolves every in-flight proposal handle with err.
func (r *raftNode) failAllPendingLocked(err error) {
	for idx, p := range r.pending {
		p.resolve(ProposalResult{Err: err})
		delete(r.pending, idx)
	}
}

// failPendingFromLocked resolves handles at index >= from with ErrNotLeader.
// Used when a conflicting suffix is truncated.
func (r *raftNode) failPendingFromLocked(from types.Index) {
	for idx, p := range r.pending {
		if idx >= from {
			p.resolve(ProposalResult{Err: ErrNotLeader})
			delete(r.pending, idx)
		}
	}
}

func (p *pendingProposal) resolve(res ProposalResult) {
	select {
	case p.ch <- res:
	default:
	}
}

// triggerReplicate nudges the leader's replication loop without blocking.
func (r *raftNode) triggerReplicate() {
	select {
	case r.replicateNotifyCh <- struct{}{}:
	default:
	}
}

// notifyApply nudges the apply loop without blocking.
func (r *raftNode) notifyApply() {
	select {
	case r.applyNotifyCh <- struct{}{}:
	default:
	}
}
