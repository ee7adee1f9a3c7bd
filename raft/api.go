package raft

import (
	"context"

	"github.com/gaestalt/lockd/types"
)

// Raft is the application-facing interface of a single-shard consensus node.
//
// It provides lifecycle control, command proposal and state observation.
// Peer-to-peer RPCs arrive through the rpcHandler methods, which the network
// layer dispatches into.
type Raft interface {
	rpcHandler

	// Start launches the node's background tasks: the randomized election
	// timer, the apply loop, and (on the leader) the heartbeat loop.
	// The network manager must be set before Start is called.
	Start() error

	// Stop gracefully shuts down the node. In-flight proposal handles are
	// drained with ErrShuttingDown. Blocks until background tasks exit or
	// the context expires.
	Stop(ctx context.Context) error

	// Propose submits a command for replication. Leader-only.
	//
	// The returned Proposal carries the (term, index) the entry was appended
	// at and a channel that resolves once the entry is applied, or fails with
	// ErrNotLeader if a later leader overwrites it.
	//
	// Errors:
	//   - ErrNotLeader if the node is not leader.
	//   - ErrShuttingDown if the node is shutting down.
	Propose(ctx context.Context, cmd types.Command) (*Proposal, error)

	// GetState returns the current term and whether the node believes it is
	// the leader.
	GetState() (term types.Term, isLeader bool)

	// GetLeaderID returns the NodeID of the known leader, or an empty NodeID
	// if unknown. May be stale during an election.
	GetLeaderID() types.NodeID

	// Status returns a snapshot of the node's consensus state for logging
	// and diagnostics.
	Status() types.RaftStatus

	// SetNetworkManager injects the transport. Must be called before Start.
	SetNetworkManager(nm NetworkManager)
}

// rpcHandler defines how a Raft node processes incoming RPCs from peers.
type rpcHandler interface {
	// RequestVote handles a RequestVote RPC from a candidate. The vote is
	// granted iff the candidate's term is current, no conflicting vote was
	// cast this term, and the candidate's log is at least as up-to-date.
	RequestVote(ctx context.Context, args *types.RequestVoteArgs) (*types.RequestVoteReply, error)

	// AppendEntries handles log replication and heartbeats from the leader.
	// It verifies the term and the log consistency at PrevLogIndex, appends
	// new entries (overwriting any conflicting suffix), and advances the
	// commit index from LeaderCommit.
	AppendEntries(ctx context.Context, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error)
}

// Applier executes committed log entries against the replicated state
// machine. Apply is invoked by a single goroutine in log order; it must be
// deterministic so that every node's state machine converges.
type Applier interface {
	// Apply executes one committed entry and returns the result used to
	// resolve the proposal handle on the leader. Entries at or below the
	// state machine's own last-applied mark must be skipped idempotently.
	Apply(ctx context.Context, entry types.LogEntry) types.CommandResult
}

// NetworkManager is the RPC communication layer between Raft peers.
//
// Peer membership is fixed at construction. Implementations must be safe
// for concurrent use.
type NetworkManager interface {
	// Start activates the transport and begins listening for peer RPCs.
	Start() error

	// Stop shuts down the transport and releases connections.
	Stop() error

	// SendRequestVote sends a RequestVote RPC to a target peer.
	SendRequestVote(ctx context.Context, target types.NodeID, args *types.RequestVoteArgs) (*types.RequestVoteReply, error)

	// SendAppendEntries sends an AppendEntries RPC (replication or heartbeat)
	// to a target peer.
	SendAppendEntries(ctx context.Context, target types.NodeID, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error)

	// LocalAddr returns the local listen address, or "" if unavailable.
	LocalAddr() string
}

// Storage persists Raft durable state: the current term, the vote, and the
// log. Implementations that claim durability must sync writes before
// returning, because the node answers RPCs on the strength of them.
type Storage interface {
	// LoadState returns the persisted term and vote, or a zero state when
	// nothing was stored yet.
	LoadState() (types.PersistentState, error)

	// SaveState durably records the term and vote.
	SaveState(state types.PersistentState) error

	// LoadLog returns all stored entries in index order.
	LoadLog() ([]types.LogEntry, error)

	// AppendLogEntries durably appends entries to the stored log.
	AppendLogEntries(entries []types.LogEntry) error

	// TruncateLogSuffix removes stored entries with index >= from.
	TruncateLogSuffix(from types.Index) error

	// Close releases storage resources.
	Close() error
}

// ProposalResult resolves a proposal handle: the state machine's result for
// the committed entry, or the error that terminated the proposal.
type ProposalResult struct {
	Result types.CommandResult
	Err    error
}

// Proposal is the handle returned by Propose, tied to the (term, index) the
// command was appended at. ResultCh receives exactly one ProposalResult.
type Proposal struct {
	Index    types.Index
	Term     types.Term
	ResultCh <-chan ProposalResult
}
