package types

// NodeID uniquely identifies a Raft node within a region.
// It should be globally unique and remain stable across restarts.
type NodeID string

// RegionID names a deployment region in the cross-region protocol.
type RegionID string

// Term represents a Raft term, which is a monotonically increasing number
// used to determine leadership and maintain log consistency across nodes.
type Term uint64

// Index represents a position in the Raft log.
// Log indices start at 1 and increase with each appended entry.
type Index uint64

// NodeRole represents the possible roles of a Raft node.
type NodeRole int

const (
	// RoleFollower is the default role of a Raft node when it starts up.
	// Followers only respond to requests from other nodes; if the election
	// timer fires without hearing from a leader, the node becomes a candidate.
	RoleFollower NodeRole = iota

	// RoleCandidate is the role a node enters when its election timer fires.
	// A candidate increments its term, votes for itself and solicits votes;
	// a majority makes it leader, a valid AppendEntries demotes it.
	RoleCandidate

	// RoleLeader is the role a node enters after winning an election.
	// A leader appends a NOOP entry, sends periodic heartbeats and handles
	// client proposals. A higher term observed anywhere demotes it.
	RoleLeader
)

// String returns a human-readable role name.
func (r NodeRole) String() string {
	switch r {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// CanTransitionTo reports whether the role change is legal under Raft rules.
func (r NodeRole) CanTransitionTo(target NodeRole) bool {
	switch target {
	case RoleFollower:
		return true
	case RoleCandidate:
		return r == RoleFollower || r == RoleCandidate
	case RoleLeader:
		return r == RoleCandidate
	default:
		return false
	}
}

// LogEntry is a single replicated log record. Once committed it is immutable;
// an uncommitted suffix may be overwritten by a later leader.
type LogEntry struct {
	Term    Term      `json:"term"`
	Index   Index     `json:"index"`
	Type    EntryType `json:"type"`
	Command []byte    `json:"command,omitempty"` // Encoded Command, empty for NOOP
}

// EntryType tags the payload variant carried by a log entry.
type EntryType int

const (
	// EntryNoop carries no command. Leaders append one on election so that
	// entries from earlier terms become committable.
	EntryNoop EntryType = iota

	// EntryAcquire acquires a lock with a pre-assigned fencing token.
	EntryAcquire

	// EntryRelease releases a lock if the fencing token matches.
	EntryRelease

	// EntryExtend moves a held lock's expiry if the fencing token matches.
	EntryExtend
)

// String returns the wire-stable name of the entry type.
func (t EntryType) String() string {
	switch t {
	case EntryNoop:
		return "NOOP"
	case EntryAcquire:
		return "ACQUIRE"
	case EntryRelease:
		return "RELEASE"
	case EntryExtend:
		return "EXTEND"
	default:
		return "UNKNOWN"
	}
}

// PersistentState is the state that must be saved to stable storage
// before responding to RPCs.
type PersistentState struct {
	// The latest term the node has seen. Starts at 0, increases monotonically.
	CurrentTerm Term `json:"current_term"`
	// The candidate the node voted for in the current term. Empty if none.
	VotedFor NodeID `json:"voted_for"`
}

// RequestVoteArgs encapsulates the arguments for the RequestVote RPC.
type RequestVoteArgs struct {
	Term         Term   `json:"term"`           // Candidate's term
	CandidateID  NodeID `json:"candidate_id"`   // Candidate requesting the vote
	LastLogIndex Index  `json:"last_log_index"` // Index of candidate's last log entry
	LastLogTerm  Term   `json:"last_log_term"`  // Term of candidate's last log entry
}

// RequestVoteReply encapsulates the reply for the RequestVote RPC.
type RequestVoteReply struct {
	Term        Term `json:"term"`         // Current term, for candidate to update itself
	VoteGranted bool `json:"vote_granted"` // True means candidate received the vote
}

// AppendEntriesArgs encapsulates the arguments for the AppendEntries RPC.
// Also functions as a heartbeat when Entries is empty.
type AppendEntriesArgs struct {
	Term         Term       `json:"term"`           // Leader's term
	LeaderID     NodeID     `json:"leader_id"`      // So followers can redirect clients
	PrevLogIndex Index      `json:"prev_log_index"` // Index of entry immediately preceding new ones
	PrevLogTerm  Term       `json:"prev_log_term"`  // Term of the PrevLogIndex entry
	Entries      []LogEntry `json:"entries,omitempty"`
	LeaderCommit Index      `json:"leader_commit"` // Leader's commit index
}

// AppendEntriesReply encapsulates the reply for the AppendEntries RPC.
type AppendEntriesReply struct {
	Term    Term `json:"term"`    // Current term, for leader to update itself
	Success bool `json:"success"` // True if follower contained the matching entry

	// ConflictIndex and ConflictTerm let the leader skip over a whole
	// conflicting term instead of decrementing nextIndex one step at a time.
	ConflictIndex Index `json:"conflict_index,omitempty"`
	ConflictTerm  Term  `json:"conflict_term,omitempty"`
}

// RaftStatus is a point-in-time snapshot of a node's consensus state,
// used for logging and the admin /status endpoint.
type RaftStatus struct {
	ID          NodeID   `json:"id"`
	Role        NodeRole `json:"role"`
	Term        Term     `json:"term"`
	LeaderID    NodeID   `json:"leader_id"`
	LastIndex   Index    `json:"last_index"`
	CommitIndex Index    `json:"commit_index"`
	LastApplied Index    `json:"last_applied"`
}
