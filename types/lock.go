package types

// LockID identifies a lock. Opaque, non-empty.
type LockID string

// ClientID identifies the client holding or requesting a lock.
type ClientID string

// FencingToken is a positive integer issued with every successful
// acquisition of a lock. Tokens are strictly increasing per LockID across
// the lifetime of the manager, so downstream resources can reject writes
// carrying a stale token.
type FencingToken int64

// Lock is the state of one held lock. A lock is either held or absent;
// there is no released tombstone.
type Lock struct {
	LockID     LockID       `json:"lock_id"`
	HolderID   ClientID     `json:"holder_client_id"`
	RegionID   RegionID     `json:"region_id"`
	Token      FencingToken `json:"fencing_token"`
	AcquiredAt int64        `json:"acquired_at"` // Unix milliseconds, leader-assigned
	ExpiresAt  int64        `json:"expires_at"`  // Unix milliseconds, leader-assigned
}

// IsExpired reports whether the lock's lease has passed at nowMillis.
func (l *Lock) IsExpired(nowMillis int64) bool {
	return nowMillis >= l.ExpiresAt
}

// LockStatus is the flat result code carried on every lock operation
// response. There is no exception channel across the RPC boundary.
type LockStatus string

const (
	// StatusOK means the operation completed successfully.
	StatusOK LockStatus = "OK"

	// StatusAlreadyLocked means the lock is held by another client.
	StatusAlreadyLocked LockStatus = "ALREADY_LOCKED"

	// StatusNotFound means the lock is absent or expired.
	StatusNotFound LockStatus = "NOT_FOUND"

	// StatusInvalidToken means the fencing token did not match the holder's.
	StatusInvalidToken LockStatus = "INVALID_TOKEN"

	// StatusExpired means the lock's lease had already passed.
	StatusExpired LockStatus = "EXPIRED"

	// StatusQuorumFailed means a majority of regional leaders could not be
	// reached to confirm the acquisition.
	StatusQuorumFailed LockStatus = "QUORUM_FAILED"

	// StatusNotLeader means the node is not the Raft leader; the response
	// carries a leader hint when one is known.
	StatusNotLeader LockStatus = "NOT_LEADER"

	// StatusTimeout means the proposal was not committed within the deadline.
	StatusTimeout LockStatus = "TIMEOUT"

	// StatusError means the request was invalid or an internal failure occurred.
	StatusError LockStatus = "ERROR"
)

// IsSuccess reports whether the status represents a successful operation.
func (s LockStatus) IsSuccess() bool {
	return s == StatusOK
}

// IsRetryable reports whether a client may safely retry the same request.
// Policy denials are final; leader/routing and transient failures are not.
func (s LockStatus) IsRetryable() bool {
	return s == StatusQuorumFailed || s == StatusTimeout || s == StatusNotLeader
}

// CommandResult is the outcome of applying one committed log entry to the
// lock store. It resolves the proposal handle held by the front-end.
type CommandResult struct {
	Status    LockStatus   `json:"status"`
	Holder    ClientID     `json:"holder,omitempty"`
	Region    RegionID     `json:"region,omitempty"`
	Token     FencingToken `json:"fencing_token,omitempty"`
	ExpiresAt int64        `json:"expires_at,omitempty"`
	Message   string       `json:"message,omitempty"`
}
