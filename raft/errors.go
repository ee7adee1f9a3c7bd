package raft

import "errors"

var (
	// ErrNotLeader is returned when a follower or candidate receives a request
	// that only the current leader is allowed to handle, and when a proposal
	// is overwritten or orphaned by a leadership change.
	ErrNotLeader = errors.New("raft: node is not the leader")

	// ErrShuttingDown is returned when the node is in the process of shutting
	// down and cannot process requests.
	ErrShuttingDown = errors.New("raft: raft node is shutting down")

	// ErrTimeout is returned when an operation fails to complete within the
	// expected time window.
	ErrTimeout = errors.New("raft: operation timed out")

	// ErrPeerNotFound indicates the specified peer ID is not part of the
	// configured group.
	ErrPeerNotFound = errors.New("raft: peer not found")

	// ErrConfigValidation is returned when the provided configuration fails
	// validation checks (invalid timeouts, missing required fields).
	ErrConfigValidation = errors.New("raft: config validation error")

	// ErrMissingDependencies is returned when essential components are missing
	// from the dependencies provided during node initialization.
	ErrMissingDependencies = errors.New("raft: missing required dependencies")

	// ErrNetworkNotSet is returned by Start when no network manager was
	// injected.
	ErrNetworkNotSet = errors.New("raft: network manager must be set before starting")

	// ErrStorageCorrupted is returned when persisted state cannot be decoded.
	ErrStorageCorrupted = errors.New("raft: persisted state corrupted")
)
