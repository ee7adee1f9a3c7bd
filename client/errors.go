package client

import "errors"

var (
	// ErrNoEndpoints is returned when the config lists no endpoints.
	ErrNoEndpoints = errors.New("client: at least one endpoint must be provided")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client: client is closed")

	// ErrRetriesExhausted is returned when every attempt failed with a
	// retryable condition.
	ErrRetriesExhausted = errors.New("client: retries exhausted")

	// ErrLockLost is returned by KeepAlive when the lock is no longer held
	// under the caller's token.
	ErrLockLost = errors.New("client: lock no longer held")
)
