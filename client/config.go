package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/gaestalt/lockd/types"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts bounds the total tries per operation, including the
	// first.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; each further
	// retry multiplies it by Multiplier up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// JitterFraction randomizes each backoff by +/- the given fraction to
	// spread retry storms.
	JitterFraction float64
}

// DefaultRetryPolicy returns the standard retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// Config holds client construction parameters.
type Config struct {
	// Endpoints lists the client-facing addresses of the region's nodes.
	// At least one is required; the client discovers the leader from
	// redirects.
	Endpoints []string

	// ClientID identifies this client to the lock service. A random UUID
	// is generated when empty.
	ClientID types.ClientID

	// RequestTimeout bounds each individual RPC.
	RequestTimeout time.Duration

	// RetryPolicy controls transient-failure retries.
	RetryPolicy RetryPolicy
}

// DefaultConfig returns a Config with standard timeouts. Endpoints must
// still be provided.
func DefaultConfig() Config {
	return Config{
		ClientID:       types.ClientID(uuid.NewString()),
		RequestTimeout: 5 * time.Second,
		RetryPolicy:    DefaultRetryPolicy(),
	}
}
