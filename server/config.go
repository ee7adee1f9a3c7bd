package server

import (
	"fmt"
	"time"

	"github.com/gaestalt/lockd/types"
)

const (
	// DefaultLockTimeout is the lease applied when a request carries no
	// timeout (or a non-positive one).
	DefaultLockTimeout = 30 * time.Second

	// DefaultMinLockTimeout is the clamp floor for requested leases.
	DefaultMinLockTimeout = 1 * time.Second

	// DefaultMaxLockTimeout is the clamp ceiling for requested leases.
	DefaultMaxLockTimeout = 300 * time.Second

	// DefaultProposalTimeout bounds the wait for a proposal to commit
	// before the front-end answers TIMEOUT.
	DefaultProposalTimeout = 5 * time.Second

	// DefaultRegionRPCTimeout bounds each cross-region call.
	DefaultRegionRPCTimeout = 2 * time.Second

	// DefaultMaxIDLength caps lock and client identifiers.
	DefaultMaxIDLength = 256
)

// Config holds the front-end parameters of one lock service node.
type Config struct {
	// NodeID is this node's identifier; it must match the Raft config.
	NodeID types.NodeID

	// RegionID names this region in the cross-region protocol.
	RegionID types.RegionID

	// ListenAddr is the client-facing gRPC address. The inter-region
	// service is served on the same listener.
	ListenAddr string

	// ClientAddrs maps every group member to its client-facing address,
	// used to build leader hints on NOT_LEADER responses.
	ClientAddrs map[types.NodeID]string

	// RegionPeers maps other regions' leaders to their addresses. Empty
	// means single-region operation and disables the quorum exchange.
	RegionPeers map[types.RegionID]string

	// DefaultLockTimeout, MinLockTimeout and MaxLockTimeout control lease
	// normalization: non-positive requests take the default, the rest are
	// clamped into [min, max].
	DefaultLockTimeout time.Duration
	MinLockTimeout     time.Duration
	MaxLockTimeout     time.Duration

	// ProposalTimeout bounds the wait for commit before answering TIMEOUT.
	ProposalTimeout time.Duration

	// RegionRPCTimeout bounds each cross-region RPC.
	RegionRPCTimeout time.Duration

	// MaxIDLength caps lock_id and client_id lengths.
	MaxIDLength int

	// RateLimit is the per-node request budget in requests per second;
	// zero disables limiting. RateBurst is the token bucket size.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns a Config with standard limits. NodeID, RegionID and
// ListenAddr must still be filled in.
func DefaultConfig() Config {
	return Config{
		RegionID:           "default",
		DefaultLockTimeout: DefaultLockTimeout,
		MinLockTimeout:     DefaultMinLockTimeout,
		MaxLockTimeout:     DefaultMaxLockTimeout,
		ProposalTimeout:    DefaultProposalTimeout,
		RegionRPCTimeout:   DefaultRegionRPCTimeout,
		MaxIDLength:        DefaultMaxIDLength,
	}
}

// Validate checks the configuration and normalizes derived defaults.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("server: node id is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("server: listen address is required")
	}
	if c.RegionID == "" {
		c.RegionID = "default"
	}
	if c.DefaultLockTimeout <= 0 {
		c.DefaultLockTimeout = DefaultLockTimeout
	}
	if c.MinLockTimeout <= 0 {
		c.MinLockTimeout = DefaultMinLockTimeout
	}
	if c.MaxLockTimeout <= 0 {
		c.MaxLockTimeout = DefaultMaxLockTimeout
	}
	if c.MinLockTimeout > c.MaxLockTimeout {
		return fmt.Errorf("server: min lock timeout %v exceeds max %v", c.MinLockTimeout, c.MaxLockTimeout)
	}
	if c.ProposalTimeout <= 0 {
		c.ProposalTimeout = DefaultProposalTimeout
	}
	if c.RegionRPCTimeout <= 0 {
		c.RegionRPCTimeout = DefaultRegionRPCTimeout
	}
	if c.MaxIDLength <= 0 {
		c.MaxIDLength = DefaultMaxIDLength
	}
	return nil
}

// normalizeTimeout validates and clamps a requested lease duration in
// milliseconds: non-positive requests take the default, others are clamped
// into [MinLockTimeout, MaxLockTimeout].
func (c *Config) normalizeTimeout(requestedMillis int64) time.Duration {
	if requestedMillis <= 0 {
		return c.DefaultLockTimeout
	}
	requested := time.Duration(requestedMillis) * time.Millisecond
	if requested < c.MinLockTimeout {
		return c.MinLockTimeout
	}
	if requested > c.MaxLockTimeout {
		return c.MaxLockTimeout
	}
	return requested
}
