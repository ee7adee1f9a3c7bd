package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/rpc"
	"github.com/gaestalt/lockd/types"
)

// lockClient is the default Client implementation. It keeps one connection
// per endpoint, prefers the last known leader, and follows NOT_LEADER
// hints.
type lockClient struct {
	cfg       Config
	endpoints []string

	mu            sync.RWMutex
	conns         map[string]*grpc.ClientConn
	currentLeader string

	clock  raft.Clock
	rand   raft.Rand
	closed atomic.Bool
}

// New builds a Client from the given configuration.
func New(cfg Config) (Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.ClientID == "" {
		def := DefaultConfig()
		cfg.ClientID = def.ClientID
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.RetryPolicy.MaxAttempts <= 0 {
		cfg.RetryPolicy = DefaultRetryPolicy()
	}
	return &lockClient{
		cfg:       cfg,
		endpoints: cfg.Endpoints,
		conns:     make(map[string]*grpc.ClientConn),
		clock:     raft.NewStandardClock(),
		rand:      raft.NewStandardRand(),
	}, nil
}

// Acquire requests exclusive ownership of a lock.
func (c *lockClient) Acquire(ctx context.Context, lockID types.LockID, lease time.Duration) (*AcquireResult, error) {
	req := &rpc.AcquireRequest{
		LockID:        lockID,
		ClientID:      c.cfg.ClientID,
		TimeoutMillis: lease.Milliseconds(),
	}
	var result *AcquireResult
	err := c.executeWithRetry(ctx, func(ctx context.Context, svc rpc.LockServiceClient) (types.LockStatus, string, error) {
		resp, err := svc.Acquire(ctx, req)
		if err != nil {
			return "", "", err
		}
		result = &AcquireResult{
			Status:    resp.Status,
			Token:     resp.Token,
			ExpiresAt: resp.ExpiresAt,
			Message:   resp.Message,
		}
		return resp.Status, resp.LeaderHint, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release relinquishes a lock under its fencing token.
func (c *lockClient) Release(ctx context.Context, lockID types.LockID, token types.FencingToken) (types.LockStatus, error) {
	req := &rpc.ReleaseRequest{
		LockID:   lockID,
		ClientID: c.cfg.ClientID,
		Token:    token,
	}
	var status types.LockStatus
	err := c.executeWithRetry(ctx, func(ctx context.Context, svc rpc.LockServiceClient) (types.LockStatus, string, error) {
		resp, err := svc.Release(ctx, req)
		if err != nil {
			return "", "", err
		}
		status = resp.Status
		return resp.Status, resp.LeaderHint, nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Check reports the lock's current holder.
func (c *lockClient) Check(ctx context.Context, lockID types.LockID) (*CheckResult, error) {
	req := &rpc.CheckRequest{LockID: lockID}
	var result *CheckResult
	err := c.executeWithRetry(ctx, func(ctx context.Context, svc rpc.LockServiceClient) (types.LockStatus, string, error) {
		resp, err := svc.Check(ctx, req)
		if err != nil {
			return "", "", err
		}
		result = &CheckResult{
			Status:    resp.Status,
			Holder:    resp.Holder,
			Region:    resp.Region,
			Token:     resp.Token,
			ExpiresAt: resp.ExpiresAt,
			Remaining: time.Duration(resp.RemainingMillis) * time.Millisecond,
		}
		return resp.Status, resp.LeaderHint, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Extend moves a held lock's expiry forward.
func (c *lockClient) Extend(ctx context.Context, lockID types.LockID, token types.FencingToken, lease time.Duration) (*ExtendResult, error) {
	req := &rpc.ExtendRequest{
		LockID:        lockID,
		ClientID:      c.cfg.ClientID,
		Token:         token,
		TimeoutMillis: lease.Milliseconds(),
	}
	var result *ExtendResult
	err := c.executeWithRetry(ctx, func(ctx context.Context, svc rpc.LockServiceClient) (types.LockStatus, string, error) {
		resp, err := svc.Extend(ctx, req)
		if err != nil {
			return "", "", err
		}
		result = &ExtendResult{
			Status:    resp.Status,
			ExpiresAt: resp.ExpiresAt,
			Message:   resp.Message,
		}
		return resp.Status, resp.LeaderHint, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// KeepAlive extends the lock every lease/3 until the context ends, the
// lock is lost, or Extend returns an error.
func (c *lockClient) KeepAlive(ctx context.Context, lockID types.LockID, token types.FencingToken, lease time.Duration) error {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	interval := lease / 3
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			result, err := c.Extend(ctx, lockID, token, lease)
			if err != nil {
				return err
			}
			switch result.Status {
			case types.StatusOK:
			case types.StatusNotFound, types.StatusInvalidToken, types.StatusExpired:
				return fmt.Errorf("%w: %s", ErrLockLost, result.Status)
			default:
				// Other statuses (for example ERROR) do not end the loop;
				// the next tick tries again. Transient statuses never get
				// here: Extend reports exhausted retries as an error.
			}
		}
	}
}

// Close releases all connections.
func (c *lockClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for endpoint, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, endpoint)
	}
	return firstErr
}

// executeWithRetry runs one operation against the best-known node,
// following leader hints and backing off on transient failures. The
// callback returns the in-band status and any leader hint; transport
// errors rotate to the next endpoint.
func (c *lockClient) executeWithRetry(ctx context.Context, fn func(ctx context.Context, svc rpc.LockServiceClient) (types.LockStatus, string, error)) error {
	if c.closed.Load() {
		return ErrClosed
	}

	policy := c.cfg.RetryPolicy
	backoff := policy.InitialBackoff
	endpointCursor := 0

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(c.jitter(backoff)):
			}
			backoff = min(time.Duration(float64(backoff)*policy.Multiplier), policy.MaxBackoff)
		}

		endpoint := c.pickEndpoint(&endpointCursor)
		svc, err := c.service(endpoint)
		if err != nil {
			lastErr = err
			c.clearLeader(endpoint)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		status, hint, err := fn(callCtx, svc)
		cancel()
		if err != nil {
			lastErr = err
			c.clearLeader(endpoint)
			continue
		}

		switch status {
		case types.StatusNotLeader:
			c.clearLeader(endpoint)
			if hint != "" {
				c.setLeader(hint)
			}
			lastErr = fmt.Errorf("redirected away from %s", endpoint)
			continue
		case types.StatusTimeout, types.StatusQuorumFailed:
			lastErr = fmt.Errorf("transient status %s from %s", status, endpoint)
			continue
		default:
			// Final statuses, including policy denials, go to the caller.
			c.setLeader(endpoint)
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// pickEndpoint prefers the known leader, then walks the endpoint list.
func (c *lockClient) pickEndpoint(cursor *int) string {
	c.mu.RLock()
	leader := c.currentLeader
	c.mu.RUnlock()
	if leader != "" {
		return leader
	}
	endpoint := c.endpoints[*cursor%len(c.endpoints)]
	*cursor++
	return endpoint
}

func (c *lockClient) setLeader(endpoint string) {
	c.mu.Lock()
	c.currentLeader = endpoint
	c.mu.Unlock()
}

func (c *lockClient) clearLeader(endpoint string) {
	c.mu.Lock()
	if c.currentLeader == endpoint {
		c.currentLeader = ""
	}
	c.mu.Unlock()
}

// service returns a LockServiceClient for the endpoint, dialing on first
// use.
func (c *lockClient) service(endpoint string) (rpc.LockServiceClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[endpoint]; ok {
		return rpc.NewLockServiceClient(conn), nil
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", endpoint, err)
	}
	c.conns[endpoint] = conn
	return rpc.NewLockServiceClient(conn), nil
}

// jitter spreads a backoff by the configured fraction.
func (c *lockClient) jitter(d time.Duration) time.Duration {
	f := c.cfg.RetryPolicy.JitterFraction
	if f <= 0 {
		return d
	}
	delta := (c.rand.Float64()*2 - 1) * f * float64(d)
	return time.Duration(float64(d) + delta)
}
