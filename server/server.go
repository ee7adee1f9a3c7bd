package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/gaestalt/lockd/lock"
	"github.com/gaestalt/lockd/logger"
	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/rpc"
	"github.com/gaestalt/lockd/types"
)

// LockServer is the client-facing front-end of one node. It validates
// requests, pre-assigns fencing tokens, proposes commands to Raft,
// redirects to the leader when it is not one, and coordinates the
// cross-region quorum exchange.
type LockServer struct {
	cfg       Config
	raft      raft.Raft
	locks     lock.LockManager
	validator *requestValidator
	limiter   *requestLimiter
	tokens    *tokenAllocator
	regions   *regionCoordinator

	clock   raft.Clock
	logger  logger.Logger
	metrics Metrics

	grpcServer *grpc.Server
	listener   net.Listener
	isShutdown atomic.Bool
}

// Dependencies bundles the injectable collaborators of a LockServer.
// Raft and Locks are required.
type Dependencies struct {
	Raft    raft.Raft
	Locks   lock.LockManager
	Clock   raft.Clock
	Logger  logger.Logger
	Metrics Metrics
}

// NewLockServer constructs the front-end. The cross-region coordinator is
// created iff the config names peer regions.
func NewLockServer(cfg Config, deps Dependencies) (*LockServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Raft == nil || deps.Locks == nil {
		return nil, fmt.Errorf("server: raft and lock manager are required")
	}
	if deps.Clock == nil {
		deps.Clock = raft.NewStandardClock()
	}
	if deps.Logger == nil {
		deps.Logger = &logger.NoOpLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = &NoOpMetrics{}
	}

	s := &LockServer{
		cfg:       cfg,
		raft:      deps.Raft,
		locks:     deps.Locks,
		validator: newRequestValidator(cfg.MaxIDLength),
		limiter:   newRequestLimiter(cfg.RateLimit, cfg.RateBurst),
		tokens:    newTokenAllocator(),
		clock:     deps.Clock,
		logger:    deps.Logger.WithNodeID(cfg.NodeID).WithRegion(cfg.RegionID).WithComponent("server"),
		metrics:   deps.Metrics,
	}
	if len(cfg.RegionPeers) > 0 {
		s.regions = newRegionCoordinator(cfg, deps.Locks, deps.Clock, s.logger, deps.Metrics)
	}
	return s, nil
}

// Start begins serving the lock and inter-region services.
func (s *LockServer) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer()
	rpc.RegisterLockServiceServer(s.grpcServer, s)
	if s.regions != nil {
		rpc.RegisterRegionServer(s.grpcServer, s.regions)
	}

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !s.isShutdown.Load() {
			s.logger.Errorw("Lock service stopped unexpectedly", "error", err)
		}
	}()

	s.logger.Infow("Lock service listening", "addr", s.cfg.ListenAddr)
	return nil
}

// Stop shuts the front-end down.
func (s *LockServer) Stop(ctx context.Context) error {
	if !s.isShutdown.CompareAndSwap(false, true) {
		return nil
	}
	if s.regions != nil {
		s.regions.close()
	}
	if s.grpcServer != nil {
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	s.logger.Infow("Lock service stopped")
	return nil
}

// Acquire grants exclusive ownership of a lock with a fresh fencing token.
func (s *LockServer) Acquire(ctx context.Context, req *rpc.AcquireRequest) (*rpc.AcquireResponse, error) {
	if !s.limiter.Allow() {
		s.metrics.IncRateLimited()
		return &rpc.AcquireResponse{Status: types.StatusError, Message: "rate limit exceeded"}, nil
	}
	if err := s.validator.validateAcquire(req); err != nil {
		s.metrics.IncRequest("acquire", string(types.StatusError))
		return &rpc.AcquireResponse{Status: types.StatusError, Message: err.Error()}, nil
	}
	if _, isLeader := s.raft.GetState(); !isLeader {
		s.metrics.IncRequest("acquire", string(types.StatusNotLeader))
		return &rpc.AcquireResponse{Status: types.StatusNotLeader, LeaderHint: s.leaderHint()}, nil
	}

	// An advisory entry recorded for another region's committed acquisition
	// blocks the lock here until it expires.
	if s.regions != nil {
		if adv, ok := s.regions.advisoryHolder(req.LockID); ok &&
			!(adv.holder == req.ClientID && adv.region == s.cfg.RegionID) {
			s.metrics.IncRequest("acquire", string(types.StatusAlreadyLocked))
			return &rpc.AcquireResponse{
				Status:  types.StatusAlreadyLocked,
				Message: fmt.Sprintf("held by %s in region %s", adv.holder, adv.region),
			}, nil
		}
	}

	ttl := s.cfg.normalizeTimeout(req.TimeoutMillis)
	now := s.clock.NowUnixMilli()
	expiresAt := now + ttl.Milliseconds()

	var current types.FencingToken
	if existing, ok := s.locks.GetLock(req.LockID); ok {
		current = existing.Token
		s.tokens.observe(req.LockID, existing.Token)
	}
	token := s.tokens.next(req.LockID, current)

	cmd := types.NewAcquireCommand(req.LockID, req.ClientID, s.cfg.RegionID, token, now, expiresAt)
	result, status := s.propose(ctx, cmd)
	if status != types.StatusOK {
		s.metrics.IncRequest("acquire", string(status))
		return &rpc.AcquireResponse{Status: status, LeaderHint: s.hintIfNotLeader(status)}, nil
	}
	if result.Status != types.StatusOK {
		s.metrics.IncRequest("acquire", string(result.Status))
		return &rpc.AcquireResponse{
			Status:  result.Status,
			Message: result.Message,
		}, nil
	}

	// The committed result carries the authoritative token and expiry: a
	// re-entrant acquire keeps the holder's existing ones.
	grantedToken := result.Token
	grantedExpiry := result.ExpiresAt

	if s.regions != nil {
		if !s.regions.proposeAcquire(ctx, req.LockID, req.ClientID, grantedToken, grantedExpiry) {
			s.compensateAcquire(req.LockID, grantedToken)
			s.metrics.IncRequest("acquire", string(types.StatusQuorumFailed))
			return &rpc.AcquireResponse{
				Status:  types.StatusQuorumFailed,
				Message: "cross-region quorum not reached",
			}, nil
		}
	}

	s.metrics.IncRequest("acquire", string(types.StatusOK))
	return &rpc.AcquireResponse{
		Status:    types.StatusOK,
		Token:     grantedToken,
		ExpiresAt: grantedExpiry,
	}, nil
}

// Release relinquishes a lock when the caller's fencing token matches.
func (s *LockServer) Release(ctx context.Context, req *rpc.ReleaseRequest) (*rpc.ReleaseResponse, error) {
	if !s.limiter.Allow() {
		s.metrics.IncRateLimited()
		return &rpc.ReleaseResponse{Status: types.StatusError, Message: "rate limit exceeded"}, nil
	}
	if err := s.validator.validateRelease(req); err != nil {
		s.metrics.IncRequest("release", string(types.StatusError))
		return &rpc.ReleaseResponse{Status: types.StatusError, Message: err.Error()}, nil
	}
	if _, isLeader := s.raft.GetState(); !isLeader {
		s.metrics.IncRequest("release", string(types.StatusNotLeader))
		return &rpc.ReleaseResponse{Status: types.StatusNotLeader, LeaderHint: s.leaderHint()}, nil
	}

	cmd := types.NewReleaseCommand(req.LockID, req.Token)
	result, status := s.propose(ctx, cmd)
	if status != types.StatusOK {
		s.metrics.IncRequest("release", string(status))
		return &rpc.ReleaseResponse{Status: status, LeaderHint: s.hintIfNotLeader(status)}, nil
	}

	// The lock is already freed locally; peers only need to drop their
	// advisory entries, and a lost message merely delays that until expiry.
	if result.Status == types.StatusOK && s.regions != nil {
		s.regions.announceRelease(req.LockID, req.Token)
	}

	s.metrics.IncRequest("release", string(result.Status))
	return &rpc.ReleaseResponse{Status: result.Status, Message: result.Message}, nil
}

// Check reports the current holder of a lock from the leader's store.
func (s *LockServer) Check(ctx context.Context, req *rpc.CheckRequest) (*rpc.CheckResponse, error) {
	if err := s.validator.validateCheck(req); err != nil {
		s.metrics.IncRequest("check", string(types.StatusError))
		return &rpc.CheckResponse{Status: types.StatusError}, nil
	}
	if _, isLeader := s.raft.GetState(); !isLeader {
		s.metrics.IncRequest("check", string(types.StatusNotLeader))
		return &rpc.CheckResponse{Status: types.StatusNotLeader, LeaderHint: s.leaderHint()}, nil
	}

	result := s.locks.Check(req.LockID)
	if result.Status == types.StatusNotFound && s.regions != nil {
		if adv, ok := s.regions.advisoryHolder(req.LockID); ok {
			result = types.CommandResult{
				Status:    types.StatusOK,
				Holder:    adv.holder,
				Region:    adv.region,
				Token:     adv.token,
				ExpiresAt: adv.expiresAt,
			}
		}
	}
	s.metrics.IncRequest("check", string(result.Status))

	if result.Status != types.StatusOK {
		return &rpc.CheckResponse{Status: result.Status}, nil
	}
	remaining := result.ExpiresAt - s.clock.NowUnixMilli()
	if remaining < 0 {
		remaining = 0
	}
	return &rpc.CheckResponse{
		Status:          types.StatusOK,
		Holder:          result.Holder,
		Region:          result.Region,
		Token:           result.Token,
		ExpiresAt:       result.ExpiresAt,
		RemainingMillis: remaining,
	}, nil
}

// Extend moves a held lock's expiry forward under the holder's token.
func (s *LockServer) Extend(ctx context.Context, req *rpc.ExtendRequest) (*rpc.ExtendResponse, error) {
	if !s.limiter.Allow() {
		s.metrics.IncRateLimited()
		return &rpc.ExtendResponse{Status: types.StatusError, Message: "rate limit exceeded"}, nil
	}
	if err := s.validator.validateExtend(req); err != nil {
		s.metrics.IncRequest("extend", string(types.StatusError))
		return &rpc.ExtendResponse{Status: types.StatusError, Message: err.Error()}, nil
	}
	if _, isLeader := s.raft.GetState(); !isLeader {
		s.metrics.IncRequest("extend", string(types.StatusNotLeader))
		return &rpc.ExtendResponse{Status: types.StatusNotLeader, LeaderHint: s.leaderHint()}, nil
	}

	ttl := s.cfg.normalizeTimeout(req.TimeoutMillis)
	expiresAt := s.clock.NowUnixMilli() + ttl.Milliseconds()

	cmd := types.NewExtendCommand(req.LockID, req.Token, expiresAt)
	result, status := s.propose(ctx, cmd)
	if status != types.StatusOK {
		s.metrics.IncRequest("extend", string(status))
		return &rpc.ExtendResponse{Status: status, LeaderHint: s.hintIfNotLeader(status)}, nil
	}

	s.metrics.IncRequest("extend", string(result.Status))
	return &rpc.ExtendResponse{
		Status:    result.Status,
		ExpiresAt: result.ExpiresAt,
		Message:   result.Message,
	}, nil
}

// propose submits a command and waits for its apply result within the
// proposal deadline. The first return is valid only when the second is
// StatusOK, meaning the proposal resolved; the command-level outcome is in
// the result itself.
func (s *LockServer) propose(ctx context.Context, cmd types.Command) (types.CommandResult, types.LockStatus) {
	start := s.clock.Now()
	proposal, err := s.raft.Propose(ctx, cmd)
	if err != nil {
		return types.CommandResult{}, statusFromProposalErr(err)
	}

	timer := s.clock.NewTimer(s.cfg.ProposalTimeout)
	defer timer.Stop()

	select {
	case res := <-proposal.ResultCh:
		s.metrics.ObserveProposalSeconds(s.clock.Since(start).Seconds())
		if res.Err != nil {
			return types.CommandResult{}, statusFromProposalErr(res.Err)
		}
		return res.Result, types.StatusOK
	case <-timer.Chan():
		// The entry may still commit later; that is harmless because the
		// client treats TIMEOUT as failure and never learns the token.
		return types.CommandResult{}, types.StatusTimeout
	case <-ctx.Done():
		return types.CommandResult{}, types.StatusTimeout
	}
}

// compensateAcquire proposes a RELEASE for an acquisition whose quorum
// failed. Best effort: if it does not commit the lease expires on its own.
func (s *LockServer) compensateAcquire(lockID types.LockID, token types.FencingToken) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProposalTimeout)
	defer cancel()
	result, status := s.propose(ctx, types.NewReleaseCommand(lockID, token))
	if status != types.StatusOK || !result.Status.IsSuccess() {
		s.logger.Warnw("Compensating release did not commit",
			"lock_id", lockID, "token", token, "status", status, "result", result.Status)
	}
}

// leaderHint returns the current leader's client-facing address, or ""
// when no leader is known or no address is configured for it.
func (s *LockServer) leaderHint() string {
	leaderID := s.raft.GetLeaderID()
	if leaderID == "" {
		return ""
	}
	return s.cfg.ClientAddrs[leaderID]
}

func (s *LockServer) hintIfNotLeader(status types.LockStatus) string {
	if status == types.StatusNotLeader {
		return s.leaderHint()
	}
	return ""
}
