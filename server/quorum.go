package server

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gaestalt/lockd/lock"
	"github.com/gaestalt/lockd/logger"
	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/rpc"
	"github.com/gaestalt/lockd/types"
)

// regionCoordinator runs both sides of the cross-region two-phase
// exchange. As proposer it asks every peer region's leader to confirm an
// acquisition and commits or aborts on the vote count; as acceptor it
// votes on remote proposals against the local store and records committed
// remote holders as advisory entries.
//
// Advisory entries are not leader-originated locks: they live beside the
// replicated store, do not participate in fencing-token allocation, and
// expire on the remote leader's expires_at.
type regionCoordinator struct {
	selfRegion types.RegionID
	locks      lock.LockManager
	clock      raft.Clock
	logger     logger.Logger
	metrics    Metrics
	cfg        Config

	mu       sync.Mutex
	peers    map[types.RegionID]*regionPeer
	pending  map[types.LockID]remoteProposal
	advisory map[types.LockID]advisoryEntry
}

type regionPeer struct {
	addr   string
	conn   *grpc.ClientConn
	client rpc.RegionClient
}

// remoteProposal is the acceptor-side memory of a YES vote, awaiting the
// proposer's COMMIT or ABORT.
type remoteProposal struct {
	holder    types.ClientID
	region    types.RegionID
	token     types.FencingToken
	expiresAt int64
}

// advisoryEntry records a remote region's committed acquisition.
type advisoryEntry struct {
	holder    types.ClientID
	region    types.RegionID
	token     types.FencingToken
	expiresAt int64
}

func newRegionCoordinator(cfg Config, locks lock.LockManager, clock raft.Clock, log logger.Logger, metrics Metrics) *regionCoordinator {
	peers := make(map[types.RegionID]*regionPeer, len(cfg.RegionPeers))
	for region, addr := range cfg.RegionPeers {
		peers[region] = &regionPeer{addr: addr}
	}
	return &regionCoordinator{
		selfRegion: cfg.RegionID,
		locks:      locks,
		clock:      clock,
		logger:     log.WithComponent("region"),
		metrics:    metrics,
		cfg:        cfg,
		peers:      peers,
		pending:    make(map[types.LockID]remoteProposal),
		advisory:   make(map[types.LockID]advisoryEntry),
	}
}

func (rc *regionCoordinator) close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for region, peer := range rc.peers {
		if peer.conn != nil {
			if err := peer.conn.Close(); err != nil {
				rc.logger.Warnw("Error closing region connection", "region", region, "error", err)
			}
			peer.conn = nil
			peer.client = nil
		}
	}
}

// client returns the lazily-dialed client for a peer region.
func (rc *regionCoordinator) client(region types.RegionID) (rpc.RegionClient, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	peer := rc.peers[region]
	if peer.client != nil {
		return peer.client, nil
	}
	conn, err := grpc.NewClient(peer.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return nil, err
	}
	peer.conn = conn
	peer.client = rpc.NewRegionClient(conn)
	return peer.client, nil
}

// proposeAcquire runs the two-phase exchange for a locally committed
// acquisition. It returns true when a strict majority of regional leaders
// (counting this region) voted YES; winners receive COMMIT, and on a
// failed round every peer receives ABORT.
func (rc *regionCoordinator) proposeAcquire(ctx context.Context, lockID types.LockID, holder types.ClientID, token types.FencingToken, expiresAt int64) bool {
	total := len(rc.peers) + 1
	needed := total/2 + 1

	req := &rpc.ProposeRequest{
		LockID:       lockID,
		HolderID:     holder,
		OriginRegion: rc.selfRegion,
		Token:        token,
		ExpiresAt:    expiresAt,
	}

	var votes int64 = 1 // self
	var yesVoters sync.Map

	g, gctx := errgroup.WithContext(ctx)
	for region := range rc.peers {
		g.Go(func() error {
			client, err := rc.client(region)
			if err != nil {
				rc.logger.Warnw("Region unreachable", "region", region, "error", err)
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, rc.cfg.RegionRPCTimeout)
			defer cancel()
			resp, err := client.Propose(callCtx, req)
			if err != nil {
				rc.logger.Warnw("Region vote failed", "region", region, "lock_id", lockID, "error", err)
				return nil
			}
			if resp.Vote == rpc.VoteYes {
				atomic.AddInt64(&votes, 1)
				yesVoters.Store(region, struct{}{})
			} else {
				rc.logger.Infow("Region voted against acquisition",
					"region", region, "lock_id", lockID, "vote", resp.Vote,
					"known_holder", resp.KnownHolder)
			}
			return nil
		})
	}
	_ = g.Wait()

	if int(atomic.LoadInt64(&votes)) >= needed {
		rc.metrics.IncQuorumRound("committed")
		rc.confirm(lockID, token, rpc.DecisionCommit, &yesVoters)
		return true
	}
	rc.metrics.IncQuorumRound("failed")
	rc.confirm(lockID, token, rpc.DecisionAbort, nil)
	return false
}

// announceRelease tells every peer region to drop its advisory entry for a
// released lock. Best effort: failures are logged, never surfaced, because
// the advisory entries expire on their own.
func (rc *regionCoordinator) announceRelease(lockID types.LockID, token types.FencingToken) {
	go rc.confirm(lockID, token, rpc.DecisionAbort, nil)
}

// confirm fans the second-phase decision out. A nil voters set addresses
// every peer; otherwise only the regions that voted YES.
func (rc *regionCoordinator) confirm(lockID types.LockID, token types.FencingToken, decision rpc.RegionDecision, voters *sync.Map) {
	req := &rpc.ConfirmRequest{LockID: lockID, Token: token, Decision: decision}
	var wg sync.WaitGroup
	for region := range rc.peers {
		if voters != nil {
			if _, ok := voters.Load(region); !ok {
				continue
			}
		}
		wg.Add(1)
		go func(region types.RegionID) {
			defer wg.Done()
			client, err := rc.client(region)
			if err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), rc.cfg.RegionRPCTimeout)
			defer cancel()
			if _, err := client.Confirm(ctx, req); err != nil {
				rc.logger.Warnw("Region confirm failed",
					"region", region, "lock_id", lockID, "decision", decision, "error", err)
			}
		}(region)
	}
	wg.Wait()
}

// Propose is the acceptor side of phase one. The region votes YES iff the
// local store holds no live conflicting lock and no conflicting advisory
// or pending remote proposal exists; re-entrant retries from the same
// origin and client vote YES again.
func (rc *regionCoordinator) Propose(ctx context.Context, req *rpc.ProposeRequest) (*rpc.ProposeResponse, error) {
	local := rc.locks.Check(req.LockID)
	if local.Status == types.StatusOK &&
		!(local.Region == req.OriginRegion && local.Holder == req.HolderID) {
		return &rpc.ProposeResponse{
			Vote:        rpc.VoteConflict,
			KnownHolder: local.Holder,
			KnownRegion: local.Region,
		}, nil
	}

	now := rc.clock.NowUnixMilli()
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if adv, ok := rc.advisory[req.LockID]; ok && now < adv.expiresAt &&
		!(adv.region == req.OriginRegion && adv.holder == req.HolderID) {
		return &rpc.ProposeResponse{
			Vote:        rpc.VoteConflict,
			KnownHolder: adv.holder,
			KnownRegion: adv.region,
		}, nil
	}
	if p, ok := rc.pending[req.LockID]; ok && now < p.expiresAt &&
		!(p.region == req.OriginRegion && p.holder == req.HolderID) {
		return &rpc.ProposeResponse{
			Vote:        rpc.VoteConflict,
			KnownHolder: p.holder,
			KnownRegion: p.region,
		}, nil
	}

	rc.pending[req.LockID] = remoteProposal{
		holder:    req.HolderID,
		region:    req.OriginRegion,
		token:     req.Token,
		expiresAt: req.ExpiresAt,
	}
	return &rpc.ProposeResponse{Vote: rpc.VoteYes}, nil
}

// Confirm is the acceptor side of phase two. COMMIT promotes the pending
// proposal to an advisory entry; ABORT drops the pending proposal and any
// advisory entry carrying the same token (which also serves release
// fan-out).
func (rc *regionCoordinator) Confirm(ctx context.Context, req *rpc.ConfirmRequest) (*rpc.ConfirmResponse, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	switch req.Decision {
	case rpc.DecisionCommit:
		if p, ok := rc.pending[req.LockID]; ok && p.token == req.Token {
			rc.advisory[req.LockID] = advisoryEntry(p)
			delete(rc.pending, req.LockID)
			rc.logger.Debugw("Recorded advisory entry",
				"lock_id", req.LockID, "holder", p.holder, "origin", p.region)
		}
	case rpc.DecisionAbort:
		if p, ok := rc.pending[req.LockID]; ok && p.token == req.Token {
			delete(rc.pending, req.LockID)
		}
		if adv, ok := rc.advisory[req.LockID]; ok && adv.token == req.Token {
			delete(rc.advisory, req.LockID)
		}
	}
	return &rpc.ConfirmResponse{Acked: true}, nil
}

// advisoryHolder returns the live advisory entry for a lock, lazily
// dropping it once expired.
func (rc *regionCoordinator) advisoryHolder(lockID types.LockID) (advisoryEntry, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	adv, ok := rc.advisory[lockID]
	if !ok {
		return advisoryEntry{}, false
	}
	if rc.clock.NowUnixMilli() >= adv.expiresAt {
		delete(rc.advisory, lockID)
		return advisoryEntry{}, false
	}
	return adv, true
}
