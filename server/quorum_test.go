package server

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"

	"github.com/gaestalt/lockd/logger"
	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/rpc"
	"github.com/gaestalt/lockd/testutil"
	"github.com/gaestalt/lockd/types"
)

// fakeRegionClient scripts a peer region's answers.
type fakeRegionClient struct {
	vote       rpc.RegionVote
	proposeErr error

	confirms []*rpc.ConfirmRequest
}

func (f *fakeRegionClient) Propose(ctx context.Context, in *rpc.ProposeRequest, opts ...grpc.CallOption) (*rpc.ProposeResponse, error) {
	if f.proposeErr != nil {
		return nil, f.proposeErr
	}
	return &rpc.ProposeResponse{Vote: f.vote}, nil
}

func (f *fakeRegionClient) Confirm(ctx context.Context, in *rpc.ConfirmRequest, opts ...grpc.CallOption) (*rpc.ConfirmResponse, error) {
	f.confirms = append(f.confirms, in)
	return &rpc.ConfirmResponse{Acked: true}, nil
}

func newTestCoordinator(regionID types.RegionID, peerRegions ...types.RegionID) *regionCoordinator {
	cfg := DefaultConfig()
	cfg.NodeID = "n1"
	cfg.RegionID = regionID
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RegionPeers = make(map[types.RegionID]string)
	for _, r := range peerRegions {
		cfg.RegionPeers[r] = string(r)
	}
	return newRegionCoordinator(cfg, lockManagerForTest(), raft.NewStandardClock(), &logger.NoOpLogger{}, &NoOpMetrics{})
}

func (rc *regionCoordinator) injectClient(region types.RegionID, client rpc.RegionClient) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.peers[region].client = client
}

func TestQuorumReachedWithOnePeerDown(t *testing.T) {
	// Three regions: the local vote plus B's YES make 2/3 even though C
	// times out.
	rc := newTestCoordinator("A", "B", "C")
	b := &fakeRegionClient{vote: rpc.VoteYes}
	c := &fakeRegionClient{proposeErr: errors.New("deadline exceeded")}
	rc.injectClient("B", b)
	rc.injectClient("C", c)

	ok := rc.proposeAcquire(context.Background(), "L3", "C1", 1, 90_000_000_000)
	testutil.AssertTrue(t, ok)

	testutil.AssertLen(t, b.confirms, 1)
	testutil.AssertEqual(t, rpc.DecisionCommit, b.confirms[0].Decision)
	testutil.AssertLen(t, c.confirms, 0, "non-voters get no commit")
}

func TestQuorumFailsWithoutMajority(t *testing.T) {
	rc := newTestCoordinator("A", "B", "C")
	rc.injectClient("B", &fakeRegionClient{proposeErr: errors.New("unreachable")})
	rc.injectClient("C", &fakeRegionClient{vote: rpc.VoteConflict})

	ok := rc.proposeAcquire(context.Background(), "L3", "C1", 1, 90_000_000_000)
	testutil.AssertFalse(t, ok)
}

func TestAcceptorVotesAndCommits(t *testing.T) {
	rc := newTestCoordinator("B", "A")
	ctx := context.Background()

	req := &rpc.ProposeRequest{
		LockID:       "L3",
		HolderID:     "C1",
		OriginRegion: "A",
		Token:        4,
		ExpiresAt:    rc.clock.NowUnixMilli() + 30000,
	}
	resp, err := rc.Propose(ctx, req)
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, rpc.VoteYes, resp.Vote)

	// A competing origin is refused while the proposal is pending.
	competing, err := rc.Propose(ctx, &rpc.ProposeRequest{
		LockID:       "L3",
		HolderID:     "C9",
		OriginRegion: "C",
		Token:        5,
		ExpiresAt:    rc.clock.NowUnixMilli() + 30000,
	})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, rpc.VoteConflict, competing.Vote)
	testutil.AssertEqual(t, types.ClientID("C1"), competing.KnownHolder)

	// COMMIT promotes the pending proposal to an advisory entry.
	_, err = rc.Confirm(ctx, &rpc.ConfirmRequest{LockID: "L3", Token: 4, Decision: rpc.DecisionCommit})
	testutil.RequireNoError(t, err)
	adv, ok := rc.advisoryHolder("L3")
	testutil.AssertTrue(t, ok)
	testutil.AssertEqual(t, types.ClientID("C1"), adv.holder)
	testutil.AssertEqual(t, types.RegionID("A"), adv.region)

	// The same origin and client stays re-entrant across retries.
	reentrant, err := rc.Propose(ctx, req)
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, rpc.VoteYes, reentrant.Vote)
}

func TestAbortClearsPendingAndAdvisory(t *testing.T) {
	rc := newTestCoordinator("B", "A")
	ctx := context.Background()

	req := &rpc.ProposeRequest{
		LockID: "L4", HolderID: "C1", OriginRegion: "A", Token: 2,
		ExpiresAt: rc.clock.NowUnixMilli() + 30000,
	}
	_, err := rc.Propose(ctx, req)
	testutil.RequireNoError(t, err)
	_, err = rc.Confirm(ctx, &rpc.ConfirmRequest{LockID: "L4", Token: 2, Decision: rpc.DecisionCommit})
	testutil.RequireNoError(t, err)

	// Release fan-out arrives as an ABORT with the holder's token.
	_, err = rc.Confirm(ctx, &rpc.ConfirmRequest{LockID: "L4", Token: 2, Decision: rpc.DecisionAbort})
	testutil.RequireNoError(t, err)
	_, ok := rc.advisoryHolder("L4")
	testutil.AssertFalse(t, ok)
}

func TestAdvisoryEntryBlocksLocalAcquire(t *testing.T) {
	// A committed remote acquisition must deny local acquires of the same
	// lock until it expires.
	node := startTestNode(t)
	cfg := DefaultConfig()
	cfg.NodeID = "n1"
	cfg.RegionID = "B"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RegionPeers = map[types.RegionID]string{"A": "a", "C": "c"}

	s, err := NewLockServer(cfg, Dependencies{Raft: node.raft, Locks: node.locks})
	testutil.RequireNoError(t, err)

	ctx := context.Background()
	_, err = s.regions.Propose(ctx, &rpc.ProposeRequest{
		LockID: "L3", HolderID: "C1", OriginRegion: "A", Token: 9,
		ExpiresAt: s.clock.NowUnixMilli() + 30000,
	})
	testutil.RequireNoError(t, err)
	_, err = s.regions.Confirm(ctx, &rpc.ConfirmRequest{LockID: "L3", Token: 9, Decision: rpc.DecisionCommit})
	testutil.RequireNoError(t, err)

	resp, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L3", ClientID: "C2", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusAlreadyLocked, resp.Status)

	check, err := s.Check(ctx, &rpc.CheckRequest{LockID: "L3"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, check.Status)
	testutil.AssertEqual(t, types.ClientID("C1"), check.Holder)
	testutil.AssertEqual(t, types.RegionID("A"), check.Region)
}

func TestQuorumFailureIssuesCompensatingRelease(t *testing.T) {
	node := startTestNode(t)
	cfg := DefaultConfig()
	cfg.NodeID = "n1"
	cfg.RegionID = "A"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RegionPeers = map[types.RegionID]string{"B": "b", "C": "c"}

	s, err := NewLockServer(cfg, Dependencies{Raft: node.raft, Locks: node.locks})
	testutil.RequireNoError(t, err)
	s.regions.injectClient("B", &fakeRegionClient{proposeErr: errors.New("down")})
	s.regions.injectClient("C", &fakeRegionClient{proposeErr: errors.New("down")})

	ctx := context.Background()
	resp, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L5", ClientID: "C1", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusQuorumFailed, resp.Status)

	// The compensating release freed the local grant.
	check, err := s.Check(ctx, &rpc.CheckRequest{LockID: "L5"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusNotFound, check.Status)
}
