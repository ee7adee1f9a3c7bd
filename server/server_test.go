package server

import (
	"context"
	"testing"
	"time"

	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/rpc"
	"github.com/gaestalt/lockd/testutil"
	"github.com/gaestalt/lockd/types"
)

func TestBasicAcquireCheckRelease(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	acq, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: "C1", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, acq.Status)
	testutil.AssertEqual(t, types.FencingToken(1), acq.Token)
	testutil.AssertTrue(t, acq.ExpiresAt > 0)

	check, err := s.Check(ctx, &rpc.CheckRequest{LockID: "L1"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, check.Status)
	testutil.AssertEqual(t, types.ClientID("C1"), check.Holder)
	testutil.AssertEqual(t, types.FencingToken(1), check.Token)
	testutil.AssertTrue(t, check.RemainingMillis > 0)

	rel, err := s.Release(ctx, &rpc.ReleaseRequest{LockID: "L1", ClientID: "C1", Token: 1})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, rel.Status)

	check, err = s.Check(ctx, &rpc.CheckRequest{LockID: "L1"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusNotFound, check.Status)
}

func TestContentionAndTokenProgression(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	first, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: "C1", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, first.Status)

	blocked, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: "C2", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusAlreadyLocked, blocked.Status)

	rel, err := s.Release(ctx, &rpc.ReleaseRequest{LockID: "L1", ClientID: "C1", Token: first.Token})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, rel.Status)

	second, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: "C2", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, second.Status)
	testutil.AssertTrue(t, second.Token > first.Token, "token %d not above %d", second.Token, first.Token)
}

func TestStaleTokenFencing(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	first, _ := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: "C1", TimeoutMillis: 30000})
	s.Release(ctx, &rpc.ReleaseRequest{LockID: "L1", ClientID: "C1", Token: first.Token})
	second, _ := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: "C2", TimeoutMillis: 30000})

	// The first holder's stale token must not release the new grant.
	stale, err := s.Release(ctx, &rpc.ReleaseRequest{LockID: "L1", ClientID: "C1", Token: first.Token})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusInvalidToken, stale.Status)

	ok, err := s.Release(ctx, &rpc.ReleaseRequest{LockID: "L1", ClientID: "C2", Token: second.Token})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, ok.Status)
}

func TestRetryAfterLostReplyIsReentrant(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	first, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L2", ClientID: "C3", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, first.Status)

	// The client never saw the reply and retries: same client, same lock.
	// The retry succeeds with the original token, so at most one token is
	// ever live for the lock.
	retry, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L2", ClientID: "C3", TimeoutMillis: 30000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, retry.Status)
	testutil.AssertEqual(t, first.Token, retry.Token)
	testutil.AssertEqual(t, first.ExpiresAt, retry.ExpiresAt)
}

func TestExtendMovesExpiry(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	acq, _ := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: "C1", TimeoutMillis: 5000})

	ext, err := s.Extend(ctx, &rpc.ExtendRequest{LockID: "L1", ClientID: "C1", Token: acq.Token, TimeoutMillis: 60000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusOK, ext.Status)
	testutil.AssertTrue(t, ext.ExpiresAt > acq.ExpiresAt)

	bad, err := s.Extend(ctx, &rpc.ExtendRequest{LockID: "L1", ClientID: "C1", Token: acq.Token + 7, TimeoutMillis: 60000})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusInvalidToken, bad.Status)
}

func TestValidationRejections(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	resp, err := s.Acquire(ctx, &rpc.AcquireRequest{LockID: "", ClientID: "C1"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusError, resp.Status)

	resp, err = s.Acquire(ctx, &rpc.AcquireRequest{LockID: "L1", ClientID: ""})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusError, resp.Status)

	long := make([]byte, DefaultMaxIDLength+1)
	for i := range long {
		long[i] = 'x'
	}
	resp, err = s.Acquire(ctx, &rpc.AcquireRequest{LockID: types.LockID(long), ClientID: "C1"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusError, resp.Status)

	rel, err := s.Release(ctx, &rpc.ReleaseRequest{LockID: "L1", ClientID: "C1", Token: 0})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusError, rel.Status)
}

func TestNonLeaderRedirects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "n2"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ClientAddrs = map[types.NodeID]string{"n1": "10.0.0.1:9311"}

	s, err := NewLockServer(cfg, Dependencies{
		Raft:  &fakeRaft{leader: false, leaderID: "n1"},
		Locks: lockManagerForTest(),
	})
	testutil.RequireNoError(t, err)

	resp, err := s.Acquire(context.Background(), &rpc.AcquireRequest{LockID: "L1", ClientID: "C1"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusNotLeader, resp.Status)
	testutil.AssertEqual(t, "10.0.0.1:9311", resp.LeaderHint)

	check, err := s.Check(context.Background(), &rpc.CheckRequest{LockID: "L1"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusNotLeader, check.Status)
	testutil.AssertEqual(t, "10.0.0.1:9311", check.LeaderHint)
}

func TestProposalTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "n1"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ProposalTimeout = 20 * time.Millisecond

	// A proposal that never resolves: the front-end answers TIMEOUT.
	stuck := &fakeRaft{leader: true, leaderID: "n1"}
	stuck.proposeFn = func(ctx context.Context, cmd types.Command) (*raft.Proposal, error) {
		return &raft.Proposal{Index: 1, Term: 1, ResultCh: make(chan raft.ProposalResult)}, nil
	}

	s, err := NewLockServer(cfg, Dependencies{Raft: stuck, Locks: lockManagerForTest()})
	testutil.RequireNoError(t, err)

	resp, err := s.Acquire(context.Background(), &rpc.AcquireRequest{LockID: "L1", ClientID: "C1"})
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, types.StatusTimeout, resp.Status)
}

func TestTimeoutClamping(t *testing.T) {
	cfg := DefaultConfig()

	testutil.AssertEqual(t, cfg.DefaultLockTimeout, cfg.normalizeTimeout(0))
	testutil.AssertEqual(t, cfg.DefaultLockTimeout, cfg.normalizeTimeout(-5))
	testutil.AssertEqual(t, cfg.MinLockTimeout, cfg.normalizeTimeout(1))
	testutil.AssertEqual(t, cfg.MaxLockTimeout, cfg.normalizeTimeout(900_000))
	testutil.AssertEqual(t, 45*time.Second, cfg.normalizeTimeout(45_000))
}
