package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gaestalt/lockd/lock"
	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/testutil"
	"github.com/gaestalt/lockd/types"
)

// noopNetwork satisfies raft.NetworkManager for single-node groups, which
// never send peer RPCs.
type noopNetwork struct{}

func (noopNetwork) Start() error { return nil }
func (noopNetwork) Stop() error  { return nil }
func (noopNetwork) SendRequestVote(ctx context.Context, target types.NodeID, args *types.RequestVoteArgs) (*types.RequestVoteReply, error) {
	return nil, errors.New("no peers")
}
func (noopNetwork) SendAppendEntries(ctx context.Context, target types.NodeID, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error) {
	return nil, errors.New("no peers")
}
func (noopNetwork) LocalAddr() string { return "" }

// testNode is a started single-node consensus group with a real lock
// store: enough to exercise the full acquire path without networking.
type testNode struct {
	raft  raft.Raft
	locks lock.LockManager
}

func startTestNode(t *testing.T) *testNode {
	t.Helper()

	locks := lock.NewLockManager()

	cfg := raft.DefaultConfig()
	cfg.ID = "n1"
	cfg.Peers = map[types.NodeID]string{"n1": "n1"}
	cfg.ElectionTimeout = 40 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond

	node, err := raft.NewRaft(cfg, raft.Dependencies{
		Applier: locks,
		Storage: raft.NewMemoryStorage(),
	})
	testutil.RequireNoError(t, err)
	node.SetNetworkManager(noopNetwork{})
	testutil.RequireNoError(t, node.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = node.Stop(ctx)
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, isLeader := node.GetState(); isLeader {
			return &testNode{raft: node, locks: locks}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("single-node group did not elect itself")
	return nil
}

func newTestServer(t *testing.T, mutate func(*Config)) (*LockServer, *testNode) {
	t.Helper()

	node := startTestNode(t)
	cfg := DefaultConfig()
	cfg.NodeID = "n1"
	cfg.RegionID = "us-east"
	cfg.ListenAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewLockServer(cfg, Dependencies{
		Raft:  node.raft,
		Locks: node.locks,
	})
	testutil.RequireNoError(t, err)
	return s, node
}

func lockManagerForTest() lock.LockManager {
	return lock.NewLockManager()
}

// fakeRaft lets tests pin the consensus layer's behavior.
type fakeRaft struct {
	leader    bool
	leaderID  types.NodeID
	proposeFn func(ctx context.Context, cmd types.Command) (*raft.Proposal, error)
}

func (f *fakeRaft) Start() error                  { return nil }
func (f *fakeRaft) Stop(ctx context.Context) error { return nil }
func (f *fakeRaft) SetNetworkManager(nm raft.NetworkManager) {}
func (f *fakeRaft) GetState() (types.Term, bool)  { return 1, f.leader }
func (f *fakeRaft) GetLeaderID() types.NodeID     { return f.leaderID }
func (f *fakeRaft) Status() types.RaftStatus      { return types.RaftStatus{} }
func (f *fakeRaft) RequestVote(ctx context.Context, args *types.RequestVoteArgs) (*types.RequestVoteReply, error) {
	return &types.RequestVoteReply{}, nil
}
func (f *fakeRaft) AppendEntries(ctx context.Context, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error) {
	return &types.AppendEntriesReply{}, nil
}
func (f *fakeRaft) Propose(ctx context.Context, cmd types.Command) (*raft.Proposal, error) {
	if f.proposeFn != nil {
		return f.proposeFn(ctx, cmd)
	}
	return nil, raft.ErrNotLeader
}
