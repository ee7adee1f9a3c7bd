package raft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gaestalt/lockd/testutil"
	"github.com/gaestalt/lockd/types"
)

// recordingApplier collects applied entries and answers OK.
type recordingApplier struct {
	mu      sync.Mutex
	entries []types.LogEntry
}

func (a *recordingApplier) Apply(ctx context.Context, entry types.LogEntry) types.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return types.CommandResult{Status: types.StatusOK}
}

func (a *recordingApplier) applied() []types.LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.LogEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// noopNetwork satisfies NetworkManager for single-node tests; nothing is
// ever sent because a one-node group has no peers.
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

// inprocTransport wires a group of nodes together with direct method
// calls. Partitioned nodes neither send nor receive.
type inprocTransport struct {
	mu          sync.Mutex
	nodes       map[types.NodeID]*raftNode
	partitioned map[types.NodeID]bool
}

func newInprocTransport() *inprocTransport {
	return &inprocTransport{
		nodes:       make(map[types.NodeID]*raftNode),
		partitioned: make(map[types.NodeID]bool),
	}
}

func (t *inprocTransport) register(node *raftNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[node.id] = node
}

func (t *inprocTransport) partition(id types.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partitioned[id] = true
}

func (t *inprocTransport) heal(id types.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.partitioned, id)
}

func (t *inprocTransport) lookup(from, to types.NodeID) (*raftNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.partitioned[from] || t.partitioned[to] {
		return nil, errors.New("partitioned")
	}
	node, ok := t.nodes[to]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return node, nil
}

// inprocNetwork is one node's view of the shared transport.
type inprocNetwork struct {
	id        types.NodeID
	transport *inprocTransport
}

func (n *inprocNetwork) Start() error { return nil }
func (n *inprocNetwork) Stop() error  { return nil }

func (n *inprocNetwork) SendRequestVote(ctx context.Context, target types.NodeID, args *types.RequestVoteArgs) (*types.RequestVoteReply, error) {
	node, err := n.transport.lookup(n.id, target)
	if err != nil {
		return nil, err
	}
	return node.RequestVote(ctx, args)
}

func (n *inprocNetwork) SendAppendEntries(ctx context.Context, target types.NodeID, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error) {
	node, err := n.transport.lookup(n.id, target)
	if err != nil {
		return nil, err
	}
	return node.AppendEntries(ctx, args)
}

func (n *inprocNetwork) LocalAddr() string { return string(n.id) }

// newTestNode builds an unstarted node with the given group membership.
func newTestNode(t *testing.T, id types.NodeID, peers []types.NodeID) (*raftNode, *recordingApplier) {
	t.Helper()

	peerMap := make(map[types.NodeID]string)
	for _, p := range peers {
		peerMap[p] = string(p)
	}

	cfg := DefaultConfig()
	cfg.ID = id
	cfg.Peers = peerMap
	cfg.ElectionTimeout = 60 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond

	applier := &recordingApplier{}
	node, err := NewRaft(cfg, Dependencies{
		Applier: applier,
		Storage: NewMemoryStorage(),
	})
	testutil.RequireNoError(t, err)
	return node.(*raftNode), applier
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v: %s", timeout, msg)
}
