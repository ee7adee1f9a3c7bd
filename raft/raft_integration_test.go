package raft

import (
	"context"
	"testing"
	"time"

	"github.com/gaestalt/lockd/testutil"
	"github.com/gaestalt/lockd/types"
)

type cluster struct {
	transport *inprocTransport
	nodes     map[types.NodeID]*raftNode
	appliers  map[types.NodeID]*recordingApplier
}

func newCluster(t *testing.T, ids ...types.NodeID) *cluster {
	t.Helper()

	c := &cluster{
		transport: newInprocTransport(),
		nodes:     make(map[types.NodeID]*raftNode),
		appliers:  make(map[types.NodeID]*recordingApplier),
	}
	for _, id := range ids {
		node, applier := newTestNode(t, id, ids)
		node.SetNetworkManager(&inprocNetwork{id: id, transport: c.transport})
		c.transport.register(node)
		c.nodes[id] = node
		c.appliers[id] = applier
	}
	for _, id := range ids {
		testutil.RequireNoError(t, c.nodes[id].Start())
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, node := range c.nodes {
			_ = node.Stop(ctx)
		}
	})
	return c
}

func (c *cluster) leader() *raftNode {
	for _, node := range c.nodes {
		if _, isLeader := node.GetState(); isLeader {
			return node
		}
	}
	return nil
}

func (c *cluster) leaderExcluding(exclude types.NodeID) *raftNode {
	for id, node := range c.nodes {
		if id == exclude {
			continue
		}
		if _, isLeader := node.GetState(); isLeader {
			return node
		}
	}
	return nil
}

func TestClusterElectsSingleLeader(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")

	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil }, "no leader elected")

	leaders := 0
	term := types.Term(0)
	for _, node := range c.nodes {
		if nodeTerm, isLeader := node.GetState(); isLeader {
			leaders++
			term = nodeTerm
		}
	}
	testutil.AssertEqual(t, 1, leaders)
	testutil.AssertTrue(t, term > 0)
}

func TestProposeReplicatesAndApplies(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil }, "no leader elected")
	leader := c.leader()

	cmd := types.NewAcquireCommand("L1", "C1", "r1", 1, 100, 30100)
	proposal, err := leader.Propose(context.Background(), cmd)
	testutil.RequireNoError(t, err)

	select {
	case res := <-proposal.ResultCh:
		testutil.AssertNoError(t, res.Err)
		testutil.AssertEqual(t, types.StatusOK, res.Result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("proposal did not resolve")
	}

	// Every node applies the same acquire once heartbeats spread the
	// commit index.
	waitFor(t, 2*time.Second, func() bool {
		for _, applier := range c.appliers {
			found := false
			for _, e := range applier.applied() {
				if e.Type == types.EntryAcquire {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		return true
	}, "acquire not applied on all nodes")
}

func TestProposeOnFollowerFails(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil }, "no leader elected")
	leader := c.leader()

	for id, node := range c.nodes {
		if id == leader.id {
			continue
		}
		_, err := node.Propose(context.Background(), types.NewReleaseCommand("L1", 1))
		testutil.AssertErrorIs(t, err, ErrNotLeader)
	}
}

func TestLeaderFailover(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil }, "no leader elected")
	oldLeader := c.leader()

	// Commit an entry on the old leader first.
	proposal, err := oldLeader.Propose(context.Background(), types.NewAcquireCommand("L1", "C1", "r1", 1, 100, 30100))
	testutil.RequireNoError(t, err)
	select {
	case res := <-proposal.ResultCh:
		testutil.RequireNoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("proposal did not resolve")
	}

	// Partition the leader away; the survivors elect a successor in a
	// higher term.
	oldTerm, _ := oldLeader.GetState()
	c.transport.partition(oldLeader.id)

	waitFor(t, 3*time.Second, func() bool {
		return c.leaderExcluding(oldLeader.id) != nil
	}, "no successor elected")
	newLeader := c.leaderExcluding(oldLeader.id)
	newTerm, _ := newLeader.GetState()
	testutil.AssertTrue(t, newTerm > oldTerm, "successor term %d not above %d", newTerm, oldTerm)

	// The successor's NOOP commits, retroactively carrying the old
	// acquire; the lock survives the failover.
	waitFor(t, 2*time.Second, func() bool {
		for _, e := range c.appliers[newLeader.id].applied() {
			if e.Type == types.EntryAcquire {
				return true
			}
		}
		return false
	}, "acquire lost across failover")

	// The deposed leader rejoins as a follower.
	c.transport.heal(oldLeader.id)
	waitFor(t, 3*time.Second, func() bool {
		_, isLeader := oldLeader.GetState()
		term, _ := oldLeader.GetState()
		return !isLeader && term >= newTerm
	}, "old leader did not step down")
}

func TestSingleNodeClusterCommitsImmediately(t *testing.T) {
	node, applier := newTestNode(t, "solo", []types.NodeID{"solo"})
	node.SetNetworkManager(noopNetwork{})
	testutil.RequireNoError(t, node.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = node.Stop(ctx)
	})

	waitFor(t, 2*time.Second, func() bool {
		_, isLeader := node.GetState()
		return isLeader
	}, "single node did not elect itself")

	proposal, err := node.Propose(context.Background(), types.NewAcquireCommand("L1", "C1", "r1", 1, 100, 30100))
	testutil.RequireNoError(t, err)

	select {
	case res := <-proposal.ResultCh:
		testutil.AssertNoError(t, res.Err)
		testutil.AssertEqual(t, types.StatusOK, res.Result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("proposal did not resolve")
	}
	testutil.AssertTrue(t, len(applier.applied()) >= 2, "noop and acquire applied")
}
