package raft

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/gaestalt/lockd/logger"
	"github.com/gaestalt/lockd/rpc"
	"github.com/gaestalt/lockd/types"
)

// grpcNetworkManager implements NetworkManager over gRPC. It runs the
// local peer-facing server and maintains one lazily-dialed client
// connection per peer.
type grpcNetworkManager struct {
	id        types.NodeID
	localAddr string
	peerAddrs map[types.NodeID]string

	handler rpcHandler
	logger  logger.Logger

	mu          sync.Mutex
	peerClients map[types.NodeID]*peerConn

	server     *grpc.Server
	listener   net.Listener
	isShutdown atomic.Bool
}

type peerConn struct {
	conn   *grpc.ClientConn
	client rpc.RaftClient
}

// NewGRPCNetworkManager builds the gRPC transport for the given node.
// handler receives incoming peer RPCs; peers maps every group member
// (including the local node) to its Raft address.
func NewGRPCNetworkManager(id types.NodeID, peers map[types.NodeID]string, handler Raft, log logger.Logger) (NetworkManager, error) {
	localAddr, ok := peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: no address configured for local node %q", ErrConfigValidation, id)
	}
	addrs := make(map[types.NodeID]string, len(peers))
	for nodeID, addr := range peers {
		if nodeID != id {
			addrs[nodeID] = addr
		}
	}
	return &grpcNetworkManager{
		id:          id,
		localAddr:   localAddr,
		peerAddrs:   addrs,
		handler:     handler,
		logger:      log.WithComponent("network"),
		peerClients: make(map[types.NodeID]*peerConn),
	}, nil
}

// Start begins serving peer RPCs on the local address.
func (nm *grpcNetworkManager) Start() error {
	lis, err := net.Listen("tcp", nm.localAddr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", nm.localAddr, err)
	}
	nm.listener = lis

	nm.server = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second,
			Timeout: 3 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	rpc.RegisterRaftServer(nm.server, &raftServiceAdapter{handler: nm.handler, shutdown: &nm.isShutdown})

	go func() {
		if err := nm.server.Serve(lis); err != nil && !nm.isShutdown.Load() {
			nm.logger.Errorw("Peer RPC server stopped unexpectedly", "error", err)
		}
	}()

	nm.logger.Infow("Peer RPC server listening", "addr", nm.localAddr)
	return nil
}

// Stop shuts down the server and closes peer connections.
func (nm *grpcNetworkManager) Stop() error {
	if !nm.isShutdown.CompareAndSwap(false, true) {
		return nil
	}
	if nm.server != nil {
		nm.server.Stop()
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()
	for id, pc := range nm.peerClients {
		if err := pc.conn.Close(); err != nil {
			nm.logger.Warnw("Error closing peer connection", "peer", id, "error", err)
		}
		delete(nm.peerClients, id)
	}
	return nil
}

// SendRequestVote sends a RequestVote RPC to the target peer.
func (nm *grpcNetworkManager) SendRequestVote(ctx context.Context, target types.NodeID, args *types.RequestVoteArgs) (*types.RequestVoteReply, error) {
	client, err := nm.getClient(target)
	if err != nil {
		return nil, err
	}
	return client.RequestVote(ctx, args)
}

// SendAppendEntries sends an AppendEntries RPC to the target peer.
func (nm *grpcNetworkManager) SendAppendEntries(ctx context.Context, target types.NodeID, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error) {
	client, err := nm.getClient(target)
	if err != nil {
		return nil, err
	}
	return client.AppendEntries(ctx, args)
}

// LocalAddr returns the local listen address.
func (nm *grpcNetworkManager) LocalAddr() string {
	return nm.localAddr
}

// getClient returns the cached client for a peer, dialing on first use.
func (nm *grpcNetworkManager) getClient(target types.NodeID) (rpc.RaftClient, error) {
	if nm.isShutdown.Load() {
		return nil, ErrShuttingDown
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	if pc, ok := nm.peerClients[target]; ok {
		return pc.client, nil
	}
	addr, ok := nm.peerAddrs[target]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPeerNotFound, target)
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial peer %q at %q: %w", target, addr, err)
	}

	pc := &peerConn{conn: conn, client: rpc.NewRaftClient(conn)}
	nm.peerClients[target] = pc
	return pc.client, nil
}

// raftServiceAdapter bridges incoming gRPC calls to the consensus handler,
// refusing traffic once shutdown has begun.
type raftServiceAdapter struct {
	handler  rpcHandler
	shutdown *atomic.Bool
}

func (a *raftServiceAdapter) RequestVote(ctx context.Context, args *types.RequestVoteArgs) (*types.RequestVoteReply, error) {
	if a.shutdown.Load() {
		return nil, ErrShuttingDown
	}
	return a.handler.RequestVote(ctx, args)
}

func (a *raftServiceAdapter) AppendEntries(ctx context.Context, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error) {
	if a.shutdown.Load() {
		return nil, ErrShuttingDown
	}
	return a.handler.AppendEntries(ctx, args)
}
