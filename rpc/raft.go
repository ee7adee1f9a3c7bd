package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/gaestalt/lockd/types"
)

// RaftServiceName is the fully-qualified gRPC service name for peer RPCs.
const RaftServiceName = "lockd.raft.Raft"

const (
	raftRequestVoteMethod   = "/" + RaftServiceName + "/RequestVote"
	raftAppendEntriesMethod = "/" + RaftServiceName + "/AppendEntries"
)

// RaftServer is the server-side interface of the peer Raft service.
type RaftServer interface {
	RequestVote(ctx context.Context, args *types.RequestVoteArgs) (*types.RequestVoteReply, error)
	AppendEntries(ctx context.Context, args *types.AppendEntriesArgs) (*types.AppendEntriesReply, error)
}

// RegisterRaftServer registers the Raft service implementation on s.
func RegisterRaftServer(s *grpc.Server, srv RaftServer) {
	s.RegisterService(&raftServiceDesc, srv)
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: RaftServiceName,
	HandlerType: (*RaftServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequestVote",
			Handler:    raftRequestVoteHandler,
		},
		{
			MethodName: "AppendEntries",
			Handler:    raftAppendEntriesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpc/raft.go",
}

func raftRequestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.RequestVoteArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: raftRequestVoteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaftServer).RequestVote(ctx, req.(*types.RequestVoteArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func raftAppendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.AppendEntriesArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: raftAppendEntriesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaftServer).AppendEntries(ctx, req.(*types.AppendEntriesArgs))
	}
	return interceptor(ctx, in, info, handler)
}

// RaftClient is the client-side interface of the peer Raft service.
type RaftClient interface {
	RequestVote(ctx context.Context, in *types.RequestVoteArgs, opts ...grpc.CallOption) (*types.RequestVoteReply, error)
	AppendEntries(ctx context.Context, in *types.AppendEntriesArgs, opts ...grpc.CallOption) (*types.AppendEntriesReply, error)
}

type raftClient struct {
	cc grpc.ClientConnInterface
}

// NewRaftClient returns a RaftClient speaking over cc.
func NewRaftClient(cc grpc.ClientConnInterface) RaftClient {
	return &raftClient{cc: cc}
}

func (c *raftClient) RequestVote(ctx context.Context, in *types.RequestVoteArgs, opts ...grpc.CallOption) (*types.RequestVoteReply, error) {
	out := new(types.RequestVoteReply)
	if err := c.cc.Invoke(ctx, raftRequestVoteMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftClient) AppendEntries(ctx context.Context, in *types.AppendEntriesArgs, opts ...grpc.CallOption) (*types.AppendEntriesReply, error) {
	out := new(types.AppendEntriesReply)
	if err := c.cc.Invoke(ctx, raftAppendEntriesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
