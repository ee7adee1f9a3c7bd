package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/gaestalt/lockd/types"
)

// RegionServiceName is the fully-qualified gRPC service name regional
// leaders expose to each other.
const RegionServiceName = "lockd.region.Region"

const (
	regionProposeMethod = "/" + RegionServiceName + "/Propose"
	regionConfirmMethod = "/" + RegionServiceName + "/Confirm"
)

// RegionVote is a regional leader's answer to a cross-region proposal.
type RegionVote string

const (
	// VoteYes means the region has no conflicting holder and agrees to
	// record the acquisition.
	VoteYes RegionVote = "YES"

	// VoteNo means the region declines without naming a conflicting holder.
	VoteNo RegionVote = "NO"

	// VoteConflict means the region knows a live conflicting holder, named
	// in the response.
	VoteConflict RegionVote = "CONFLICT"
)

// RegionDecision closes a cross-region proposal.
type RegionDecision string

const (
	// DecisionCommit records the acquisition as an advisory entry.
	DecisionCommit RegionDecision = "COMMIT"

	// DecisionAbort discards the pending proposal.
	DecisionAbort RegionDecision = "ABORT"
)

// ProposeRequest is the first phase of the cross-region exchange: the
// origin region asks each peer leader whether it may record an acquisition.
type ProposeRequest struct {
	LockID       types.LockID       `json:"lock_id"`
	HolderID     types.ClientID     `json:"holder_client_id"`
	OriginRegion types.RegionID     `json:"origin_region"`
	Token        types.FencingToken `json:"fencing_token"`
	ExpiresAt    int64              `json:"expires_at"`
}

// ProposeResponse carries the region's vote. KnownHolder and KnownRegion
// are set when the vote is CONFLICT.
type ProposeResponse struct {
	Vote        RegionVote     `json:"vote"`
	KnownHolder types.ClientID `json:"known_holder,omitempty"`
	KnownRegion types.RegionID `json:"known_region,omitempty"`
}

// ConfirmRequest is the second phase: commit or abort the proposal.
type ConfirmRequest struct {
	LockID   types.LockID       `json:"lock_id"`
	Token    types.FencingToken `json:"fencing_token"`
	Decision RegionDecision     `json:"decision"`
}

// ConfirmResponse acknowledges the confirmation.
type ConfirmResponse struct {
	Acked bool `json:"acked"`
}

// RegionServer is the server-side interface of the inter-region service.
type RegionServer interface {
	Propose(ctx context.Context, req *ProposeRequest) (*ProposeResponse, error)
	Confirm(ctx context.Context, req *ConfirmRequest) (*ConfirmResponse, error)
}

// RegisterRegionServer registers the inter-region service implementation on s.
func RegisterRegionServer(s *grpc.Server, srv RegionServer) {
	s.RegisterService(&regionServiceDesc, srv)
}

var regionServiceDesc = grpc.ServiceDesc{
	ServiceName: RegionServiceName,
	HandlerType: (*RegionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Propose", Handler: regionProposeHandler},
		{MethodName: "Confirm", Handler: regionConfirmHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpc/region.go",
}

func regionProposeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProposeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegionServer).Propose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: regionProposeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RegionServer).Propose(ctx, req.(*ProposeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func regionConfirmHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ConfirmRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegionServer).Confirm(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: regionConfirmMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RegionServer).Confirm(ctx, req.(*ConfirmRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegionClient is the client-side interface of the inter-region service.
type RegionClient interface {
	Propose(ctx context.Context, in *ProposeRequest, opts ...grpc.CallOption) (*ProposeResponse, error)
	Confirm(ctx context.Context, in *ConfirmRequest, opts ...grpc.CallOption) (*ConfirmResponse, error)
}

type regionClient struct {
	cc grpc.ClientConnInterface
}

// NewRegionClient returns a RegionClient speaking over cc.
func NewRegionClient(cc grpc.ClientConnInterface) RegionClient {
	return &regionClient{cc: cc}
}

func (c *regionClient) Propose(ctx context.Context, in *ProposeRequest, opts ...grpc.CallOption) (*ProposeResponse, error) {
	out := new(ProposeResponse)
	if err := c.cc.Invoke(ctx, regionProposeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *regionClient) Confirm(ctx context.Context, in *ConfirmRequest, opts ...grpc.CallOption) (*ConfirmResponse, error) {
	out := new(ConfirmResponse)
	if err := c.cc.Invoke(ctx, regionConfirmMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
