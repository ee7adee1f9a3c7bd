package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/gaestalt/lockd/types"
)

// LockServiceName is the fully-qualified gRPC service name clients call.
const LockServiceName = "lockd.lock.LockService"

const (
	lockAcquireMethod = "/" + LockServiceName + "/Acquire"
	lockReleaseMethod = "/" + LockServiceName + "/Release"
	lockCheckMethod   = "/" + LockServiceName + "/Check"
	lockExtendMethod  = "/" + LockServiceName + "/Extend"
)

// AcquireRequest asks for exclusive ownership of a lock.
type AcquireRequest struct {
	LockID   types.LockID   `json:"lock_id"`
	ClientID types.ClientID `json:"client_id"`

	// TimeoutMillis is the requested lease duration. Values <= 0 take the
	// server default; others are clamped to the configured bounds.
	TimeoutMillis int64 `json:"timeout_ms"`
}

// AcquireResponse carries the acquisition outcome. Token and ExpiresAt are
// set only on OK.
type AcquireResponse struct {
	Status    types.LockStatus   `json:"status"`
	Token     types.FencingToken `json:"fencing_token,omitempty"`
	ExpiresAt int64              `json:"expires_at,omitempty"`
	Message   string             `json:"message,omitempty"`

	// LeaderHint names the current leader's client address when the status
	// is NOT_LEADER and a leader is known.
	LeaderHint string `json:"leader_hint,omitempty"`
}

// ReleaseRequest relinquishes a lock, fenced by the holder's token.
type ReleaseRequest struct {
	LockID   types.LockID       `json:"lock_id"`
	ClientID types.ClientID     `json:"client_id"`
	Token    types.FencingToken `json:"fencing_token"`
}

// ReleaseResponse carries the release outcome.
type ReleaseResponse struct {
	Status     types.LockStatus `json:"status"`
	Message    string           `json:"message,omitempty"`
	LeaderHint string           `json:"leader_hint,omitempty"`
}

// CheckRequest queries a lock's current holder.
type CheckRequest struct {
	LockID types.LockID `json:"lock_id"`
}

// CheckResponse describes the holder of a lock, when one exists.
type CheckResponse struct {
	Status          types.LockStatus   `json:"status"`
	Holder          types.ClientID     `json:"holder,omitempty"`
	Region          types.RegionID     `json:"region,omitempty"`
	Token           types.FencingToken `json:"fencing_token,omitempty"`
	ExpiresAt       int64              `json:"expires_at,omitempty"`
	RemainingMillis int64              `json:"remaining_ms,omitempty"`
	LeaderHint      string             `json:"leader_hint,omitempty"`
}

// ExtendRequest moves a held lock's expiry forward, fenced by the token.
type ExtendRequest struct {
	LockID   types.LockID       `json:"lock_id"`
	ClientID types.ClientID     `json:"client_id"`
	Token    types.FencingToken `json:"fencing_token"`

	// TimeoutMillis is the new lease duration measured from the leader's
	// current wall clock, normalized like an acquire timeout.
	TimeoutMillis int64 `json:"timeout_ms"`
}

// ExtendResponse carries the extension outcome.
type ExtendResponse struct {
	Status     types.LockStatus `json:"status"`
	ExpiresAt  int64            `json:"expires_at,omitempty"`
	Message    string           `json:"message,omitempty"`
	LeaderHint string           `json:"leader_hint,omitempty"`
}

// LockServiceServer is the server-side interface of the lock service.
type LockServiceServer interface {
	Acquire(ctx context.Context, req *AcquireRequest) (*AcquireResponse, error)
	Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error)
	Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error)
	Extend(ctx context.Context, req *ExtendRequest) (*ExtendResponse, error)
}

// RegisterLockServiceServer registers the lock service implementation on s.
func RegisterLockServiceServer(s *grpc.Server, srv LockServiceServer) {
	s.RegisterService(&lockServiceDesc, srv)
}

var lockServiceDesc = grpc.ServiceDesc{
	ServiceName: LockServiceName,
	HandlerType: (*LockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Acquire", Handler: lockAcquireHandler},
		{MethodName: "Release", Handler: lockReleaseHandler},
		{MethodName: "Check", Handler: lockCheckHandler},
		{MethodName: "Extend", Handler: lockExtendHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpc/lock.go",
}

func lockAcquireHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AcquireRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).Acquire(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lockAcquireMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).Acquire(ctx, req.(*AcquireRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lockReleaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReleaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).Release(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lockReleaseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).Release(ctx, req.(*ReleaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lockCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lockCheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).Check(ctx, req.(*CheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lockExtendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExtendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).Extend(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lockExtendMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).Extend(ctx, req.(*ExtendRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// LockServiceClient is the client-side interface of the lock service.
type LockServiceClient interface {
	Acquire(ctx context.Context, in *AcquireRequest, opts ...grpc.CallOption) (*AcquireResponse, error)
	Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ReleaseResponse, error)
	Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error)
	Extend(ctx context.Context, in *ExtendRequest, opts ...grpc.CallOption) (*ExtendResponse, error)
}

type lockServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLockServiceClient returns a LockServiceClient speaking over cc.
func NewLockServiceClient(cc grpc.ClientConnInterface) LockServiceClient {
	return &lockServiceClient{cc: cc}
}

func (c *lockServiceClient) Acquire(ctx context.Context, in *AcquireRequest, opts ...grpc.CallOption) (*AcquireResponse, error) {
	out := new(AcquireResponse)
	if err := c.cc.Invoke(ctx, lockAcquireMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lockServiceClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ReleaseResponse, error) {
	out := new(ReleaseResponse)
	if err := c.cc.Invoke(ctx, lockReleaseMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lockServiceClient) Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error) {
	out := new(CheckResponse)
	if err := c.cc.Invoke(ctx, lockCheckMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lockServiceClient) Extend(ctx context.Context, in *ExtendRequest, opts ...grpc.CallOption) (*ExtendResponse, error) {
	out := new(ExtendResponse)
	if err := c.cc.Invoke(ctx, lockExtendMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
