package server

import (
	"github.com/gaestalt/lockd/rpc"
	"github.com/gaestalt/lockd/types"
)

// requestValidator rejects malformed requests before they reach consensus.
type requestValidator struct {
	maxIDLength int
}

func newRequestValidator(maxIDLength int) *requestValidator {
	return &requestValidator{maxIDLength: maxIDLength}
}

func (v *requestValidator) validateLockID(id types.LockID) error {
	if id == "" {
		return NewValidationError("lock_id", id, "must not be empty")
	}
	if len(id) > v.maxIDLength {
		return NewValidationError("lock_id", id, "exceeds maximum length")
	}
	return nil
}

func (v *requestValidator) validateClientID(id types.ClientID) error {
	if id == "" {
		return NewValidationError("client_id", id, "must not be empty")
	}
	if len(id) > v.maxIDLength {
		return NewValidationError("client_id", id, "exceeds maximum length")
	}
	return nil
}

func (v *requestValidator) validateToken(token types.FencingToken) error {
	if token <= 0 {
		return NewValidationError("fencing_token", token, "must be positive")
	}
	return nil
}

func (v *requestValidator) validateAcquire(req *rpc.AcquireRequest) error {
	if err := v.validateLockID(req.LockID); err != nil {
		return err
	}
	return v.validateClientID(req.ClientID)
}

func (v *requestValidator) validateRelease(req *rpc.ReleaseRequest) error {
	if err := v.validateLockID(req.LockID); err != nil {
		return err
	}
	if err := v.validateClientID(req.ClientID); err != nil {
		return err
	}
	return v.validateToken(req.Token)
}

func (v *requestValidator) validateCheck(req *rpc.CheckRequest) error {
	return v.validateLockID(req.LockID)
}

func (v *requestValidator) validateExtend(req *rpc.ExtendRequest) error {
	if err := v.validateLockID(req.LockID); err != nil {
		return err
	}
	if err := v.validateClientID(req.ClientID); err != nil {
		return err
	}
	return v.validateToken(req.Token)
}
