package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/types"
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// statusFromProposalErr maps consensus-layer failures to the flat response
// status. Internal failures never escape as errors; they become ERROR.
func statusFromProposalErr(err error) types.LockStatus {
	switch {
	case errors.Is(err, raft.ErrNotLeader):
		return types.StatusNotLeader
	case errors.Is(err, raft.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.StatusTimeout
	default:
		return types.StatusError
	}
}
