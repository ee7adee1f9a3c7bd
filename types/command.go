package types

import (
	"encoding/json"
	"fmt"
)

// Command is the typed payload of an ACQUIRE, RELEASE or EXTEND log entry.
// The applier decodes it from LogEntry.Command and mutates the lock store;
// it must round-trip identically on every node for apply determinism.
type Command struct {
	Type     EntryType    `json:"type"`
	LockID   LockID       `json:"lock_id"`
	ClientID ClientID     `json:"client_id,omitempty"`
	RegionID RegionID     `json:"region_id,omitempty"`
	Token    FencingToken `json:"fencing_token"`

	// ExpiresAt is set for ACQUIRE and EXTEND: the leader-assigned absolute
	// lease expiry in Unix milliseconds.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// AcquiredAt is set for ACQUIRE: the leader's wall clock at proposal.
	// Carried in the command so every replica records the same value.
	AcquiredAt int64 `json:"acquired_at,omitempty"`
}

// Encode serializes the command for inclusion in a log entry.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s command for lock %q: %w", c.Type, c.LockID, err)
	}
	return data, nil
}

// DecodeCommand deserializes a log entry payload back into a Command.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if c.LockID == "" {
		return Command{}, fmt.Errorf("decode command: empty lock_id")
	}
	return c, nil
}

// NewAcquireCommand builds the payload of an ACQUIRE entry.
func NewAcquireCommand(lockID LockID, clientID ClientID, regionID RegionID, token FencingToken, acquiredAt, expiresAt int64) Command {
	return Command{
		Type:       EntryAcquire,
		LockID:     lockID,
		ClientID:   clientID,
		RegionID:   regionID,
		Token:      token,
		AcquiredAt: acquiredAt,
		ExpiresAt:  expiresAt,
	}
}

// NewReleaseCommand builds the payload of a RELEASE entry.
func NewReleaseCommand(lockID LockID, token FencingToken) Command {
	return Command{
		Type:   EntryRelease,
		LockID: lockID,
		Token:  token,
	}
}

// NewExtendCommand builds the payload of an EXTEND entry.
func NewExtendCommand(lockID LockID, token FencingToken, expiresAt int64) Command {
	return Command{
		Type:      EntryExtend,
		LockID:    lockID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
}
