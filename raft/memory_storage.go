package raft

import (
	"sync"

	"github.com/gaestalt/lockd/types"
)

// memoryStorage keeps Raft durable state in process memory only. It trades
// crash safety for zero I/O.
type memoryStorage struct {
	mu      sync.Mutex
	state   types.PersistentState
	entries []types.LogEntry
}

// NewMemoryStorage returns a Storage that persists nothing across restarts.
func NewMemoryStorage() Storage {
	return &memoryStorage{}
}

func (m *memoryStorage) LoadState() (types.PersistentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *memoryStorage) SaveState(state types.PersistentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

func (m *memoryStorage) LoadLog() ([]types.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.LogEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memoryStorage) AppendLogEntries(entries []types.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memoryStorage) TruncateLogSuffix(from types.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.Index >= from {
			m.entries = m.entries[:i]
			break
		}
	}
	return nil
}

func (m *memoryStorage) Close() error {
	return nil
}
