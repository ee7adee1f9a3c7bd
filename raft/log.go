package raft

import (
	"github.com/gaestalt/lockd/types"
)

// raftLog is the in-memory replicated log: an ordered, 1-indexed sequence
// of entries. It is not safe for concurrent use; callers hold the node's
// state lock.
type raftLog struct {
	entries []types.LogEntry // entries[0] has Index 1
}

func newRaftLog(entries []types.LogEntry) *raftLog {
	return &raftLog{entries: entries}
}

// LastIndex returns the index of the last entry, or 0 for an empty log.
func (l *raftLog) LastIndex() types.Index {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Index
}

// LastTerm returns the term of the last entry, or 0 for an empty log.
func (l *raftLog) LastTerm() types.Term {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// TermAt returns the term of the entry at idx. Index 0 has term 0.
// The second return is false when idx is out of range.
func (l *raftLog) TermAt(idx types.Index) (types.Term, bool) {
	if idx == 0 {
		return 0, true
	}
	if idx > l.LastIndex() {
		return 0, false
	}
	return l.entries[idx-1].Term, true
}

// EntryAt returns the entry at idx. The second return is false when idx is
// out of range.
func (l *raftLog) EntryAt(idx types.Index) (types.LogEntry, bool) {
	if idx == 0 || idx > l.LastIndex() {
		return types.LogEntry{}, false
	}
	return l.entries[idx-1], true
}

// Slice returns a copy of entries in [lo, hi). hi is clamped to the end of
// the log. Returns nil when the range is empty.
func (l *raftLog) Slice(lo, hi types.Index) []types.LogEntry {
	last := l.LastIndex()
	if hi > last+1 {
		hi = last + 1
	}
	if lo == 0 || lo >= hi {
		return nil
	}
	out := make([]types.LogEntry, hi-lo)
	copy(out, l.entries[lo-1:hi-1])
	return out
}

// Append adds entries to the end of the log. Entries must be contiguous
// with the existing log; the caller guarantees index assignment.
func (l *raftLog) Append(entries ...types.LogEntry) {
	l.entries = append(l.entries, entries...)
}

// TruncateSuffix removes all entries with index >= from. It is used when a
// follower's uncommitted suffix conflicts with the leader's log.
func (l *raftLog) TruncateSuffix(from types.Index) {
	if from == 0 || from > l.LastIndex() {
		return
	}
	l.entries = l.entries[:from-1]
}

// FirstIndexOfTerm returns the first index carrying the given term, or 0 if
// the term does not appear. Used to build conflict hints.
func (l *raftLog) FirstIndexOfTerm(term types.Term) types.Index {
	for _, e := range l.entries {
		if e.Term == term {
			return e.Index
		}
		if e.Term > term {
			break
		}
	}
	return 0
}

// LastIndexOfTerm returns the last index carrying the given term, or 0 if
// the term does not appear. Used by the leader to resolve conflict hints.
func (l *raftLog) LastIndexOfTerm(term types.Term) types.Index {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Term == term {
			return l.entries[i].Index
		}
		if l.entries[i].Term < term {
			break
		}
	}
	return 0
}
