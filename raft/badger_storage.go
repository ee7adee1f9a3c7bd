package raft

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gaestalt/lockd/types"
)

var (
	stateKey  = []byte("meta/state")
	logPrefix = []byte("log/")
)

// badgerStorage persists Raft durable state in an embedded badger database.
// Writes are synced before returning, so the node may answer RequestVote
// and acknowledge AppendEntries on the strength of them.
type badgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage opens (or creates) a badger database at dir and returns
// a durable Storage backed by it.
func NewBadgerStorage(dir string) (Storage, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger storage at %q: %w", dir, err)
	}
	return &badgerStorage{db: db}, nil
}

func logKey(idx types.Index) []byte {
	return []byte(fmt.Sprintf("%s%020d", logPrefix, idx))
}

func (b *badgerStorage) LoadState() (types.PersistentState, error) {
	var state types.PersistentState
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &state); err != nil {
				return fmt.Errorf("%w: %v", ErrStorageCorrupted, err)
			}
			return nil
		})
	})
	if err != nil {
		return types.PersistentState{}, err
	}
	return state, nil
}

func (b *badgerStorage) SaveState(state types.PersistentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode persistent state: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, data)
	})
}

func (b *badgerStorage) LoadLog() ([]types.LogEntry, error) {
	var entries []types.LogEntry
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(logPrefix); it.ValidForPrefix(logPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e types.LogEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("%w: %v", ErrStorageCorrupted, err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *badgerStorage) AppendLogEntries(entries []types.LogEntry) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode log entry %d: %w", e.Index, err)
			}
			if err := txn.Set(logKey(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerStorage) TruncateLogSuffix(from types.Index) error {
	var stale [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(logKey(from)); it.ValidForPrefix(logPrefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerStorage) Close() error {
	return b.db.Close()
}
