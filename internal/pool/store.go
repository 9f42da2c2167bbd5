// store.go - Durable storage interface for the accumulator and the ledger.
//
// The pool only needs a key-value shaped store: leaves by index, nullifier
// records by hash, the absorbed-value set, and the epoch cursor pair. A
// Badger-backed implementation lives in internal/storage/badgerstore; the
// in-memory implementation here backs tests and ephemeral pools.
//
// Implementations signal transient unavailability by wrapping
// ErrStoreUnavailable; the controller retries those with backoff.

package pool

import (
	"math/big"
	"sort"
	"sync"
)

// Store persists pool state across restarts.
type Store interface {
	// PutLeaf records the commitment inserted at the given leaf index.
	PutLeaf(index uint64, leaf *big.Int) error
	// Leaves returns the commitments in [start, end). end may exceed the
	// committed count; the result is truncated, not an error.
	Leaves(start, end uint64) ([]*big.Int, error)
	// LeafCount returns the number of committed leaves.
	LeafCount() (uint64, error)

	// PutSpend stores an individual spend record together with the epoch
	// cursor pair in one atomic write: either both land or neither does,
	// so a restart never replays a record without its cursor advance.
	PutSpend(rec *NullifierRecord, current, earliest uint64) error
	// DeleteNullifier frees an individual spend record's storage.
	DeleteNullifier(hash *big.Int) error
	// Nullifiers returns all individual spend records, in epoch order.
	Nullifiers() ([]*NullifierRecord, error)

	// PutAbsorption records a batch of nullifier hashes folded into the
	// compact accumulator together with the epoch cursor pair, atomically.
	// Absorbed values are never deleted.
	PutAbsorption(values []*big.Int, current, earliest uint64) error
	// Absorbed returns all absorbed nullifier hashes, in insertion order.
	Absorbed() ([]*big.Int, error)

	// Cursors returns the persisted epoch cursor pair.
	Cursors() (current, earliest uint64, err error)

	Close() error
}

// MemoryStore is a Store kept entirely in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	leaves   []*big.Int
	records  map[string]*NullifierRecord
	absorbed []*big.Int
	current  uint64
	earliest uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*NullifierRecord)}
}

func (s *MemoryStore) PutLeaf(index uint64, leaf *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == uint64(len(s.leaves)) {
		s.leaves = append(s.leaves, new(big.Int).Set(leaf))
		return nil
	}
	if index < uint64(len(s.leaves)) {
		s.leaves[index] = new(big.Int).Set(leaf)
		return nil
	}
	return ErrLeafOutOfRange
}

func (s *MemoryStore) Leaves(start, end uint64) ([]*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := uint64(len(s.leaves))
	if start >= n || start >= end {
		return nil, nil
	}
	if end > n {
		end = n
	}
	out := make([]*big.Int, 0, end-start)
	for _, leaf := range s.leaves[start:end] {
		out = append(out, new(big.Int).Set(leaf))
	}
	return out, nil
}

func (s *MemoryStore) LeafCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.leaves)), nil
}

func (s *MemoryStore) PutSpend(rec *NullifierRecord, current, earliest uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.NullifierHash.Text(16)] = rec.clone()
	s.current, s.earliest = current, earliest
	return nil
}

func (s *MemoryStore) DeleteNullifier(hash *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, hash.Text(16))
	return nil
}

func (s *MemoryStore) Nullifiers() ([]*NullifierRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*NullifierRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out, nil
}

func (s *MemoryStore) PutAbsorption(values []*big.Int, current, earliest uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.absorbed = append(s.absorbed, new(big.Int).Set(v))
	}
	s.current, s.earliest = current, earliest
	return nil
}

func (s *MemoryStore) Absorbed() ([]*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*big.Int, 0, len(s.absorbed))
	for _, v := range s.absorbed {
		out = append(out, new(big.Int).Set(v))
	}
	return out, nil
}

func (s *MemoryStore) Cursors() (uint64, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.earliest, nil
}

func (s *MemoryStore) Close() error { return nil }
