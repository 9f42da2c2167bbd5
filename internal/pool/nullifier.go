// nullifier.go - Nullifier epoch ledger: double-spend registry with
// storage-bounded reclamation.
//
// Every successful withdrawal writes one individual spend record tagged
// with the epoch at which it was created. Left alone, those records would
// have to live forever, an O(transactions) storage cost. The epoch scheme
// removes that cost without weakening the double-spend guarantee: a
// proven batch absorption folds a range of records into the compact
// indexed accumulator and advances the earliest-provable cursor past them,
// after which the individual records are redundant and may be reclaimed.
//
// Record lifecycle: created -> pending absorption -> absorbed
// (epoch < earliestProvable) -> reclaimed (storage freed). The spent-ness
// check always consults both the record set and the compact accumulator,
// so a reclaimed record can never be spent a second time.

package pool

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// NullifierRecord is one individual spend record.
type NullifierRecord struct {
	NullifierHash *big.Int
	Epoch         uint64
	SpentAt       time.Time
}

func (r *NullifierRecord) clone() *NullifierRecord {
	return &NullifierRecord{
		NullifierHash: new(big.Int).Set(r.NullifierHash),
		Epoch:         r.Epoch,
		SpentAt:       r.SpentAt,
	}
}

// BatchVerifier is the oracle capability attesting that a batch of pending
// nullifiers is correctly folded into the compact accumulator. The fold
// itself is deterministic given the accumulator root and the batch digest,
// so those two values plus the target epoch bind the proof completely.
type BatchVerifier interface {
	VerifyAbsorption(proof []byte, accumulatorRoot, batchDigest *big.Int, upToEpoch uint64) error
}

// BatchDigest chains the batch's nullifier hashes into a single field
// element: d_0 = 0, d_i = H(d_{i-1}, n_i). The absorption circuit
// recomputes the same chain.
func BatchDigest(nullifiers []*big.Int) *big.Int {
	digest := new(big.Int)
	for _, n := range nullifiers {
		digest = hash2(digest, n)
	}
	return digest
}

// EpochLedger tracks spent nullifiers and their reclamation lifecycle.
type EpochLedger struct {
	mu          sync.Mutex
	records     map[string]*NullifierRecord
	current     uint64 // epoch assigned to the next spend record
	earliest    uint64 // records below this epoch are provably absorbed
	compact     *IndexedAccumulator
	verifier    BatchVerifier
	store       Store
	rentDeposit uint64
}

// NewEpochLedger creates a ledger backed by the given store, replaying any
// persisted records, absorbed values and cursors.
func NewEpochLedger(compactDepth int, store Store, verifier BatchVerifier, rentDeposit uint64) (*EpochLedger, error) {
	l := &EpochLedger{
		records:     make(map[string]*NullifierRecord),
		compact:     NewIndexedAccumulator(compactDepth),
		verifier:    verifier,
		store:       store,
		rentDeposit: rentDeposit,
	}

	current, earliest, err := store.Cursors()
	if err != nil {
		return nil, fmt.Errorf("ledger replay: %w", err)
	}
	l.current, l.earliest = current, earliest

	absorbed, err := store.Absorbed()
	if err != nil {
		return nil, fmt.Errorf("ledger replay: %w", err)
	}
	for _, v := range absorbed {
		if err := l.compact.Insert(v); err != nil {
			return nil, fmt.Errorf("ledger replay: %w", err)
		}
	}

	records, err := store.Nullifiers()
	if err != nil {
		return nil, fmt.Errorf("ledger replay: %w", err)
	}
	for _, rec := range records {
		l.records[rec.NullifierHash.Text(16)] = rec
	}
	return l, nil
}

// CurrentEpoch returns the epoch the next spend record will be tagged with.
func (l *EpochLedger) CurrentEpoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// EarliestProvableEpoch returns the absorption cursor. Records with a
// strictly smaller epoch are covered by the compact accumulator.
func (l *EpochLedger) EarliestProvableEpoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.earliest
}

// IsSpent reports whether the nullifier hash has ever been accepted, in
// any record state including reclaimed.
func (l *EpochLedger) IsSpent(nullifierHash *big.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isSpentLocked(nullifierHash)
}

func (l *EpochLedger) isSpentLocked(nullifierHash *big.Int) bool {
	if _, ok := l.records[nullifierHash.Text(16)]; ok {
		return true
	}
	return l.compact.Contains(nullifierHash)
}

// RecordSpend writes the spend record for a nullifier hash and returns the
// epoch it was tagged with. The double-spend check and the record write are
// a single critical section; the controller extends that section to cover
// fund release.
func (l *EpochLedger) RecordSpend(nullifierHash *big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isSpentLocked(nullifierHash) {
		return 0, ErrNullifierAlreadySpent
	}
	rec := &NullifierRecord{
		NullifierHash: new(big.Int).Set(nullifierHash),
		Epoch:         l.current,
		SpentAt:       time.Now().UTC(),
	}
	// Record and cursor advance are one atomic store write: a failure here
	// persists neither, so a replay after a failed withdrawal never finds a
	// record for funds that were never released.
	if err := l.store.PutSpend(rec, l.current+1, l.earliest); err != nil {
		return 0, fmt.Errorf("persist spend record: %w", err)
	}
	l.records[nullifierHash.Text(16)] = rec
	l.current++
	return rec.Epoch, nil
}

// rollbackSpend undoes a spend record whose fund release failed, so the
// withdrawal as a whole leaves no state behind. The epoch guard keeps a
// rollback from racing an absorption that already covered the record.
func (l *EpochLedger) rollbackSpend(nullifierHash *big.Int, epoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[nullifierHash.Text(16)]
	if !ok || rec.Epoch != epoch || epoch < l.earliest {
		return
	}
	if err := l.store.DeleteNullifier(nullifierHash); err != nil {
		return
	}
	delete(l.records, nullifierHash.Text(16))
}

// AbsorbBatch verifies that all pending records in [earliest, upToEpoch)
// are correctly folded into the compact accumulator, applies the fold and
// advances the cursor. Replays that do not extend the cursor are no-ops,
// not errors; a target beyond the current epoch is rejected.
//
// Proof verification runs outside the ledger lock so a slow oracle never
// blocks withdrawals; only the snapshot and the cursor advance are
// critical sections. Returns true when the cursor advanced.
func (l *EpochLedger) AbsorbBatch(proof []byte, upToEpoch uint64) (bool, error) {
	l.mu.Lock()
	if upToEpoch <= l.earliest {
		l.mu.Unlock()
		return false, nil
	}
	if upToEpoch > l.current {
		l.mu.Unlock()
		return false, ErrEpochOutOfRange
	}
	from := l.earliest
	batch := l.pendingInRangeLocked(from, upToEpoch)
	oldRoot := l.compact.Root()
	l.mu.Unlock()

	digest := BatchDigest(batch)
	if err := l.verifier.VerifyAbsorption(proof, oldRoot, digest, upToEpoch); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.earliest != from {
		// A concurrent absorption changed the batch composition; the
		// caller must rebuild against the new cursor.
		return false, ErrAbsorptionConflict
	}
	// Every failure mode of the fold is checked before anything mutates,
	// and persistence is one atomic write. A transient store failure
	// therefore leaves memory and disk exactly as they were and the same
	// absorption can simply be retried.
	for _, n := range batch {
		if l.compact.Contains(n) {
			return false, fmt.Errorf("fold nullifier into compact accumulator: %w", ErrNullifierAlreadySpent)
		}
	}
	if !l.compact.hasRoom(len(batch)) {
		return false, ErrAccumulatorFull
	}
	if err := l.store.PutAbsorption(batch, l.current, upToEpoch); err != nil {
		return false, fmt.Errorf("persist absorption: %w", err)
	}
	for _, n := range batch {
		l.compact.insert(n)
	}
	l.earliest = upToEpoch
	return true, nil
}

// pendingInRangeLocked returns the nullifier hashes of records with epoch
// in [from, to), in epoch order.
func (l *EpochLedger) pendingInRangeLocked(from, to uint64) []*big.Int {
	byEpoch := make(map[uint64]*big.Int)
	for _, rec := range l.records {
		if rec.Epoch >= from && rec.Epoch < to {
			byEpoch[rec.Epoch] = rec.NullifierHash
		}
	}
	out := make([]*big.Int, 0, len(byEpoch))
	for e := from; e < to; e++ {
		if n, ok := byEpoch[e]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Reclaim frees the individual record for an absorbed nullifier and
// returns the storage deposit owed to the reclaimer. Reclamation is
// permitted only once the record's epoch is strictly below the cursor;
// anything else fails and leaves state unchanged.
func (l *EpochLedger) Reclaim(nullifierHash *big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[nullifierHash.Text(16)]
	if !ok {
		return 0, ErrUnknownNullifier
	}
	if rec.Epoch >= l.earliest {
		return 0, ErrReclaimTooEarly
	}
	if err := l.store.DeleteNullifier(nullifierHash); err != nil {
		return 0, fmt.Errorf("free nullifier record: %w", err)
	}
	delete(l.records, nullifierHash.Text(16))
	return l.rentDeposit, nil
}

// PendingRecords returns the number of individual records not yet
// reclaimed; the bounded-storage property says this stays proportional to
// the absorption lag, not to total transactions.
func (l *EpochLedger) PendingRecords() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// CompactRoot returns the compact accumulator root.
func (l *EpochLedger) CompactRoot() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compact.Root()
}
