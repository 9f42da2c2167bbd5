// store.go - BadgerDB-backed implementation of pool.Store.
//
// Key layout (all integers big-endian so key order matches insertion order):
//
//	leaf:<index u64>   -> 48-byte commitment
//	null:<hash 48B>    -> epoch u64 || spent-at unix-nano i64
//	abs:<seq u64>      -> 48-byte absorbed nullifier hash
//	meta:leafcount     -> u64
//	meta:abscount      -> u64
//	meta:cursors       -> current u64 || earliest u64
//
// IO failures are wrapped with pool.ErrStoreUnavailable so the controller's
// retry loop can distinguish them from semantic errors.

package badgerstore

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	"shieldedpool/internal/pool"
)

const valueSize = 48

var (
	prefixLeaf     = []byte("leaf:")
	prefixNull     = []byte("null:")
	prefixAbsorbed = []byte("abs:")
	keyLeafCount   = []byte("meta:leafcount")
	keyAbsCount    = []byte("meta:abscount")
	keyCursors     = []byte("meta:cursors")
)

// Store is a durable pool.Store backed by a BadgerDB instance.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (or creates) the store at dir.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", pool.ErrStoreUnavailable, dir, err)
	}
	return &Store{db: db, log: log}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", pool.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) PutLeaf(index uint64, leaf *big.Int) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		count, err := readUint64(txn, keyLeafCount)
		if err != nil {
			return err
		}
		if index > count {
			return pool.ErrLeafOutOfRange
		}
		if err := txn.Set(leafKey(index), fieldBytes(leaf)); err != nil {
			return err
		}
		if index == count {
			return txn.Set(keyLeafCount, u64Bytes(count+1))
		}
		return nil
	})
	return s.wrap("put leaf", err)
}

func (s *Store) Leaves(start, end uint64) ([]*big.Int, error) {
	var out []*big.Int
	err := s.db.View(func(txn *badger.Txn) error {
		count, err := readUint64(txn, keyLeafCount)
		if err != nil {
			return err
		}
		if start >= count || start >= end {
			return nil
		}
		if end > count {
			end = count
		}
		out = make([]*big.Int, 0, end-start)
		for i := start; i < end; i++ {
			v, err := readValue(txn, leafKey(i))
			if err != nil {
				return err
			}
			out = append(out, new(big.Int).SetBytes(v))
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("read leaves", err)
	}
	return out, nil
}

func (s *Store) LeafCount() (uint64, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readUint64(txn, keyLeafCount)
		return err
	})
	if err != nil {
		return 0, s.wrap("read leaf count", err)
	}
	return count, nil
}

// PutSpend writes the record and the cursor pair inside one transaction,
// so a crash or IO failure can never persist one without the other.
func (s *Store) PutSpend(rec *pool.NullifierRecord, current, earliest uint64) error {
	val := make([]byte, 16)
	binary.BigEndian.PutUint64(val[:8], rec.Epoch)
	binary.BigEndian.PutUint64(val[8:], uint64(rec.SpentAt.UnixNano()))
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(nullKey(rec.NullifierHash), val); err != nil {
			return err
		}
		return txn.Set(keyCursors, cursorBytes(current, earliest))
	})
	return s.wrap("put spend", err)
}

func (s *Store) DeleteNullifier(hash *big.Int) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(nullKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	return s.wrap("delete nullifier", err)
}

func (s *Store) Nullifiers() ([]*pool.NullifierRecord, error) {
	var out []*pool.NullifierRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixNull})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			hash := new(big.Int).SetBytes(item.Key()[len(prefixNull):])
			rec := &pool.NullifierRecord{NullifierHash: hash}
			err := item.Value(func(v []byte) error {
				rec.Epoch = binary.BigEndian.Uint64(v[:8])
				rec.SpentAt = time.Unix(0, int64(binary.BigEndian.Uint64(v[8:])))
				return nil
			})
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("read nullifiers", err)
	}
	sortRecordsByEpoch(out)
	return out, nil
}

// PutAbsorption persists the batch's absorbed values and the cursor pair in
// one transaction: either the whole absorption lands or none of it does.
func (s *Store) PutAbsorption(values []*big.Int, current, earliest uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		seq, err := readUint64(txn, keyAbsCount)
		if err != nil {
			return err
		}
		for _, v := range values {
			if err := txn.Set(absKey(seq), fieldBytes(v)); err != nil {
				return err
			}
			seq++
		}
		if err := txn.Set(keyAbsCount, u64Bytes(seq)); err != nil {
			return err
		}
		return txn.Set(keyCursors, cursorBytes(current, earliest))
	})
	return s.wrap("put absorption", err)
}

func (s *Store) Absorbed() ([]*big.Int, error) {
	var out []*big.Int
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixAbsorbed})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, new(big.Int).SetBytes(v))
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("read absorbed", err)
	}
	return out, nil
}

func (s *Store) Cursors() (uint64, uint64, error) {
	var current, earliest uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCursors)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			current = binary.BigEndian.Uint64(v[:8])
			earliest = binary.BigEndian.Uint64(v[8:])
			return nil
		})
	})
	if err != nil {
		return 0, 0, s.wrap("read cursors", err)
	}
	return current, earliest, nil
}

// wrap tags IO errors as transient; semantic errors pass through unchanged.
func (s *Store) wrap(op string, err error) error {
	if err == nil || err == pool.ErrLeafOutOfRange {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Msg("badger store failure")
	return fmt.Errorf("%w: %s: %v", pool.ErrStoreUnavailable, op, err)
}

func leafKey(index uint64) []byte {
	return append(append([]byte{}, prefixLeaf...), u64Bytes(index)...)
}

func nullKey(hash *big.Int) []byte {
	return append(append([]byte{}, prefixNull...), fieldBytes(hash)...)
}

func absKey(seq uint64) []byte {
	return append(append([]byte{}, prefixAbsorbed...), u64Bytes(seq)...)
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func cursorBytes(current, earliest uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], current)
	binary.BigEndian.PutUint64(b[8:], earliest)
	return b
}

// fieldBytes serializes a field element to a fixed 48-byte block so keys
// under null: sort consistently and values round-trip exactly.
func fieldBytes(v *big.Int) []byte {
	b := make([]byte, valueSize)
	v.FillBytes(b)
	return b
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var out uint64
	err = item.Value(func(v []byte) error {
		out = binary.BigEndian.Uint64(v)
		return nil
	})
	return out, err
}

func readValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func sortRecordsByEpoch(recs []*pool.NullifierRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Epoch < recs[j].Epoch })
}
