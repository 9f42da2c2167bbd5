// indexed.go - Compact indexed accumulator for absorbed nullifiers.
//
// An indexed Merkle tree stores a sorted linked list in its leaves: each
// leaf carries (value, nextIndex, nextValue), and a value's absence is
// witnessed by a "low" leaf whose value is below it and whose nextValue
// jumps over it. After a batch absorption this structure, not the
// individual spend records, is the double-spend source of truth, so its
// membership answer must cover every nullifier ever folded in.
//
// The leaf hash is H(value, nextIndex, nextValue). A genesis leaf
// (0, 0, 0) anchors the list; nextValue 0 stands for infinity.

package pool

import (
	"math/big"
	"sort"
)

// DefaultCompactDepth gives the compact accumulator ~67M entries, far more
// than the commitment tree can ever spend.
const DefaultCompactDepth = 26

type indexedLeaf struct {
	value     *big.Int
	nextIndex uint64
	nextValue *big.Int
}

// IndexedAccumulator is the compact, append-only nullifier accumulator.
// It is not safe for concurrent use; the epoch ledger serializes access.
type IndexedAccumulator struct {
	depth  int
	leaves []indexedLeaf
	sorted []*big.Int // leaf values in ascending order, for low-leaf lookup
	byVal  map[string]uint64
	nodes  map[nodeKey]*big.Int
	zeros  []*big.Int
	root   *big.Int
}

// NewIndexedAccumulator creates an empty accumulator of the given depth
// containing only the genesis leaf.
func NewIndexedAccumulator(depth int) *IndexedAccumulator {
	a := &IndexedAccumulator{
		depth: depth,
		byVal: make(map[string]uint64),
		zeros: zeroHashes(depth),
		nodes: make(map[nodeKey]*big.Int),
	}
	a.root = a.zeros[depth]
	genesis := indexedLeaf{value: new(big.Int), nextIndex: 0, nextValue: new(big.Int)}
	a.leaves = append(a.leaves, genesis)
	a.sorted = append(a.sorted, genesis.value)
	a.byVal[genesis.value.Text(16)] = 0
	a.writeLeaf(0)
	return a
}

// Contains reports whether the value has been absorbed.
func (a *IndexedAccumulator) Contains(value *big.Int) bool {
	_, ok := a.byVal[value.Text(16)]
	return ok
}

// Root returns the accumulator root after the most recent insert.
func (a *IndexedAccumulator) Root() *big.Int {
	return new(big.Int).Set(a.root)
}

// Size returns the number of absorbed values, excluding the genesis leaf.
func (a *IndexedAccumulator) Size() uint64 {
	return uint64(len(a.leaves) - 1)
}

// Insert splices the value into the sorted linked list: the low leaf's next
// pointers are redirected to the new leaf, which inherits the low leaf's
// old successors. Both affected paths are rehashed.
func (a *IndexedAccumulator) Insert(value *big.Int) error {
	if a.Contains(value) {
		return ErrNullifierAlreadySpent
	}
	if !a.hasRoom(1) {
		return ErrAccumulatorFull
	}
	a.insert(value)
	return nil
}

// hasRoom reports whether n more leaves fit under the fixed depth.
func (a *IndexedAccumulator) hasRoom(n int) bool {
	return uint64(len(a.leaves))+uint64(n) <= 1<<uint(a.depth)
}

// insert splices without checks; the caller must have verified absence and
// capacity first.
func (a *IndexedAccumulator) insert(value *big.Int) {
	lowIndex := a.lowLeaf(value)
	low := &a.leaves[lowIndex]

	newIndex := uint64(len(a.leaves))
	a.leaves = append(a.leaves, indexedLeaf{
		value:     new(big.Int).Set(value),
		nextIndex: low.nextIndex,
		nextValue: new(big.Int).Set(low.nextValue),
	})
	low = &a.leaves[lowIndex] // re-take: append may have moved the backing array
	low.nextIndex = newIndex
	low.nextValue = new(big.Int).Set(value)

	a.byVal[value.Text(16)] = newIndex
	pos := sort.Search(len(a.sorted), func(i int) bool { return a.sorted[i].Cmp(value) > 0 })
	a.sorted = append(a.sorted, nil)
	copy(a.sorted[pos+1:], a.sorted[pos:])
	a.sorted[pos] = a.leaves[newIndex].value

	a.writeLeaf(lowIndex)
	a.writeLeaf(newIndex)
}

// lowLeaf returns the index of the leaf with the greatest value strictly
// below the candidate. The genesis leaf (value 0) is the floor for all
// real nullifier hashes.
func (a *IndexedAccumulator) lowLeaf(value *big.Int) uint64 {
	pos := sort.Search(len(a.sorted), func(i int) bool { return a.sorted[i].Cmp(value) >= 0 })
	return a.byVal[a.sorted[pos-1].Text(16)]
}

// writeLeaf rehashes the leaf at the given index and its path to the root.
func (a *IndexedAccumulator) writeLeaf(index uint64) {
	leaf := a.leaves[index]
	cur, _ := HashElements(leaf.value, new(big.Int).SetUint64(leaf.nextIndex), leaf.nextValue)
	a.nodes[nodeKey{0, index}] = cur
	idx := index
	for l := 0; l < a.depth; l++ {
		sibling := a.node(l, idx^1)
		if idx&1 == 1 {
			cur = hash2(sibling, cur)
		} else {
			cur = hash2(cur, sibling)
		}
		idx >>= 1
		a.nodes[nodeKey{l + 1, idx}] = cur
	}
	a.root = cur
}

func (a *IndexedAccumulator) node(level int, index uint64) *big.Int {
	if n, ok := a.nodes[nodeKey{level, index}]; ok {
		return n
	}
	return a.zeros[level]
}
