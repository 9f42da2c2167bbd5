// merkle.go - Append-only incremental Merkle accumulator for commitments.
//
// The tree is binary with a depth fixed at construction. It is stored
// sparsely: a (level, index) -> hash map holds only nodes on paths of
// inserted leaves, and any absent sibling is the precomputed zero-subtree
// hash for its level. This is what lets proofs be generated without ever
// materializing 2^depth nodes.
//
// A bounded ring of recent roots is kept so that a withdrawal proof built
// against a root that has since advanced under concurrent deposits is still
// acceptable within the configured staleness window.

package pool

import (
	"fmt"
	"math/big"
	"sync"
)

// DefaultTreeDepth gives the accumulator ~1,048,576 leaves.
const DefaultTreeDepth = 20

// DefaultRootHistory matches the 32-root circular buffer the pool keeps
// on chain.
const DefaultRootHistory = 32

type nodeKey struct {
	level int
	index uint64
}

// MerkleProof is an inclusion proof for the leaf at LeafIndex. Siblings and
// PathBits both have length depth; PathBits[l] is 1 when the path node at
// level l is a right child, in which case the sibling is hashed on the left.
type MerkleProof struct {
	LeafIndex uint64
	Siblings  []*big.Int
	PathBits  []uint8
}

// Root recomputes the root committed to by the proof for the given leaf.
// This recomputation is exactly what the withdrawal circuit performs, so
// node ordering here and in the circuit must agree.
func (p *MerkleProof) Root(leaf *big.Int) *big.Int {
	cur := new(big.Int).Set(leaf)
	for l, sibling := range p.Siblings {
		if p.PathBits[l] == 1 {
			cur = hash2(sibling, cur)
		} else {
			cur = hash2(cur, sibling)
		}
	}
	return cur
}

// Accumulator is the append-only commitment tree.
type Accumulator struct {
	mu        sync.RWMutex
	depth     int
	nextIndex uint64
	nodes     map[nodeKey]*big.Int
	zeros     []*big.Int
	root      *big.Int
	history   *rootRing
	store     Store
}

// NewAccumulator creates an accumulator of the given depth with a
// count-based root staleness window, replaying any leaves already present
// in the store.
func NewAccumulator(depth, window int, store Store) (*Accumulator, error) {
	zeros := zeroHashes(depth)
	a := &Accumulator{
		depth:   depth,
		nodes:   make(map[nodeKey]*big.Int),
		zeros:   zeros,
		root:    zeros[depth],
		history: newRootRing(window),
		store:   store,
	}
	a.history.push(a.root)

	count, err := store.LeafCount()
	if err != nil {
		return nil, fmt.Errorf("accumulator replay: %w", err)
	}
	if count > 0 {
		leaves, err := store.Leaves(0, count)
		if err != nil {
			return nil, fmt.Errorf("accumulator replay: %w", err)
		}
		for _, leaf := range leaves {
			a.insertLocked(leaf)
		}
	}
	return a, nil
}

// Depth returns the fixed tree depth.
func (a *Accumulator) Depth() int { return a.depth }

// Size returns the number of inserted leaves.
func (a *Accumulator) Size() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nextIndex
}

// Insert appends a commitment at the next free index, recomputes the
// ancestor hashes up to the root and records the new root in the history
// ring. Inserts are serialized: leaf order determines the root.
func (a *Accumulator) Insert(commitment *big.Int) (uint64, error) {
	if commitment == nil || commitment.Sign() == 0 {
		return 0, ErrInvalidCommitment
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nextIndex == 1<<uint(a.depth) {
		return 0, ErrPoolFull
	}
	index := a.nextIndex
	if err := a.store.PutLeaf(index, commitment); err != nil {
		return 0, fmt.Errorf("persist leaf %d: %w", index, err)
	}
	a.insertLocked(commitment)
	return index, nil
}

// insertLocked performs the tree update; the caller holds the write lock
// and has checked capacity.
func (a *Accumulator) insertLocked(commitment *big.Int) {
	index := a.nextIndex
	cur := new(big.Int).Set(commitment)
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
	a.history.push(cur)
	a.nextIndex++
}

// node returns the stored hash at (level, index), or the zero-subtree hash
// for that level. A sibling index beyond the committed leaves is not an
// error: the tree is conceptually complete and sparsely populated.
func (a *Accumulator) node(level int, index uint64) *big.Int {
	if n, ok := a.nodes[nodeKey{level, index}]; ok {
		return n
	}
	return a.zeros[level]
}

// CurrentRoot returns the root after the most recent insert.
func (a *Accumulator) CurrentRoot() *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return new(big.Int).Set(a.root)
}

// RootHistory returns the retained recent roots, oldest first.
func (a *Accumulator) RootHistory() []*big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.history.snapshot()
}

// VerifyRoot reports whether the candidate is the current root or any root
// still inside the staleness window.
func (a *Accumulator) VerifyRoot(candidate *big.Int) bool {
	if candidate == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.history.contains(candidate)
}

// ProveInclusion builds the inclusion proof for the leaf at the given
// index against the current root.
func (a *Accumulator) ProveInclusion(leafIndex uint64) (*MerkleProof, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if leafIndex >= a.nextIndex {
		return nil, ErrLeafOutOfRange
	}
	proof := &MerkleProof{
		LeafIndex: leafIndex,
		Siblings:  make([]*big.Int, a.depth),
		PathBits:  make([]uint8, a.depth),
	}
	idx := leafIndex
	for l := 0; l < a.depth; l++ {
		proof.Siblings[l] = new(big.Int).Set(a.node(l, idx^1))
		proof.PathBits[l] = uint8(idx & 1)
		idx >>= 1
	}
	return proof, nil
}

// Leaves returns the committed leaves in [start, end), for off-chain proof
// construction by any depositor.
func (a *Accumulator) Leaves(start, end uint64) ([]*big.Int, error) {
	return a.store.Leaves(start, end)
}

// rootRing is the bounded root-history buffer. Whether the window should be
// count-based or time-based is an open design question; the on-chain
// fragments use a bounded circular buffer, which is what this implements.
type rootRing struct {
	roots []*big.Int
	next  int
	count int
}

func newRootRing(size int) *rootRing {
	if size < 1 {
		size = 1
	}
	return &rootRing{roots: make([]*big.Int, size)}
}

func (r *rootRing) push(root *big.Int) {
	r.roots[r.next] = new(big.Int).Set(root)
	r.next = (r.next + 1) % len(r.roots)
	if r.count < len(r.roots) {
		r.count++
	}
}

func (r *rootRing) contains(root *big.Int) bool {
	for i := 0; i < r.count; i++ {
		if r.roots[i].Cmp(root) == 0 {
			return true
		}
	}
	return false
}

func (r *rootRing) snapshot() []*big.Int {
	out := make([]*big.Int, 0, r.count)
	start := 0
	if r.count == len(r.roots) {
		start = r.next
	}
	for i := 0; i < r.count; i++ {
		out = append(out, new(big.Int).Set(r.roots[(start+i)%len(r.roots)]))
	}
	return out
}
