// hash.go - MiMC hashing for commitments, nullifier hashes and tree nodes.
//
// The pool hashes field elements of the BW6-761 scalar field with MiMC,
// the same permutation the gnark std/hash/mimc gadget evaluates in-circuit.
// Every input is serialized as one canonical fr block, so a native digest
// here is bit-identical to the circuit digest over the same elements. Any
// drift between the two would make honestly generated proofs unverifiable.

package pool

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// HashElements computes the MiMC digest of one or more field elements.
// Inputs are reduced into the scalar field before hashing. An empty input
// list is a caller programming error and fails with ErrInvalidArity.
func HashElements(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, ErrInvalidArity
	}
	h := mimc.NewMiMC()
	for _, in := range inputs {
		var e fr.Element
		e.SetBigInt(in)
		b := e.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil)), nil
}

// hash2 is the two-input node hash used throughout the trees. Arity is
// fixed by the call sites, so the arity error cannot occur.
func hash2(left, right *big.Int) *big.Int {
	out, _ := HashElements(left, right)
	return out
}

// zeroHashes precomputes the hash of the empty subtree for every level up
// to and including depth. Level 0 is the empty leaf (zero); level l+1 is
// H(z[l], z[l]). Sparse trees substitute these for absent siblings.
func zeroHashes(depth int) []*big.Int {
	zeros := make([]*big.Int, depth+1)
	zeros[0] = new(big.Int)
	for l := 1; l <= depth; l++ {
		zeros[l] = hash2(zeros[l-1], zeros[l-1])
	}
	return zeros
}
