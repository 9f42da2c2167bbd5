// circuit.go - absorption batch circuit. Proves knowledge of the ordered
// nullifier batch behind a public digest, binding it to the compact
// accumulator root it was folded from and the epoch cursor it advances.

package absorption

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Circuit proves that the private nullifier batch hashes to BatchDigest
// via the chained MiMC digest d(i) = H(d(i-1), n(i)) with d(0) = 0.
// OldRoot and UpToEpoch carry no in-circuit constraints beyond binding;
// the verifier pins them so a proof cannot be replayed against a
// different accumulator state or cursor.
type Circuit struct {
	OldRoot     frontend.Variable `gnark:",public"`
	BatchDigest frontend.Variable `gnark:",public"`
	UpToEpoch   frontend.Variable `gnark:",public"`

	Nullifiers []frontend.Variable
}

// Define enforces the digest chain over the batch.
func (c *Circuit) Define(api frontend.API) error {
	digest := frontend.Variable(0)
	for _, n := range c.Nullifiers {
		h, err := mimc.NewMiMC(api)
		if err != nil {
			return err
		}
		h.Write(digest, n)
		digest = h.Sum()
	}
	api.AssertIsEqual(digest, c.BatchDigest)

	// Keep the binding wires constrained so the compiler does not
	// prune them from the public input vector.
	api.Mul(c.OldRoot, c.OldRoot)
	api.Mul(c.UpToEpoch, c.UpToEpoch)
	return nil
}
