package withdrawal

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// TreeDepth must match the accumulator depth; proofs carry exactly this
// many siblings and direction bits.
const TreeDepth = 20

// Circuit proves knowledge of a note (secret, nullifier, amount) whose
// commitment sits in the commitment tree under Root, and binds the
// withdrawal to a recipient, relayer and fee. The public input order here
// is the wire format the gateway and the on-chain verifier agree on.
type Circuit struct {
	// Public
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Relayer       frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	Amount        frontend.Variable `gnark:",public"`

	// Private
	Secret    frontend.Variable
	Nullifier frontend.Variable
	PathBits  [TreeDepth]frontend.Variable
	Siblings  [TreeDepth]frontend.Variable
}

func (c *Circuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// Step 1: Nullifier hash (prevents double-spending once revealed)
	hasher.Write(c.Nullifier)
	api.AssertIsEqual(c.NullifierHash, hasher.Sum())

	// Step 2: Commitment (cm = H(secret, nullifier, amount))
	hasher.Reset()
	hasher.Write(c.Secret)
	hasher.Write(c.Nullifier)
	hasher.Write(c.Amount)
	cur := hasher.Sum()

	// Step 3: Merkle path from the commitment up to the public root.
	// PathBits[i] == 1 means the path node is a right child, so the
	// sibling hashes on the left. Node ordering must agree with the
	// native accumulator exactly.
	for i := 0; i < TreeDepth; i++ {
		api.AssertIsBoolean(c.PathBits[i])
		left := api.Select(c.PathBits[i], c.Siblings[i], cur)
		right := api.Select(c.PathBits[i], cur, c.Siblings[i])
		hasher.Reset()
		hasher.Write(left)
		hasher.Write(right)
		cur = hasher.Sum()
	}
	api.AssertIsEqual(c.Root, cur)

	// Step 4: Fee bound
	api.AssertIsLessOrEqual(c.Fee, c.Amount)

	// Step 5: Squares of the binding inputs keep the recipient and
	// relayer wires constrained inside the statement, so a proof cannot
	// be replayed with a different payout destination.
	api.Mul(c.Recipient, c.Recipient)
	api.Mul(c.Relayer, c.Relayer)

	return nil
}
