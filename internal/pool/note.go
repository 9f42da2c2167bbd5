// note.go - Note type and commitment factory for the shielded pool.
//
// A Note is the depositor's off-chain secret: it is never transmitted in
// plaintext to any server. Only the derived commitment is published at
// deposit time; the derived nullifier hash is revealed once, at withdrawal.

package pool

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Note represents a single shielded deposit.
// commitment = H(secret, nullifier, amount), nullifierHash = H(nullifier).
type Note struct {
	Secret    *big.Int // 32 bytes of randomness, known only to the depositor
	Nullifier *big.Int // 32 bytes of randomness, revealed (hashed) on spend
	Amount    uint64

	Commitment    *big.Int // published on deposit
	NullifierHash *big.Int // published on withdrawal
}

// GenerateNote draws fresh secret and nullifier values from the platform
// CSPRNG and derives the note's commitment and nullifier hash. A failing
// random source is fatal: the error is returned, never papered over with a
// weaker source.
func GenerateNote(amount uint64) (*Note, error) {
	secret, err := randomFieldElement()
	if err != nil {
		return nil, err
	}
	nullifier, err := randomFieldElement()
	if err != nil {
		return nil, err
	}
	return NoteFromSecrets(secret, nullifier, amount), nil
}

// NoteFromSecrets rebuilds a note from its stored secret material, for
// example when a wallet loads a note to construct a withdrawal proof.
func NoteFromSecrets(secret, nullifier *big.Int, amount uint64) *Note {
	commitment, _ := HashElements(secret, nullifier, new(big.Int).SetUint64(amount))
	nullifierHash, _ := HashElements(nullifier)
	return &Note{
		Secret:        secret,
		Nullifier:     nullifier,
		Amount:        amount,
		Commitment:    commitment,
		NullifierHash: nullifierHash,
	}
}

// randomFieldElement reads 32 bytes from crypto/rand. 256 bits sit well
// inside the 377-bit scalar field, so no reduction is needed.
func randomFieldElement() (*big.Int, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return new(big.Int).SetBytes(b), nil
}
