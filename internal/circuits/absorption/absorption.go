// absorption.go - Groth16 proving and verification for nullifier batch
// absorption, plus the BatchVerifier capability the epoch ledger consumes.

package absorption

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Compile builds the absorption constraint system for a fixed batch size.
// The circuit shape depends on the batch size, so keys are per-size.
func Compile(batchSize int) (constraint.ConstraintSystem, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	circuit := Circuit{Nullifiers: make([]frontend.Variable, batchSize)}
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("absorption circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Prove generates an absorption proof for the ordered nullifier batch.
func Prove(nullifiers []*big.Int, oldRoot, batchDigest *big.Int, upToEpoch uint64, ccs constraint.ConstraintSystem, pk groth16.ProvingKey) ([]byte, error) {
	assignment := &Circuit{
		OldRoot:     oldRoot,
		BatchDigest: batchDigest,
		UpToEpoch:   upToEpoch,
		Nullifiers:  make([]frontend.Variable, len(nullifiers)),
	}
	for i, n := range nullifiers {
		assignment.Nullifiers[i] = n
	}
	w, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return buf.Bytes(), nil
}

// SetupOrLoadKeys loads Groth16 keys from disk, or generates and saves
// fresh ones when none exist. Keys are specific to the batch size the
// constraint system was compiled for.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := loadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := saveKey(pkPath, pk.WriteTo); err != nil {
		return nil, nil, err
	}
	if err := saveKey(vkPath, vk.WriteTo); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

func saveKey(path string, writeTo func(w io.Writer) (int64, error)) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = writeTo(f)
	return err
}

// Groth16BatchVerifier implements pool.BatchVerifier over a verifying
// key for a fixed batch size.
type Groth16BatchVerifier struct {
	vk        groth16.VerifyingKey
	batchSize int
}

// NewGroth16BatchVerifier wraps a verifying key as the ledger's oracle.
func NewGroth16BatchVerifier(vk groth16.VerifyingKey, batchSize int) *Groth16BatchVerifier {
	return &Groth16BatchVerifier{vk: vk, batchSize: batchSize}
}

// VerifyAbsorption rebuilds the public witness from the bound inputs and
// verifies the proof against it.
func (v *Groth16BatchVerifier) VerifyAbsorption(proofBytes []byte, accumulatorRoot, batchDigest *big.Int, upToEpoch uint64) error {
	assignment := &Circuit{
		OldRoot:     accumulatorRoot,
		BatchDigest: batchDigest,
		UpToEpoch:   upToEpoch,
		Nullifiers:  make([]frontend.Variable, v.batchSize),
	}
	w, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	return groth16.Verify(proof, v.vk, w)
}
