// withdrawal.go - Groth16 proving and verification for the withdrawal
// circuit, plus the Verifier capability the pool gateway consumes.

package withdrawal

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

	"shieldedpool/internal/pool"
)

// Compile builds the withdrawal constraint system over BW6-761.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit Circuit
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("withdrawal circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Prove generates a withdrawal proof for the note at the proved leaf,
// bound to the given public inputs. The caller picks any root inside the
// pool's staleness window and a Merkle proof generated against it.
func Prove(note *pool.Note, merkleProof *pool.MerkleProof, inputs pool.PublicInputs, ccs constraint.ConstraintSystem, pk groth16.ProvingKey) ([]byte, error) {
	if len(merkleProof.Siblings) != TreeDepth {
		return nil, fmt.Errorf("merkle proof depth %d, circuit expects %d", len(merkleProof.Siblings), TreeDepth)
	}
	assignment := &Circuit{
		Root:          inputs.Root,
		NullifierHash: inputs.NullifierHash,
		Recipient:     inputs.Recipient,
		Relayer:       relayerOrZero(inputs.Relayer),
		Fee:           inputs.Fee,
		Amount:        inputs.Amount,
		Secret:        note.Secret,
		Nullifier:     note.Nullifier,
	}
	for i := 0; i < TreeDepth; i++ {
		assignment.PathBits[i] = merkleProof.PathBits[i]
		assignment.Siblings[i] = merkleProof.Siblings[i]
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

// Groth16Verifier implements pool.Verifier over a verifying key.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier wraps a verifying key as the gateway's oracle.
func NewGroth16Verifier(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

// VerifyWithdrawal rebuilds the public witness from exactly the bound
// inputs and verifies the proof against it.
func (v *Groth16Verifier) VerifyWithdrawal(proofBytes []byte, inputs pool.PublicInputs) error {
	assignment := &Circuit{
		Root:          inputs.Root,
		NullifierHash: inputs.NullifierHash,
		Recipient:     inputs.Recipient,
		Relayer:       relayerOrZero(inputs.Relayer),
		Fee:           inputs.Fee,
		Amount:        inputs.Amount,
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

func relayerOrZero(relayer *big.Int) *big.Int {
	if relayer == nil {
		return new(big.Int)
	}
	return relayer
}

// SetupOrLoadKeys loads Groth16 keys from disk, or generates and saves
// fresh ones when none exist.
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
