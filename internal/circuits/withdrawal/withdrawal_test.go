package withdrawal

import (
	"math/big"
	"os"
	"testing"

	"shieldedpool/internal/pool"
)

func TestWithdrawalEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Groth16 setup in short mode")
	}

	// Setup: compile circuit and generate/load keys
	ccs, err := Compile()
	if err != nil {
		t.Fatalf("circuit compilation failed: %v", err)
	}
	pkPath := "test_proving.key"
	vkPath := "test_verifying.key"
	pk, vk, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		t.Fatalf("SetupOrLoadKeys failed: %v", err)
	}
	defer os.Remove(pkPath)
	defer os.Remove(vkPath)

	// Step 1: create a note and insert its commitment
	store := pool.NewMemoryStore()
	acc, err := pool.NewAccumulator(TreeDepth, pool.DefaultRootHistory, store)
	if err != nil {
		t.Fatalf("NewAccumulator failed: %v", err)
	}
	note, err := pool.GenerateNote(1_000_000)
	if err != nil {
		t.Fatalf("GenerateNote failed: %v", err)
	}
	idx, err := acc.Insert(note.Commitment)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Step 2: prove inclusion and generate the withdrawal proof
	mp, err := acc.ProveInclusion(idx)
	if err != nil {
		t.Fatalf("ProveInclusion failed: %v", err)
	}
	inputs := pool.PublicInputs{
		Root:          acc.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     big.NewInt(0xCAFE),
		Relayer:       big.NewInt(0xBEEF),
		Fee:           1000,
		Amount:        note.Amount,
	}
	proof, err := Prove(note, mp, inputs, ccs, pk)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}

	// Step 3: verify against the bound public inputs
	verifier := NewGroth16Verifier(vk)
	if err := verifier.VerifyWithdrawal(proof, inputs); err != nil {
		t.Fatalf("VerifyWithdrawal failed: %v", err)
	}

	// Step 4: any tampered public input must invalidate the proof
	tampered := inputs
	tampered.Recipient = big.NewInt(0xDEAD)
	if err := verifier.VerifyWithdrawal(proof, tampered); err == nil {
		t.Errorf("expected verification failure for tampered recipient, got nil")
	}
	tampered = inputs
	tampered.Fee = 2000
	if err := verifier.VerifyWithdrawal(proof, tampered); err == nil {
		t.Errorf("expected verification failure for tampered fee, got nil")
	}
}

func TestProveRejectsWrongDepth(t *testing.T) {
	note, err := pool.GenerateNote(100)
	if err != nil {
		t.Fatalf("GenerateNote failed: %v", err)
	}
	mp := &pool.MerkleProof{
		Siblings: make([]*big.Int, 4),
		PathBits: make([]uint8, 4),
	}
	if _, err := Prove(note, mp, pool.PublicInputs{}, nil, nil); err == nil {
		t.Errorf("expected depth mismatch error, got nil")
	}
}
