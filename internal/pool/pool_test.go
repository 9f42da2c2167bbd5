package pool

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		TreeDepth:    8,
		RootHistory:  16,
		CompactDepth: 8,
		Denomination: 1_000_000,
		RentDeposit:  5_000,
		StoreRetries: 3,
		RetryBackoff: time.Millisecond,
	}
}

func newTestPool(t *testing.T, cfg Config, store Store, verifier Verifier) (*Pool, *MemoryCustody) {
	t.Helper()
	custody := NewMemoryCustody()
	p, err := NewPool(cfg, store, custody, verifier, acceptAllBatches{}, zerolog.Nop())
	require.NoError(t, err)
	return p, custody
}

func TestDepositWithdrawScenario(t *testing.T) {
	verifier := &stubVerifier{}
	p, custody := newTestPool(t, testConfig(), NewMemoryStore(), verifier)

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)

	idx, err := p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)
	require.Zero(t, idx)
	require.Equal(t, uint64(1_000_000), custody.VaultBalance())

	// The depositor proves inclusion off-chain and withdraws to a fresh
	// address through a relayer taking a 1000 fee.
	proof, err := p.ProveInclusion(idx)
	require.NoError(t, err)
	require.Zero(t, proof.Root(note.Commitment).Cmp(p.CurrentRoot()))

	recipient := big.NewInt(0xCAFE)
	relayer := big.NewInt(0xBEEF)
	inputs := PublicInputs{
		Root:          p.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     recipient,
		Relayer:       relayer,
		Fee:           1000,
		Amount:        note.Amount,
	}
	require.NoError(t, p.Withdraw([]byte("zkproof"), inputs))

	require.Equal(t, uint64(999_000), custody.BalanceOf(recipient))
	require.Equal(t, uint64(1000), custody.BalanceOf(relayer))
	require.Zero(t, custody.VaultBalance())
	require.True(t, p.IsNullifierSpent(note.NullifierHash))
	require.Equal(t, uint64(1), p.CurrentEpoch())

	// The same note cannot be withdrawn twice.
	require.ErrorIs(t, p.Withdraw([]byte("zkproof"), inputs), ErrNullifierAlreadySpent)
}

func TestDepositRejectsWrongDenomination(t *testing.T) {
	p, custody := newTestPool(t, testConfig(), NewMemoryStore(), &stubVerifier{})
	note, err := GenerateNote(999)
	require.NoError(t, err)
	_, err = p.Deposit(999, note.Commitment)
	require.ErrorIs(t, err, ErrInvalidDepositAmount)
	require.Zero(t, custody.VaultBalance())
	require.Zero(t, p.Size())
}

func TestVariableAmountMode(t *testing.T) {
	cfg := testConfig()
	cfg.Denomination = 0
	cfg.MinDeposit = 100
	cfg.MaxDeposit = 10_000
	p, _ := newTestPool(t, cfg, NewMemoryStore(), &stubVerifier{})

	note, err := GenerateNote(5_000)
	require.NoError(t, err)
	_, err = p.Deposit(5_000, note.Commitment)
	require.NoError(t, err)

	for _, amount := range []uint64{0, 99, 10_001} {
		n, err := GenerateNote(amount)
		require.NoError(t, err)
		_, err = p.Deposit(amount, n.Commitment)
		require.ErrorIs(t, err, ErrInvalidDepositAmount, "amount %d", amount)
	}
}

func TestDepositRejectsZeroCommitment(t *testing.T) {
	p, _ := newTestPool(t, testConfig(), NewMemoryStore(), &stubVerifier{})
	_, err := p.Deposit(1_000_000, new(big.Int))
	require.ErrorIs(t, err, ErrInvalidCommitment)
	_, err = p.Deposit(1_000_000, nil)
	require.ErrorIs(t, err, ErrInvalidCommitment)
}

func TestPoolExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.TreeDepth = 2
	p, custody := newTestPool(t, cfg, NewMemoryStore(), &stubVerifier{})

	for i := 0; i < 4; i++ {
		note, err := GenerateNote(1_000_000)
		require.NoError(t, err)
		_, err = p.Deposit(note.Amount, note.Commitment)
		require.NoError(t, err)
	}
	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.ErrorIs(t, err, ErrPoolFull)

	// The failed deposit's funds were unlocked again.
	require.Equal(t, uint64(4_000_000), custody.VaultBalance())
}

// flakyStore fails the next n mutating calls with a transient error.
type flakyStore struct {
	Store
	failures int
}

func (s *flakyStore) PutLeaf(index uint64, leaf *big.Int) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: injected", ErrStoreUnavailable)
	}
	return s.Store.PutLeaf(index, leaf)
}

func (s *flakyStore) PutSpend(rec *NullifierRecord, current, earliest uint64) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: injected", ErrStoreUnavailable)
	}
	return s.Store.PutSpend(rec, current, earliest)
}

func (s *flakyStore) PutAbsorption(values []*big.Int, current, earliest uint64) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: injected", ErrStoreUnavailable)
	}
	return s.Store.PutAbsorption(values, current, earliest)
}

func TestDepositRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(), failures: 2}
	p, custody := newTestPool(t, testConfig(), store, &stubVerifier{})

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Size())
	require.Equal(t, uint64(1_000_000), custody.VaultBalance())
}

func TestDepositRollsBackWhenRetriesExhausted(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(), failures: 10}
	p, custody := newTestPool(t, testConfig(), store, &stubVerifier{})

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Zero(t, p.Size())
	require.Zero(t, custody.VaultBalance(), "locked funds must be returned")
}

func TestWithdrawInvalidProofLeavesStateUntouched(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("bad proof")}
	p, custody := newTestPool(t, testConfig(), NewMemoryStore(), verifier)

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)

	inputs := PublicInputs{
		Root:          p.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     big.NewInt(0xCAFE),
		Fee:           0,
		Amount:        note.Amount,
	}
	require.ErrorIs(t, p.Withdraw([]byte("p"), inputs), ErrInvalidProof)
	require.False(t, p.IsNullifierSpent(note.NullifierHash))
	require.Equal(t, uint64(1_000_000), custody.VaultBalance())
	require.Zero(t, p.CurrentEpoch())
}

func TestWithdrawWithoutRelayer(t *testing.T) {
	p, custody := newTestPool(t, testConfig(), NewMemoryStore(), &stubVerifier{})

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)

	recipient := big.NewInt(0xCAFE)
	inputs := PublicInputs{
		Root:          p.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     recipient,
		Fee:           0,
		Amount:        note.Amount,
	}
	require.NoError(t, p.Withdraw([]byte("p"), inputs))
	require.Equal(t, uint64(1_000_000), custody.BalanceOf(recipient))
}

func TestWithdrawProtocolFee(t *testing.T) {
	treasury := big.NewInt(0xFEE)
	cfg := testConfig()
	cfg.ProtocolFeeBps = 100
	cfg.MinProtocolFee = 20_000
	cfg.MaxRelayerFeeBps = 500
	cfg.Treasury = treasury
	p, custody := newTestPool(t, cfg, NewMemoryStore(), &stubVerifier{})

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)

	recipient := big.NewInt(0xCAFE)
	relayer := big.NewInt(0xBEEF)
	inputs := PublicInputs{
		Root:          p.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     recipient,
		Relayer:       relayer,
		Fee:           60_000,
		Amount:        note.Amount,
	}

	// 60_000 exceeds the 5% relayer cap; nothing is spent.
	require.ErrorIs(t, p.Withdraw([]byte("p"), inputs), ErrRelayerFeeTooHigh)
	require.False(t, p.IsNullifierSpent(note.NullifierHash))

	// The bps fee on 1_000_000 is 10_000, lifted to the 20_000 floor.
	inputs.Fee = 10_000
	require.NoError(t, p.Withdraw([]byte("p"), inputs))
	require.Equal(t, uint64(970_000), custody.BalanceOf(recipient))
	require.Equal(t, uint64(10_000), custody.BalanceOf(relayer))
	require.Equal(t, uint64(20_000), custody.BalanceOf(treasury))
	require.Zero(t, custody.VaultBalance())
}

func TestWithdrawProtocolFeeWithoutTreasury(t *testing.T) {
	cfg := testConfig()
	cfg.ProtocolFeeBps = 100
	p, custody := newTestPool(t, cfg, NewMemoryStore(), &stubVerifier{})

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)

	recipient := big.NewInt(0xCAFE)
	inputs := PublicInputs{
		Root:          p.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     recipient,
		Fee:           0,
		Amount:        note.Amount,
	}
	require.NoError(t, p.Withdraw([]byte("p"), inputs))

	// With no treasury configured the protocol fee is retained in the vault.
	require.Equal(t, uint64(990_000), custody.BalanceOf(recipient))
	require.Equal(t, uint64(10_000), custody.VaultBalance())
}

func TestFeeCheckNearMaxAmount(t *testing.T) {
	cfg := testConfig()
	cfg.Denomination = 0
	cfg.MinDeposit = 1
	cfg.MaxDeposit = math.MaxUint64
	cfg.ProtocolFeeBps = 1
	p, _ := newTestPool(t, cfg, NewMemoryStore(), &stubVerifier{})

	// Fee equal to a near-max amount leaves no room for the protocol fee;
	// the comparison must not wrap around.
	inputs := PublicInputs{Amount: math.MaxUint64, Fee: math.MaxUint64}
	_, err := p.checkFees(inputs)
	require.ErrorIs(t, err, ErrFeeExceedsAmount)
}

func TestAbsorbAndReclaimThroughPool(t *testing.T) {
	p, custody := newTestPool(t, testConfig(), NewMemoryStore(), &stubVerifier{})

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)

	// A second deposit funds the vault so the rent refund is payable.
	second, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(second.Amount, second.Commitment)
	require.NoError(t, err)

	inputs := PublicInputs{
		Root:          p.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     big.NewInt(0xCAFE),
		Fee:           0,
		Amount:        note.Amount,
	}
	require.NoError(t, p.Withdraw([]byte("p"), inputs))
	require.Equal(t, 1, p.PendingRecords())

	advanced, err := p.AbsorbBatch([]byte("batchproof"), 1)
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, uint64(1), p.EarliestProvableEpoch())

	reclaimer := big.NewInt(0xD00D)
	refund, err := p.Reclaim(note.NullifierHash, reclaimer)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000), refund)
	require.Equal(t, uint64(5_000), custody.BalanceOf(reclaimer))
	require.Zero(t, p.PendingRecords())
	require.True(t, p.IsNullifierSpent(note.NullifierHash))
}

func TestPoolRestartPreservesState(t *testing.T) {
	store := NewMemoryStore()
	p, _ := newTestPool(t, testConfig(), store, &stubVerifier{})

	note, err := GenerateNote(1_000_000)
	require.NoError(t, err)
	_, err = p.Deposit(note.Amount, note.Commitment)
	require.NoError(t, err)
	inputs := PublicInputs{
		Root:          p.CurrentRoot(),
		NullifierHash: note.NullifierHash,
		Recipient:     big.NewInt(0xCAFE),
		Fee:           0,
		Amount:        note.Amount,
	}
	require.NoError(t, p.Withdraw([]byte("p"), inputs))
	root := p.CurrentRoot()

	restarted, _ := newTestPool(t, testConfig(), store, &stubVerifier{})
	require.Equal(t, uint64(1), restarted.Size())
	require.Zero(t, restarted.CurrentRoot().Cmp(root))
	require.True(t, restarted.IsNullifierSpent(note.NullifierHash))
	require.Equal(t, uint64(1), restarted.CurrentEpoch())
}

func TestLeavesReadSurface(t *testing.T) {
	p, _ := newTestPool(t, testConfig(), NewMemoryStore(), &stubVerifier{})
	var commitments []*big.Int
	for i := 0; i < 3; i++ {
		note, err := GenerateNote(1_000_000)
		require.NoError(t, err)
		_, err = p.Deposit(note.Amount, note.Commitment)
		require.NoError(t, err)
		commitments = append(commitments, note.Commitment)
	}
	leaves, err := p.Leaves(0, 10)
	require.NoError(t, err)
	require.Len(t, leaves, 3)
	for i, cm := range commitments {
		require.Zero(t, leaves[i].Cmp(cm))
	}
}
