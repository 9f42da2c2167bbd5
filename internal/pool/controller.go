// controller.go - Pool controller: the deposit and withdraw entry points.
//
// The controller owns the orchestration rules: denomination checks, custody
// rollback when an insert fails, the single critical section that joins the
// double-spend re-check to fund release, and backoff retries for transient
// storage failures. Everything cryptographic lives behind the gateway.

package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config carries the pool parameters fixed at initialization.
type Config struct {
	TreeDepth    int
	RootHistory  int
	CompactDepth int

	// Denomination fixes the deposit size. Zero selects variable-amount
	// mode bounded by MinDeposit/MaxDeposit.
	Denomination uint64
	MinDeposit   uint64
	MaxDeposit   uint64

	// RentDeposit is the per-record storage deposit refunded on reclaim.
	RentDeposit uint64

	// ProtocolFeeBps is the basis-point protocol fee on withdrawals,
	// floored at MinProtocolFee when nonzero. Zero disables the fee.
	ProtocolFeeBps uint64
	MinProtocolFee uint64
	// MaxRelayerFeeBps caps the relayer fee relative to the withdrawal
	// amount. Zero means uncapped (beyond the fee <= amount bound).
	MaxRelayerFeeBps uint64
	// Treasury receives protocol fees. Nil leaves them in the vault.
	Treasury *big.Int

	// Transient storage failures are retried this many times, doubling
	// the backoff each attempt.
	StoreRetries int
	RetryBackoff time.Duration
}

// DefaultConfig returns the production parameters: a depth-20 tree, a
// 32-root staleness window and a depth-26 compact accumulator.
func DefaultConfig() Config {
	return Config{
		TreeDepth:        DefaultTreeDepth,
		RootHistory:      DefaultRootHistory,
		CompactDepth:     DefaultCompactDepth,
		Denomination:     1_000_000,
		RentDeposit:      5_000,
		ProtocolFeeBps:   30,
		MinProtocolFee:   1_000,
		MaxRelayerFeeBps: 1_000,
		StoreRetries:     3,
		RetryBackoff:     50 * time.Millisecond,
	}
}

// Pool aggregates the accumulator, the nullifier ledger, the gateway and
// the custody layer behind the two state-transition entry points.
type Pool struct {
	cfg     Config
	acc     *Accumulator
	ledger  *EpochLedger
	gateway *Gateway
	custody Custody

	// Serializes recordSpend-and-release; deposits only contend on the
	// accumulator's own lock.
	withdrawMu sync.Mutex

	log zerolog.Logger
}

// NewPool initializes a pool over the given store, custody layer and
// verification oracles, replaying persisted state.
func NewPool(cfg Config, store Store, custody Custody, verifier Verifier, batchVerifier BatchVerifier, log zerolog.Logger) (*Pool, error) {
	acc, err := NewAccumulator(cfg.TreeDepth, cfg.RootHistory, store)
	if err != nil {
		return nil, err
	}
	ledger, err := NewEpochLedger(cfg.CompactDepth, store, batchVerifier, cfg.RentDeposit)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:     cfg,
		acc:     acc,
		ledger:  ledger,
		gateway: NewGateway(acc, ledger, verifier),
		custody: custody,
		log:     log.With().Str("component", "pool").Logger(),
	}
	p.log.Info().
		Int("depth", cfg.TreeDepth).
		Int("root_history", cfg.RootHistory).
		Uint64("leaves", acc.Size()).
		Uint64("current_epoch", ledger.CurrentEpoch()).
		Msg("pool initialized")
	return p, nil
}

// Deposit validates the amount, takes the funds into custody and appends
// the commitment. Custody and insertion succeed or fail together: a failed
// insert unlocks the funds.
func (p *Pool) Deposit(amount uint64, commitment *big.Int) (uint64, error) {
	if commitment == nil || commitment.Sign() == 0 {
		return 0, ErrInvalidCommitment
	}
	if err := p.checkAmount(amount); err != nil {
		return 0, err
	}

	receipt, err := p.custody.Lock(amount)
	if err != nil {
		return 0, fmt.Errorf("custody lock: %w", err)
	}

	var index uint64
	err = p.withRetry(func() error {
		var insertErr error
		index, insertErr = p.acc.Insert(commitment)
		return insertErr
	})
	if err != nil {
		if unlockErr := p.custody.Unlock(receipt); unlockErr != nil {
			p.log.Error().Err(unlockErr).Msg("custody rollback failed after insert error")
		}
		return 0, err
	}

	p.log.Info().
		Uint64("leaf_index", index).
		Str("commitment", commitment.Text(16)).
		Uint64("amount", amount).
		Msg("deposit")
	return index, nil
}

func (p *Pool) checkAmount(amount uint64) error {
	if p.cfg.Denomination != 0 {
		if amount != p.cfg.Denomination {
			return ErrInvalidDepositAmount
		}
		return nil
	}
	if amount == 0 || amount < p.cfg.MinDeposit || (p.cfg.MaxDeposit != 0 && amount > p.cfg.MaxDeposit) {
		return ErrInvalidDepositAmount
	}
	return nil
}

// Withdraw verifies the proof and its public-input binding, then records
// the spend and releases the funds as one serialized step. The gateway's
// spent-ness check is advisory; RecordSpend inside the critical section is
// what makes concurrent withdrawals of the same nullifier lose.
func (p *Pool) Withdraw(proof []byte, inputs PublicInputs) error {
	if err := p.gateway.VerifyWithdrawal(proof, inputs); err != nil {
		return err
	}
	protocolFee, err := p.checkFees(inputs)
	if err != nil {
		return err
	}

	p.withdrawMu.Lock()
	defer p.withdrawMu.Unlock()

	var epoch uint64
	err = p.withRetry(func() error {
		var spendErr error
		epoch, spendErr = p.ledger.RecordSpend(inputs.NullifierHash)
		return spendErr
	})
	if err != nil {
		return err
	}

	payout := inputs.Amount - inputs.Fee - protocolFee
	if err := p.custody.Release(inputs.Recipient, payout); err != nil {
		p.ledger.rollbackSpend(inputs.NullifierHash, epoch)
		return fmt.Errorf("release to recipient: %w", err)
	}
	if inputs.Fee > 0 && inputs.Relayer != nil && inputs.Relayer.Sign() != 0 {
		if err := p.custody.Release(inputs.Relayer, inputs.Fee); err != nil {
			return fmt.Errorf("release relayer fee: %w", err)
		}
	}
	if protocolFee > 0 && p.cfg.Treasury != nil && p.cfg.Treasury.Sign() != 0 {
		if err := p.custody.Release(p.cfg.Treasury, protocolFee); err != nil {
			return fmt.Errorf("release protocol fee: %w", err)
		}
	}

	p.log.Info().
		Str("nullifier_hash", inputs.NullifierHash.Text(16)).
		Uint64("epoch", epoch).
		Uint64("amount", payout).
		Uint64("fee", inputs.Fee).
		Msg("withdrawal")
	return nil
}

// checkFees enforces the fee policy: the relayer fee must respect the
// configured cap, and the protocol fee plus the relayer fee must leave a
// non-negative payout.
func (p *Pool) checkFees(inputs PublicInputs) (uint64, error) {
	if p.cfg.MaxRelayerFeeBps > 0 && inputs.Fee > bpsOf(inputs.Amount, p.cfg.MaxRelayerFeeBps) {
		return 0, ErrRelayerFeeTooHigh
	}
	protocolFee := p.protocolFee(inputs.Amount)
	// Fee <= Amount was already checked by the gateway, so the subtraction
	// cannot wrap.
	if inputs.Amount-inputs.Fee < protocolFee {
		return 0, ErrFeeExceedsAmount
	}
	return protocolFee, nil
}

// protocolFee computes the basis-point fee with its minimum floor.
func (p *Pool) protocolFee(amount uint64) uint64 {
	if p.cfg.ProtocolFeeBps == 0 {
		return 0
	}
	fee := bpsOf(amount, p.cfg.ProtocolFeeBps)
	if fee < p.cfg.MinProtocolFee {
		fee = p.cfg.MinProtocolFee
	}
	return fee
}

// bpsOf computes amount * bps / 10000 without overflowing uint64 for any
// realistic amount.
func bpsOf(amount, bps uint64) uint64 {
	return amount/10_000*bps + amount%10_000*bps/10_000
}

// AbsorbBatch forwards a proven batch absorption to the ledger. It runs on
// a background path and never holds the withdrawal lock.
func (p *Pool) AbsorbBatch(proof []byte, upToEpoch uint64) (bool, error) {
	advanced, err := p.ledger.AbsorbBatch(proof, upToEpoch)
	if advanced {
		p.log.Info().Uint64("earliest_provable_epoch", upToEpoch).Msg("batch absorbed")
	}
	return advanced, err
}

// Reclaim frees an absorbed record's storage and pays its deposit to the
// reclaimer.
func (p *Pool) Reclaim(nullifierHash *big.Int, reclaimer *big.Int) (uint64, error) {
	refund, err := p.ledger.Reclaim(nullifierHash)
	if err != nil {
		return 0, err
	}
	if refund > 0 && reclaimer != nil && reclaimer.Sign() != 0 {
		if err := p.custody.Release(reclaimer, refund); err != nil {
			return 0, fmt.Errorf("release storage deposit: %w", err)
		}
	}
	p.log.Info().Str("nullifier_hash", nullifierHash.Text(16)).Msg("record reclaimed")
	return refund, nil
}

// withRetry retries an operation whose failure is transient storage
// unavailability; all other errors pass through immediately.
func (p *Pool) withRetry(op func() error) error {
	backoff := p.cfg.RetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, ErrStoreUnavailable) || attempt == p.cfg.StoreRetries {
			return err
		}
		p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient storage failure, retrying")
		time.Sleep(backoff)
		backoff *= 2
	}
}

// Read surface for off-chain proof construction and inspection.

func (p *Pool) CurrentRoot() *big.Int            { return p.acc.CurrentRoot() }
func (p *Pool) RootHistory() []*big.Int          { return p.acc.RootHistory() }
func (p *Pool) Size() uint64                     { return p.acc.Size() }
func (p *Pool) IsNullifierSpent(h *big.Int) bool { return p.ledger.IsSpent(h) }
func (p *Pool) CurrentEpoch() uint64             { return p.ledger.CurrentEpoch() }
func (p *Pool) EarliestProvableEpoch() uint64    { return p.ledger.EarliestProvableEpoch() }
func (p *Pool) PendingRecords() int              { return p.ledger.PendingRecords() }
func (p *Pool) Config() Config                   { return p.cfg }

// Leaves returns committed leaves in [start, end).
func (p *Pool) Leaves(start, end uint64) ([]*big.Int, error) {
	return p.acc.Leaves(start, end)
}

// ProveInclusion builds an inclusion proof for a committed leaf.
func (p *Pool) ProveInclusion(leafIndex uint64) (*MerkleProof, error) {
	return p.acc.ProveInclusion(leafIndex)
}
