// gateway.go - Proof verifier gateway: public-input binding for withdrawals.
//
// The gateway decides everything about a withdrawal except the cryptography,
// which it delegates to an injected Verifier capability. Binding recipient,
// relayer and fee into the proof's public inputs is what stops a third party
// from intercepting a valid proof and redirecting the funds or the fee.
// Every check fails closed: no state is mutated until all of them pass.

package pool

import (
	"fmt"
	"math/big"
)

// PublicInputs are the withdrawal proof's public inputs, in the fixed order
// the circuit declares them. Recipient and relayer are addresses encoded as
// field elements.
type PublicInputs struct {
	Root          *big.Int
	NullifierHash *big.Int
	Recipient     *big.Int
	Relayer       *big.Int
	Fee           uint64
	Amount        uint64
}

// Verifier is the proving-system oracle. Circuit correctness and trusted
// setup integrity are its problem, not the pool's; modeling it as a
// capability also lets the ledger logic be tested with a stub.
type Verifier interface {
	VerifyWithdrawal(proof []byte, inputs PublicInputs) error
}

// Gateway validates a withdrawal's public inputs against pool state before
// consulting the oracle.
type Gateway struct {
	acc      *Accumulator
	ledger   *EpochLedger
	verifier Verifier
}

// NewGateway wires the gateway to the accumulator, the ledger and the
// verification oracle.
func NewGateway(acc *Accumulator, ledger *EpochLedger, verifier Verifier) *Gateway {
	return &Gateway{acc: acc, ledger: ledger, verifier: verifier}
}

// VerifyWithdrawal runs the full check sequence:
//  1. Reject zero-valued root, nullifier hash or recipient outright
//  2. The root must be current or within the staleness window
//  3. The nullifier must have no spend record, in any state
//  4. The fee must not exceed the withdrawal amount
//  5. The oracle must accept the proof over exactly these public inputs
//
// A nil error means the withdrawal is valid against the state observed
// here; the controller must re-check the nullifier atomically with fund
// release, since a concurrent withdrawal may have spent it in between.
func (g *Gateway) VerifyWithdrawal(proof []byte, inputs PublicInputs) error {
	if inputs.Root == nil || inputs.Root.Sign() == 0 ||
		inputs.NullifierHash == nil || inputs.NullifierHash.Sign() == 0 ||
		inputs.Recipient == nil || inputs.Recipient.Sign() == 0 {
		return fmt.Errorf("%w: zero-valued public input", ErrInvalidProof)
	}
	if len(proof) == 0 {
		return fmt.Errorf("%w: empty proof", ErrInvalidProof)
	}
	if !g.acc.VerifyRoot(inputs.Root) {
		return ErrUnknownRoot
	}
	if g.ledger.IsSpent(inputs.NullifierHash) {
		return ErrNullifierAlreadySpent
	}
	if inputs.Fee > inputs.Amount {
		return ErrFeeExceedsAmount
	}
	if err := g.verifier.VerifyWithdrawal(proof, inputs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}
