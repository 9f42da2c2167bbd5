// errors.go - Error taxonomy for the shielded pool.
//
// Callers are expected to distinguish the classes with errors.Is: input
// errors are not retryable as-is, ErrNullifierAlreadySpent signals a genuine
// conflict that must be surfaced, ErrPoolFull is fatal to the pool instance,
// and ErrStoreUnavailable is transient and safe to retry with backoff.

package pool

import "errors"

var (
	// Caller input errors (not retryable as-is).
	ErrInvalidArity         = errors.New("hash: at least one input element required")
	ErrInvalidCommitment    = errors.New("commitment is zero or malformed")
	ErrInvalidDepositAmount = errors.New("deposit amount outside pool denomination")
	ErrInvalidProof         = errors.New("withdrawal proof verification failed")
	ErrUnknownRoot          = errors.New("merkle root unknown or aged out of the history window; regenerate the proof against the current root")
	ErrFeeExceedsAmount     = errors.New("fee exceeds withdrawal amount")
	ErrRelayerFeeTooHigh    = errors.New("relayer fee exceeds the configured cap")
	ErrLeafOutOfRange       = errors.New("leaf index out of range")

	// State conflicts (retry only after re-deriving fresh inputs).
	ErrNullifierAlreadySpent = errors.New("nullifier already spent")
	ErrEpochOutOfRange       = errors.New("absorption epoch exceeds current epoch")
	ErrReclaimTooEarly       = errors.New("record not yet absorbed; reclamation would break the double-spend guarantee")
	ErrUnknownNullifier      = errors.New("no record for nullifier")
	ErrAbsorptionConflict    = errors.New("absorption cursor advanced concurrently; rebuild the batch")

	// Capacity (fatal to this pool instance).
	ErrPoolFull        = errors.New("merkle accumulator is full")
	ErrAccumulatorFull = errors.New("compact nullifier accumulator is full")

	// Infrastructure (retryable).
	ErrStoreUnavailable = errors.New("storage unavailable")

	// Entropy failure is fatal, never degraded to a weaker source.
	ErrEntropyUnavailable = errors.New("platform random source unavailable")
)
