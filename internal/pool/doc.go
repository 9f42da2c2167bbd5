// Package pool implements a shielded value pool: deposits are recorded as
// opaque commitments in an append-only Merkle accumulator, and withdrawals
// are authorized by a zero-knowledge proof of prior deposit without revealing
// which deposit is being spent.
//
// Overview:
//   - Notes carry a (secret, nullifier, amount) triple; only the derived
//     commitment is ever published
//   - An incremental Merkle accumulator (depth 20) commits to all deposits
//     and keeps a ring of recent roots so proofs built against a slightly
//     stale root remain acceptable under concurrent deposits
//   - A nullifier epoch ledger prevents double-spends and bounds its own
//     storage: individual spend records are reclaimable once a verified
//     batch absorption has folded them into a compact indexed accumulator
//   - The verifier gateway binds the public inputs (root, nullifier hash,
//     recipient, relayer, fee, amount) and delegates cryptographic validity
//     to an injected Groth16 oracle
//
// Security Model:
//   - MiMC over the BW6-761 scalar field for commitments, nullifier hashes
//     and tree nodes; identical parameters on- and off-circuit
//   - Zero-knowledge proofs are generated and verified with gnark (Groth16)
//   - All randomness comes from crypto/rand; entropy failure is fatal
//   - For every nullifier hash at most one withdrawal is ever accepted,
//     regardless of whether its individual record has been reclaimed
//
// References:
//   - Zerocash: Decentralized Anonymous Payments from Bitcoin
//     (Ben-Sasson et al., 2014)
package pool
