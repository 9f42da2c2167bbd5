package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAccumulator(t *testing.T, depth, window int) *Accumulator {
	t.Helper()
	acc, err := NewAccumulator(depth, window, NewMemoryStore())
	require.NoError(t, err)
	return acc
}

func TestEmptyTreeRoot(t *testing.T) {
	acc := newTestAccumulator(t, 4, 8)
	require.Zero(t, acc.Size())
	require.Zero(t, acc.CurrentRoot().Cmp(zeroHashes(4)[4]))
	require.True(t, acc.VerifyRoot(acc.CurrentRoot()))
}

func TestInsertAndProve(t *testing.T) {
	acc := newTestAccumulator(t, 4, 8)

	leaves := []*big.Int{big.NewInt(101), big.NewInt(202), big.NewInt(303)}
	for i, leaf := range leaves {
		idx, err := acc.Insert(leaf)
		require.NoError(t, err)
		require.Equal(t, uint64(i), idx)
	}
	require.Equal(t, uint64(3), acc.Size())

	root := acc.CurrentRoot()
	for i, leaf := range leaves {
		proof, err := acc.ProveInclusion(uint64(i))
		require.NoError(t, err)
		require.Len(t, proof.Siblings, 4)
		require.Zero(t, proof.Root(leaf).Cmp(root), "leaf %d proof does not recompute the root", i)
	}

	// A proof for one leaf does not verify another leaf's value.
	proof, err := acc.ProveInclusion(0)
	require.NoError(t, err)
	require.NotZero(t, proof.Root(big.NewInt(999)).Cmp(root))
}

func TestInsertRejectsZeroCommitment(t *testing.T) {
	acc := newTestAccumulator(t, 4, 8)
	_, err := acc.Insert(new(big.Int))
	require.ErrorIs(t, err, ErrInvalidCommitment)
	_, err = acc.Insert(nil)
	require.ErrorIs(t, err, ErrInvalidCommitment)
}

func TestProveInclusionOutOfRange(t *testing.T) {
	acc := newTestAccumulator(t, 4, 8)
	_, err := acc.ProveInclusion(0)
	require.ErrorIs(t, err, ErrLeafOutOfRange)
}

func TestPoolFull(t *testing.T) {
	acc := newTestAccumulator(t, 2, 8)
	for i := 0; i < 4; i++ {
		_, err := acc.Insert(big.NewInt(int64(i + 1)))
		require.NoError(t, err)
	}
	_, err := acc.Insert(big.NewInt(5))
	require.ErrorIs(t, err, ErrPoolFull)
	require.Equal(t, uint64(4), acc.Size())
}

func TestRootHistoryWindow(t *testing.T) {
	acc := newTestAccumulator(t, 8, 4)

	_, err := acc.Insert(big.NewInt(1))
	require.NoError(t, err)
	staleRoot := acc.CurrentRoot()

	// Three further inserts keep the stale root inside the 4-root window.
	for i := 2; i <= 4; i++ {
		_, err := acc.Insert(big.NewInt(int64(i)))
		require.NoError(t, err)
	}
	require.True(t, acc.VerifyRoot(staleRoot))

	// One more insert ages it out.
	_, err = acc.Insert(big.NewInt(5))
	require.NoError(t, err)
	require.False(t, acc.VerifyRoot(staleRoot))
	require.True(t, acc.VerifyRoot(acc.CurrentRoot()))
}

func TestVerifyRootRejectsForeignRoot(t *testing.T) {
	acc := newTestAccumulator(t, 4, 8)
	_, err := acc.Insert(big.NewInt(7))
	require.NoError(t, err)
	require.False(t, acc.VerifyRoot(big.NewInt(123456)))
	require.False(t, acc.VerifyRoot(nil))
}

func TestRootHistorySnapshotOrder(t *testing.T) {
	acc := newTestAccumulator(t, 4, 3)
	var roots []*big.Int
	for i := 1; i <= 5; i++ {
		_, err := acc.Insert(big.NewInt(int64(i)))
		require.NoError(t, err)
		roots = append(roots, acc.CurrentRoot())
	}
	history := acc.RootHistory()
	require.Len(t, history, 3)
	// Oldest first, covering only the last three roots.
	for i, root := range history {
		require.Zero(t, root.Cmp(roots[len(roots)-3+i]))
	}
}

func TestReplayFromStore(t *testing.T) {
	store := NewMemoryStore()
	acc, err := NewAccumulator(6, 8, store)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := acc.Insert(big.NewInt(int64(i * 11)))
		require.NoError(t, err)
	}
	root := acc.CurrentRoot()

	// A fresh accumulator over the same store converges to the same state.
	replayed, err := NewAccumulator(6, 8, store)
	require.NoError(t, err)
	require.Equal(t, acc.Size(), replayed.Size())
	require.Zero(t, replayed.CurrentRoot().Cmp(root))

	proof, err := replayed.ProveInclusion(2)
	require.NoError(t, err)
	require.Zero(t, proof.Root(big.NewInt(33)).Cmp(root))
}

func TestProofPathBitsMatchIndex(t *testing.T) {
	acc := newTestAccumulator(t, 4, 8)
	for i := 1; i <= 6; i++ {
		_, err := acc.Insert(big.NewInt(int64(i)))
		require.NoError(t, err)
	}
	proof, err := acc.ProveInclusion(5)
	require.NoError(t, err)
	for l := 0; l < 4; l++ {
		require.Equal(t, uint8((5>>uint(l))&1), proof.PathBits[l])
	}
}
