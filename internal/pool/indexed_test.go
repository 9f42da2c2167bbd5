package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexedGenesisOnly(t *testing.T) {
	a := NewIndexedAccumulator(4)
	require.Zero(t, a.Size())
	require.True(t, a.Contains(new(big.Int)), "genesis value 0 is a member")
	require.False(t, a.Contains(big.NewInt(1)))

	// The genesis leaf hashes into the root, so the root is not the
	// empty-tree root.
	require.NotZero(t, a.Root().Cmp(zeroHashes(4)[4]))
}

func TestIndexedInsertAndContains(t *testing.T) {
	a := NewIndexedAccumulator(4)
	values := []*big.Int{big.NewInt(50), big.NewInt(10), big.NewInt(90), big.NewInt(30)}
	for _, v := range values {
		require.NoError(t, a.Insert(v))
	}
	require.Equal(t, uint64(4), a.Size())
	for _, v := range values {
		require.True(t, a.Contains(v))
	}
	require.False(t, a.Contains(big.NewInt(20)))
	require.False(t, a.Contains(big.NewInt(91)))
}

func TestIndexedRejectsDuplicate(t *testing.T) {
	a := NewIndexedAccumulator(4)
	require.NoError(t, a.Insert(big.NewInt(77)))
	require.ErrorIs(t, a.Insert(big.NewInt(77)), ErrNullifierAlreadySpent)
	require.Equal(t, uint64(1), a.Size())
}

func TestIndexedRootChangesPerInsert(t *testing.T) {
	a := NewIndexedAccumulator(4)
	seen := map[string]bool{a.Root().Text(16): true}
	for i := 1; i <= 5; i++ {
		require.NoError(t, a.Insert(big.NewInt(int64(i*7))))
		root := a.Root().Text(16)
		require.False(t, seen[root], "root must change after insert %d", i)
		seen[root] = true
	}
}

func TestIndexedLinkedListSplice(t *testing.T) {
	a := NewIndexedAccumulator(4)
	// Out-of-order inserts; the linked list must stay sorted.
	require.NoError(t, a.Insert(big.NewInt(40)))
	require.NoError(t, a.Insert(big.NewInt(20)))
	require.NoError(t, a.Insert(big.NewInt(60)))

	// genesis(0) -> 20 -> 40 -> 60 -> infinity
	require.Zero(t, a.leaves[0].value.Sign())
	require.Zero(t, a.leaves[0].nextValue.Cmp(big.NewInt(20)))
	require.Zero(t, a.leaves[2].nextValue.Cmp(big.NewInt(40)))
	require.Zero(t, a.leaves[1].nextValue.Cmp(big.NewInt(60)))
	require.Zero(t, a.leaves[3].nextValue.Sign(), "largest value points at infinity")
	require.Zero(t, a.leaves[3].nextIndex)
}

func TestIndexedAccumulatorFull(t *testing.T) {
	// Depth 1 holds two leaves and the genesis leaf takes one.
	a := NewIndexedAccumulator(1)
	require.NoError(t, a.Insert(big.NewInt(5)))
	require.ErrorIs(t, a.Insert(big.NewInt(6)), ErrAccumulatorFull)
}
