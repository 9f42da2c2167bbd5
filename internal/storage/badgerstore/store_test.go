package badgerstore

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/pool"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLeavesRoundTrip(t *testing.T) {
	s := openTestStore(t)

	count, err := s.LeafCount()
	require.NoError(t, err)
	require.Zero(t, count)

	leaves := []*big.Int{big.NewInt(11), big.NewInt(22), big.NewInt(33)}
	for i, leaf := range leaves {
		require.NoError(t, s.PutLeaf(uint64(i), leaf))
	}

	count, err = s.LeafCount()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)

	got, err := s.Leaves(0, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, leaf := range leaves {
		require.Zero(t, leaf.Cmp(got[i]))
	}

	// Range end past the committed count truncates.
	got, err = s.Leaves(1, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// A gap in the index sequence is rejected.
	err = s.PutLeaf(10, big.NewInt(44))
	require.ErrorIs(t, err, pool.ErrLeafOutOfRange)
}

func TestNullifierRecords(t *testing.T) {
	s := openTestStore(t)

	recs := []*pool.NullifierRecord{
		{NullifierHash: big.NewInt(900), Epoch: 2, SpentAt: time.Unix(0, 200)},
		{NullifierHash: big.NewInt(100), Epoch: 0, SpentAt: time.Unix(0, 50)},
		{NullifierHash: big.NewInt(500), Epoch: 1, SpentAt: time.Unix(0, 100)},
	}
	for _, rec := range recs {
		require.NoError(t, s.PutSpend(rec, rec.Epoch+1, 0))
	}

	// The combined write carries the cursor pair along with the record.
	current, earliest, err := s.Cursors()
	require.NoError(t, err)
	require.Equal(t, uint64(2), current)
	require.Zero(t, earliest)

	got, err := s.Nullifiers()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].Epoch, got[i].Epoch)
	}
	require.Zero(t, got[0].NullifierHash.Cmp(big.NewInt(100)))
	require.Equal(t, time.Unix(0, 50), got[0].SpentAt)

	require.NoError(t, s.DeleteNullifier(big.NewInt(500)))
	got, err = s.Nullifiers()
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Deleting a missing record is a no-op.
	require.NoError(t, s.DeleteNullifier(big.NewInt(12345)))
}

func TestAbsorbedAndCursors(t *testing.T) {
	s := openTestStore(t)

	current, earliest, err := s.Cursors()
	require.NoError(t, err)
	require.Zero(t, current)
	require.Zero(t, earliest)

	first := []*big.Int{big.NewInt(700), big.NewInt(701), big.NewInt(702)}
	require.NoError(t, s.PutAbsorption(first, 9, 3))
	require.NoError(t, s.PutAbsorption([]*big.Int{big.NewInt(703), big.NewInt(704)}, 9, 4))

	// Insertion order survives across batches.
	got, err := s.Absorbed()
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, v := range got {
		require.Zero(t, v.Cmp(big.NewInt(int64(700+i))))
	}

	current, earliest, err = s.Cursors()
	require.NoError(t, err)
	require.Equal(t, uint64(9), current)
	require.Equal(t, uint64(4), earliest)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.PutLeaf(0, big.NewInt(77)))
	require.NoError(t, s.PutSpend(&pool.NullifierRecord{
		NullifierHash: big.NewInt(88),
		Epoch:         3,
		SpentAt:       time.Now(),
	}, 4, 2))
	require.NoError(t, s.Close())

	s, err = Open(dir, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	count, err := s.LeafCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
	recs, err := s.Nullifiers()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, uint64(3), recs[0].Epoch)
	current, earliest, err := s.Cursors()
	require.NoError(t, err)
	require.Equal(t, uint64(4), current)
	require.Equal(t, uint64(2), earliest)
}

func TestClosedStoreErrsTransient(t *testing.T) {
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.PutLeaf(0, big.NewInt(1))
	require.Error(t, err)
	require.True(t, errors.Is(err, pool.ErrStoreUnavailable))
}
