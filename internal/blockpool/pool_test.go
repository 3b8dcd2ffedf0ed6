package blockpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, capBytes int64, blockSize int) *BlockPool {
	t.Helper()
	pager, err := NewPageMapper(filepath.Join(t.TempDir(), "swap.bin"), blockSize)
	require.NoError(t, err)
	pool := NewBlockPool(capBytes, blockSize, pager)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestAllocateByteBlockIsResidentAndPinned(t *testing.T) {
	pool := newTestPool(t, 4*1024, 1024)
	bb, err := pool.AllocateByteBlock(1024, 0)
	require.NoError(t, err)
	require.NotNil(t, bb.Bytes())
	require.Equal(t, int64(1024), pool.UsedBytes())
}

func TestUnpinMakesBlockEvictionEligible(t *testing.T) {
	pool := newTestPool(t, 1024, 1024)
	bb, err := pool.AllocateByteBlock(1024, 0)
	require.NoError(t, err)
	copy(bb.Bytes(), []byte("hello world"))

	pool.Unpin(bb, 0)
	require.NoError(t, pool.EvictBlock(bb))
	require.Nil(t, bb.Bytes())
	require.Equal(t, int64(0), pool.UsedBytes())

	pr := pool.Pin(bb, 1)
	require.NoError(t, pr.Wait())
	got := make([]byte, len("hello world"))
	copy(got, bb.Bytes()[:len(got)])
	require.Equal(t, "hello world", string(got))
}

func TestAllocationEvictsLRUToMakeRoom(t *testing.T) {
	pool := newTestPool(t, 2048, 1024)
	first, err := pool.AllocateByteBlock(1024, 0)
	require.NoError(t, err)
	copy(first.Bytes(), []byte("first"))
	pool.Unpin(first, 0)

	second, err := pool.AllocateByteBlock(1024, 0)
	require.NoError(t, err)
	copy(second.Bytes(), []byte("second"))
	pool.Unpin(second, 0)

	// A third allocation must evict one of the two unpinned blocks since
	// the cap only holds two blocks' worth of bytes at a time... here the
	// cap holds exactly two, so allocating a third forces an eviction.
	third, err := pool.AllocateByteBlock(1024, 0)
	require.NoError(t, err)
	copy(third.Bytes(), []byte("third"))
	require.LessOrEqual(t, pool.UsedBytes(), pool.CapBytes())
}

func TestPinCountNeverNegative(t *testing.T) {
	pool := newTestPool(t, 1024, 1024)
	bb, err := pool.AllocateByteBlock(1024, 0)
	require.NoError(t, err)
	pool.Unpin(bb, 0)
	// Extra unpin beyond the pin count must not panic or go negative.
	pool.Unpin(bb, 0)
	require.Equal(t, residentUnpinned, bb.res)
}

func TestReleaseFreesSwapToken(t *testing.T) {
	pool := newTestPool(t, 1024, 1024)
	bb, err := pool.AllocateByteBlock(1024, 0)
	require.NoError(t, err)
	pool.Unpin(bb, 0)
	require.NoError(t, pool.EvictBlock(bb))
	bb.Release()
	require.Equal(t, int64(0), pool.UsedBytes())
	require.Equal(t, []int64{0}, pool.pager.free)
}
