package blockio_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/dflow/internal/blockio"
	"github.com/dreamware/dflow/internal/blockpool"
	"github.com/dreamware/dflow/internal/file"
)

func newTestPool(t *testing.T) *blockpool.BlockPool {
	t.Helper()
	pager, err := blockpool.NewPageMapper(filepath.Join(t.TempDir(), "swap.bin"), 4096)
	require.NoError(t, err)
	pool := blockpool.NewBlockPool(64*1024, 4096, pager)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

// TestFileRoundTrip writes a run of integers in order, reads them back,
// and expects an identical sequence plus a matching item count.
func TestFileRoundTrip(t *testing.T) {
	pool := newTestPool(t)
	f := file.New("dia-1")
	w := blockio.NewWriter(pool, 0, f)

	const n = 1000
	for i := int64(0); i < n; i++ {
		require.NoError(t, blockio.Put(w, blockio.Int64Codec{}, i))
	}
	require.NoError(t, w.Close())

	require.Equal(t, int64(n), f.NumItems())

	r := blockio.NewReader(pool, 0, f.Keep())
	for i := int64(0); i < n; i++ {
		v, err := blockio.Get(r, blockio.Int64Codec{})
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.False(t, r.HasNext())
}

// TestFileRoundTripConsume checks the round trip holds for a consuming
// reader too.
func TestFileRoundTripConsume(t *testing.T) {
	pool := newTestPool(t)
	f := file.New("dia-2")
	w := blockio.NewWriter(pool, 0, f)

	const n = 500
	for i := int64(0); i < n; i++ {
		require.NoError(t, blockio.Put(w, blockio.Int64Codec{}, i))
	}
	require.NoError(t, w.Close())

	r := blockio.NewReader(pool, 0, f.Consume())
	for i := int64(0); i < n; i++ {
		v, err := blockio.Get(r, blockio.Int64Codec{})
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
}

// TestSkipMatchesSuccessiveNext checks that for a fixed-size codec,
// Skip(n) yields the same reader state as n successive Get calls.
func TestSkipMatchesSuccessiveNext(t *testing.T) {
	pool := newTestPool(t)
	f := file.New("dia-3")
	w := blockio.NewWriter(pool, 0, f)

	const n = 200
	for i := int64(0); i < n; i++ {
		require.NoError(t, blockio.Put(w, blockio.Int64Codec{}, i))
	}
	require.NoError(t, w.Close())

	size, fixed := blockio.Int64Codec{}.FixedSize()
	require.True(t, fixed)

	skipCount := int64(50)
	rSkip := blockio.NewReader(pool, 0, f.Keep())
	require.NoError(t, rSkip.Skip(skipCount, skipCount*int64(size)))

	rNext := blockio.NewReader(pool, 0, f.Keep())
	for i := int64(0); i < skipCount; i++ {
		_, err := blockio.Get(rNext, blockio.Int64Codec{})
		require.NoError(t, err)
	}

	vSkip, err := blockio.Get(rSkip, blockio.Int64Codec{})
	require.NoError(t, err)
	vNext, err := blockio.Get(rNext, blockio.Int64Codec{})
	require.NoError(t, err)
	require.Equal(t, vNext, vSkip)
	require.Equal(t, skipCount, vSkip)
}

func TestOversizedRecordSpansBlocks(t *testing.T) {
	pool := newTestPool(t)
	f := file.New("dia-4")
	w := blockio.NewWriter(pool, 0, f)

	big := make([]byte, 10*1024) // larger than the 4096-byte test block size
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, blockio.Put(w, blockio.StringCodec{}, string(big)))
	require.NoError(t, blockio.Put(w, blockio.StringCodec{}, "tail"))
	require.NoError(t, w.Close())

	require.GreaterOrEqual(t, f.NumBlocks(), 3)

	r := blockio.NewReader(pool, 0, f.Keep())
	got, err := blockio.Get(r, blockio.StringCodec{})
	require.NoError(t, err)
	require.Equal(t, string(big), got)
	tail, err := blockio.Get(r, blockio.StringCodec{})
	require.NoError(t, err)
	require.Equal(t, "tail", tail)
}

// TestEvictionSurvivesRoundTrip writes twice the pool cap's worth of data
// across several Files, unpinning each block as it seals, then reads every
// File back with keep readers. Satisfying the reads forces the pool to
// evict cold blocks to the swap file and swap them back in on pin.
func TestEvictionSurvivesRoundTrip(t *testing.T) {
	pager, err := blockpool.NewPageMapper(filepath.Join(t.TempDir(), "swap.bin"), 4096)
	require.NoError(t, err)
	pool := blockpool.NewBlockPool(16*1024, 4096, pager) // room for 4 resident blocks
	t.Cleanup(func() { _ = pool.Close() })

	const numFiles = 4
	const perFile = 1000 // 8 KB per file, 32 KB total
	files := make([]*file.File, numFiles)
	for fi := range files {
		files[fi] = file.New("dia-evict")
		w := blockio.NewWriter(pool, 0, files[fi])
		for i := int64(0); i < perFile; i++ {
			require.NoError(t, blockio.Put(w, blockio.Int64Codec{}, int64(fi*perFile)+i))
		}
		require.NoError(t, w.Close())
	}

	for fi, f := range files {
		r := blockio.NewReader(pool, 0, f.Keep())
		for i := int64(0); i < perFile; i++ {
			v, err := blockio.Get(r, blockio.Int64Codec{})
			require.NoError(t, err)
			require.Equal(t, int64(fi*perFile)+i, v)
		}
		require.False(t, r.HasNext())
	}
	require.LessOrEqual(t, pool.UsedBytes(), pool.CapBytes())
}

func TestSelfVerifyDetectsMismatch(t *testing.T) {
	blockio.SelfVerify = true
	defer func() { blockio.SelfVerify = false }()

	pool := newTestPool(t)
	f := file.New("dia-5")
	w := blockio.NewWriter(pool, 0, f)
	require.NoError(t, blockio.Put(w, blockio.Int64Codec{}, int64(42)))
	require.NoError(t, w.Close())

	r := blockio.NewReader(pool, 0, f.Keep())
	_, err := blockio.Get(r, blockio.StringCodec{}) // wrong codec: hash mismatch
	require.Error(t, err)
}
