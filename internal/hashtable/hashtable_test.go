package hashtable

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func sumReduce(a, b int64) int64 { return a + b }

func TestProbingTable_ReduceByKeyModulo2(t *testing.T) {
	got := map[int64]int64{}
	cfg := Config[int64, int64]{
		Partitions:        2,
		SlotsPerPartition: 8,
		FillLimit:         1000,
		Hash:              FNVInt64,
		Reduce:            sumReduce,
		Emit: func(k, v int64) error {
			got[k] += v
			return nil
		},
	}
	tbl := NewProbing(cfg)
	for x := int64(1); x <= 16; x++ {
		require.NoError(t, tbl.Insert(x%2, x))
	}
	require.NoError(t, tbl.FlushAll())
	require.Equal(t, map[int64]int64{0: 72, 1: 64}, got)
}

func TestBucketTable_ReduceByKeyModulo2(t *testing.T) {
	got := map[int64]int64{}
	cfg := Config[int64, int64]{
		Partitions:        2,
		SlotsPerPartition: 4,
		FillLimit:         1000,
		Hash:              FNVInt64,
		Reduce:            sumReduce,
		Emit: func(k, v int64) error {
			got[k] += v
			return nil
		},
	}
	tbl := NewBucket(cfg)
	for x := int64(1); x <= 16; x++ {
		require.NoError(t, tbl.Insert(x%2, x))
	}
	require.NoError(t, tbl.FlushAll())
	require.Equal(t, map[int64]int64{0: 72, 1: 64}, got)
}

func TestReduceByIndexTable_SmallRange(t *testing.T) {
	type pair struct {
		idx int
		sum int64
	}
	var out []pair
	cfg := IndexConfig[int64]{
		NumKeys:    9,
		Partitions: 3,
		Reduce:     sumReduce,
		Emit: func(idx int, v int64) error {
			out = append(out, pair{idx, v})
			return nil
		},
	}
	tbl := NewReduceByIndex(cfg)
	for x := int64(1); x <= 16; x++ {
		require.NoError(t, tbl.Insert(int(x/2), x))
	}
	require.NoError(t, tbl.FlushAll())

	want := []pair{{0, 1}, {1, 5}, {2, 9}, {3, 13}, {4, 17}, {5, 21}, {6, 25}, {7, 29}, {8, 16}}
	require.Equal(t, want, out)
}

func TestProbingTable_SpillUnderPressure(t *testing.T) {
	emitted := map[int64]int64{}
	spillCalls := 0
	cfg := Config[int64, int64]{
		Partitions:        2,
		SlotsPerPartition: 8,
		FillLimit:         4,
		Hash:              FNVInt64,
		Reduce:            sumReduce,
		Emit: func(k, v int64) error {
			emitted[k] += v
			spillCalls++
			return nil
		},
	}
	tbl := NewProbing(cfg)
	for i := 0; i < 2; i++ {
		for k := int64(0); k < 50; k++ {
			require.NoError(t, tbl.Insert(k, 1))
		}
	}
	require.NoError(t, tbl.FlushAll())

	require.Greater(t, spillCalls, 50, "emitter must have run during insertion, not only at FlushAll")
	require.Len(t, emitted, 50)
	for k, v := range emitted {
		require.Equal(t, int64(2), v, "key %d", k)
	}
}

func TestBucketTable_SpillUnderPressure(t *testing.T) {
	emitted := map[int64]int64{}
	cfg := Config[int64, int64]{
		Partitions:        2,
		SlotsPerPartition: 8,
		FillLimit:         4,
		Hash:              FNVInt64,
		Reduce:            sumReduce,
		Emit: func(k, v int64) error {
			emitted[k] += v
			return nil
		},
	}
	tbl := NewBucket(cfg)
	for i := 0; i < 2; i++ {
		for k := int64(0); k < 50; k++ {
			require.NoError(t, tbl.Insert(k, 1))
		}
	}
	require.NoError(t, tbl.FlushAll())

	require.Len(t, emitted, 50)
	for k, v := range emitted {
		require.Equal(t, int64(2), v, "key %d", k)
	}
}

func TestProbingTable_PartitionWiseSpillPreservesOtherPartitions(t *testing.T) {
	var order []int64
	cfg := Config[int64, int64]{
		Partitions:        2,
		SlotsPerPartition: 2,
		FillLimit:         1,
		Hash:              func(k int64) uint64 { return uint64(k) }, // keys 0,2 -> partition 0; 1,3 -> partition 1
		Reduce:            sumReduce,
		Emit: func(k, v int64) error {
			order = append(order, k)
			return nil
		},
	}
	tbl := NewProbing(cfg)
	require.NoError(t, tbl.Insert(0, 1))
	require.NoError(t, tbl.Insert(2, 1)) // overflows partition 0's fill limit, spills {0, 2}
	require.NoError(t, tbl.Insert(1, 1)) // partition 1 untouched so far
	require.NoError(t, tbl.FlushAll())

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	require.Equal(t, []int64{0, 1, 2}, order)
}
