package hashtable

import "hash/fnv"

// HashFn computes a 64-bit hash of a key. FNVString and FNVInt64 below are
// the two provided implementations; hash functions must be pure, since
// every worker recomputes the same partition assignment independently.
type HashFn[K any] func(K) uint64

// ReduceFn combines two values for the same key. Must be associative and
// commutative: spills interleave reduction order arbitrarily.
type ReduceFn[V any] func(a, b V) V

// Emitter is called with every (key, value) pair a table spills, either
// because one partition overflowed during insertion or because FlushAll
// drained the whole table at end of input.
type Emitter[K any, V any] func(key K, value V) error

// Table is the shared contract both variants (and the reduce-by-index
// specialization) satisfy, letting ReducePrephase stay variant-agnostic.
type Table[K any, V any] interface {
	Insert(key K, value V) error
	FlushAll() error
	NumItems() int64
}

// Config parameterizes a table. Key extraction is the caller's concern
// (the caller already has a K to insert by the time Insert is called);
// what the table owns is the reduce function, the partition count, the
// per-partition slot count, the per-partition item fill limit, and the
// partition emitter.
type Config[K any, V any] struct {
	Partitions        int
	SlotsPerPartition int
	FillLimit         int
	Hash              HashFn[K]
	Reduce            ReduceFn[V]
	Emit              Emitter[K, V]
}

func (c Config[K, V]) partitionOf(key K) int {
	return int(c.Hash(key) % uint64(c.Partitions))
}

// PartitionOf exposes Config's hash(key) mod P computation so a
// ReducePrephase built from the same Config routes each key to the
// partition-writer matching the Table's own in-memory bucketing.
func PartitionOf[K any, V any](cfg Config[K, V], key K) int {
	return cfg.partitionOf(key)
}

func (c Config[K, V]) slotOf(key K) int {
	return int(c.Hash(key) % uint64(c.SlotsPerPartition))
}

// FNVString hashes a string with 64-bit FNV-1a.
func FNVString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// FNVInt64 hashes an int64 key by hashing its little-endian byte
// representation through the same FNV-1a primitive as FNVString.
func FNVInt64(v int64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
