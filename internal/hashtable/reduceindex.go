package hashtable

// IndexReduceFn and IndexEmitter mirror ReduceFn/Emitter but over plain int
// keys, since ReduceByIndexTable's "hash" function is the identity: the key
// is already an integer in a known range.
type IndexReduceFn[V any] func(a, b V) V
type IndexEmitter[V any] func(index int, value V) error

// IndexConfig parameterizes ReduceByIndexTable: NumKeys is the size of the
// known key range [0, NumKeys), Partitions splits that range into
// contiguous sub-ranges that FlushAll emits in order.
type IndexConfig[V any] struct {
	NumKeys    int
	Partitions int
	Reduce     IndexReduceFn[V]
	Emit       IndexEmitter[V]
}

// ReduceByIndexTable is the reduce-to-index specialization: every
// partition's slot range exactly covers a contiguous key sub-range, so no
// probing or chaining is needed (direct addressing suffices) and the
// emitter sees keys in ascending order within each partition.
type ReduceByIndexTable[V any] struct {
	cfg     IndexConfig[V]
	values  []V
	present []bool
	perPart []int64
	total   int64
}

// NewReduceByIndex builds a ReduceByIndexTable over the key range
// [0, cfg.NumKeys).
func NewReduceByIndex[V any](cfg IndexConfig[V]) *ReduceByIndexTable[V] {
	return &ReduceByIndexTable[V]{
		cfg:     cfg,
		values:  make([]V, cfg.NumKeys),
		present: make([]bool, cfg.NumKeys),
		perPart: make([]int64, cfg.Partitions),
	}
}

func (t *ReduceByIndexTable[V]) partitionOf(index int) int {
	slotsPerPart := (t.cfg.NumKeys + t.cfg.Partitions - 1) / t.cfg.Partitions
	if slotsPerPart == 0 {
		slotsPerPart = 1
	}
	p := index / slotsPerPart
	if p >= t.cfg.Partitions {
		p = t.cfg.Partitions - 1
	}
	return p
}

// NumItems returns the number of distinct indices currently holding a
// value.
func (t *ReduceByIndexTable[V]) NumItems() int64 { return t.total }

// Insert folds value into index's running reduction. There is no spilling:
// the whole index range is addressed directly and sized up front, unlike
// the open-ended key space the probing/bucket variants handle.
func (t *ReduceByIndexTable[V]) Insert(index int, value V) error {
	if !t.present[index] {
		t.values[index] = value
		t.present[index] = true
		t.total++
		t.perPart[t.partitionOf(index)]++
		return nil
	}
	t.values[index] = t.cfg.Reduce(t.values[index], value)
	return nil
}

// FlushAll emits every present index, partition by partition, in ascending
// index order within each partition, then resets the table to empty.
func (t *ReduceByIndexTable[V]) FlushAll() error {
	slotsPerPart := (t.cfg.NumKeys + t.cfg.Partitions - 1) / t.cfg.Partitions
	if slotsPerPart == 0 {
		slotsPerPart = 1
	}
	for p := 0; p < t.cfg.Partitions; p++ {
		start := p * slotsPerPart
		end := start + slotsPerPart
		if end > t.cfg.NumKeys {
			end = t.cfg.NumKeys
		}
		for i := start; i < end; i++ {
			if !t.present[i] {
				continue
			}
			if err := t.cfg.Emit(i, t.values[i]); err != nil {
				return err
			}
			t.present[i] = false
		}
		t.perPart[p] = 0
	}
	t.total = 0
	return nil
}
