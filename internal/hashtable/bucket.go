package hashtable

import dflowerrors "github.com/dreamware/dflow/internal/errors"

// bucketChunkCap is the fixed capacity of one chunk in a bucket chain.
const bucketChunkCap = 16

// chunk is one fixed-capacity item array in a bucket's singly-linked chain.
type chunk[K any, V any] struct {
	next *chunk[K, V]
	n    int
	keys [bucketChunkCap]K
	vals [bucketChunkCap]V
}

// BucketTable is the chained-bucket variant: each slot heads a
// singly-linked chain of small fixed-capacity item arrays instead of a
// single probed cell, trading probing's tight cache behavior for no
// full-partition probe-wrap case: a bucket slot simply grows another
// chunk.
type BucketTable[K comparable, V any] struct {
	cfg     Config[K, V]
	heads   []*chunk[K, V] // len == Partitions*SlotsPerPartition
	perPart []int64
	total   int64
}

// NewBucket builds a BucketTable.
func NewBucket[K comparable, V any](cfg Config[K, V]) *BucketTable[K, V] {
	return &BucketTable[K, V]{
		cfg:     cfg,
		heads:   make([]*chunk[K, V], cfg.Partitions*cfg.SlotsPerPartition),
		perPart: make([]int64, cfg.Partitions),
	}
}

// NumItems returns the total number of live (key, value) pairs currently
// resident across every partition.
func (t *BucketTable[K, V]) NumItems() int64 { return t.total }

// Insert scans the key's slot chain for a match (reducing in place) or
// appends to the head chunk, allocating a new one if it is full. If the
// partition's fill limit is exceeded afterward, the whole partition spills.
func (t *BucketTable[K, V]) Insert(key K, value V) error {
	p := t.cfg.partitionOf(key)
	slot := p*t.cfg.SlotsPerPartition + t.cfg.slotOf(key)

	for c := t.heads[slot]; c != nil; c = c.next {
		for i := 0; i < c.n; i++ {
			if c.keys[i] == key {
				c.vals[i] = t.cfg.Reduce(c.vals[i], value)
				return nil
			}
		}
	}

	head := t.heads[slot]
	if head == nil || head.n == bucketChunkCap {
		head = &chunk[K, V]{next: head}
		t.heads[slot] = head
	}
	head.keys[head.n] = key
	head.vals[head.n] = value
	head.n++
	t.perPart[p]++
	t.total++

	if t.cfg.FillLimit > 0 && t.perPart[p] > int64(t.cfg.FillLimit) {
		return t.spillPartition(p)
	}
	return nil
}

// spillPartition walks every slot in partition p's range, emits every item
// in chain order, and releases the chunks.
func (t *BucketTable[K, V]) spillPartition(p int) error {
	base := p * t.cfg.SlotsPerPartition
	for i := 0; i < t.cfg.SlotsPerPartition; i++ {
		idx := base + i
		for c := t.heads[idx]; c != nil; c = c.next {
			for j := 0; j < c.n; j++ {
				if err := t.cfg.Emit(c.keys[j], c.vals[j]); err != nil {
					return dflowerrors.New(dflowerrors.IO, dflowerrors.Context{}, err)
				}
			}
		}
		t.heads[idx] = nil
	}
	t.total -= t.perPart[p]
	t.perPart[p] = 0
	return nil
}

// FlushAll spills every partition, in partition-index order, and resets the
// table to empty.
func (t *BucketTable[K, V]) FlushAll() error {
	for p := 0; p < t.cfg.Partitions; p++ {
		if err := t.spillPartition(p); err != nil {
			return err
		}
	}
	return nil
}
