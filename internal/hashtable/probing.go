package hashtable

import dflowerrors "github.com/dreamware/dflow/internal/errors"

// ProbingTable is the probing variant: a contiguous array of slots split
// into Config.Partitions equal ranges, each holding at most one key/value
// per slot with linear probing confined to the owning partition's slot
// range.
//
// A slot's occupancy is tracked in a parallel occupied bitmap rather than
// by a sentinel key value: K is an arbitrary comparable type parameter
// with no canonical sentinel the caller can be relied on never to insert.
type ProbingTable[K comparable, V any] struct {
	cfg      Config[K, V]
	keys     []K
	values   []V
	occupied []bool
	perPart  []int64
	total    int64
}

// NewProbing builds a ProbingTable. cfg.Partitions and cfg.SlotsPerPartition
// must both be positive.
func NewProbing[K comparable, V any](cfg Config[K, V]) *ProbingTable[K, V] {
	n := cfg.Partitions * cfg.SlotsPerPartition
	return &ProbingTable[K, V]{
		cfg:      cfg,
		keys:     make([]K, n),
		values:   make([]V, n),
		occupied: make([]bool, n),
		perPart:  make([]int64, cfg.Partitions),
	}
}

// NumItems returns the total number of live (key, value) pairs currently
// resident across every partition.
func (t *ProbingTable[K, V]) NumItems() int64 { return t.total }

// Insert adds (key, value) to the table, reducing with any existing value
// for key. If the key's partition is full (the linear probe wraps back to
// its origin slot), the whole partition is spilled via Config.Emit first
// and the insert retried. If a new key pushes the partition past its fill
// limit, the pair is inserted and then the whole partition, including it,
// is spilled.
func (t *ProbingTable[K, V]) Insert(key K, value V) error {
	for {
		ok, err := t.tryInsert(key, value)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := t.spillPartition(t.cfg.partitionOf(key)); err != nil {
			return err
		}
	}
}

// tryInsert attempts a single probing pass; ok is false when the partition
// is full and the caller must spill and retry.
func (t *ProbingTable[K, V]) tryInsert(key K, value V) (ok bool, err error) {
	p := t.cfg.partitionOf(key)
	base := p * t.cfg.SlotsPerPartition
	home := t.cfg.slotOf(key)

	for i := 0; i < t.cfg.SlotsPerPartition; i++ {
		idx := base + (home+i)%t.cfg.SlotsPerPartition
		if !t.occupied[idx] {
			t.keys[idx] = key
			t.values[idx] = value
			t.occupied[idx] = true
			t.perPart[p]++
			t.total++
			if t.cfg.FillLimit > 0 && t.perPart[p] > int64(t.cfg.FillLimit) {
				if err := t.spillPartition(p); err != nil {
					return false, err
				}
			}
			return true, nil
		}
		if t.keys[idx] == key {
			t.values[idx] = t.cfg.Reduce(t.values[idx], value)
			return true, nil
		}
	}
	return false, nil
}

// spillPartition emits every live pair in partition p, in slot order, then
// clears it.
func (t *ProbingTable[K, V]) spillPartition(p int) error {
	base := p * t.cfg.SlotsPerPartition
	var zeroK K
	var zeroV V
	for i := 0; i < t.cfg.SlotsPerPartition; i++ {
		idx := base + i
		if !t.occupied[idx] {
			continue
		}
		if err := t.cfg.Emit(t.keys[idx], t.values[idx]); err != nil {
			return dflowerrors.New(dflowerrors.IO, dflowerrors.Context{}, err)
		}
		t.occupied[idx] = false
		t.keys[idx] = zeroK
		t.values[idx] = zeroV
	}
	t.total -= t.perPart[p]
	t.perPart[p] = 0
	return nil
}

// FlushAll spills every partition, in partition-index order, and resets the
// table to empty.
func (t *ProbingTable[K, V]) FlushAll() error {
	for p := 0; p < t.cfg.Partitions; p++ {
		if err := t.spillPartition(p); err != nil {
			return err
		}
	}
	return nil
}
