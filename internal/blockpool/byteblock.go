package blockpool

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// residence is the eviction state of a ByteBlock.
type residence int32

const (
	residentUnpinned residence = iota
	residentPinned
	swappedOut
	swappingIn
)

// ByteBlock is a reference-counted, fixed-capacity byte buffer owned by a
// BlockPool. Once published (its Bytes have been written and Seal'd by a
// BlockWriter) its bytes are read-only; only residence and pin bookkeeping
// mutate afterward.
//
// ByteBlock never shrinks or grows: Capacity() is fixed at allocation and
// equals the size passed to AllocateByteBlock, which may be smaller than the
// pool's configured block size.
type ByteBlock struct {
	pool *BlockPool
	size int // allocation size; may be smaller than the pool's block size

	mu       sync.Mutex
	data     []byte // nil when swappedOut or swappingIn
	res      residence
	token    int64 // swap slot, valid once ever assigned
	hasToken bool
	pins     map[int]int32 // per-worker pin count, workers with 0 are absent
	waiters  []chan error  // PinRequest waiters for an in-flight swap-in

	refs  atomic.Int64  // Block views + File + in-flight I/O
	lruEl *list.Element // set iff res == residentUnpinned, element.Value is this *ByteBlock
}

func newByteBlock(pool *BlockPool, size int) *ByteBlock {
	bb := &ByteBlock{
		pool: pool,
		size: size,
		data: make([]byte, size),
		pins: make(map[int]int32),
	}
	bb.refs.Store(1)
	return bb
}

// Capacity returns the fixed buffer size this ByteBlock was allocated with.
func (bb *ByteBlock) Capacity() int {
	return bb.size
}

// Retain increments the reference count. Called whenever a new Block view,
// File entry, or in-flight I/O takes a reference.
func (bb *ByteBlock) Retain() {
	bb.refs.Add(1)
}

// Release decrements the reference count, destroying the ByteBlock's
// resources (swap slot, resident memory) once it reaches zero.
func (bb *ByteBlock) Release() {
	if bb.refs.Add(-1) == 0 {
		bb.pool.destroy(bb)
	}
}

// Bytes returns the resident byte slice. The caller must hold a pin (or
// otherwise know the block is resident, e.g. immediately after
// AllocateByteBlock); reading a swapped-out block's Bytes is a programming
// error and returns nil.
func (bb *ByteBlock) Bytes() []byte {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.data
}

// PinRequest is a future completed when a pin on a possibly-swapped-out
// ByteBlock is satisfied.
type PinRequest struct {
	done chan error
	err  error
	once sync.Once
}

// Wait blocks until the pin completes, returning any swap-in I/O error.
func (pr *PinRequest) Wait() error {
	pr.once.Do(func() {
		pr.err = <-pr.done
	})
	return pr.err
}

func completedPinRequest(err error) *PinRequest {
	ch := make(chan error, 1)
	ch <- err
	return &PinRequest{done: ch}
}
