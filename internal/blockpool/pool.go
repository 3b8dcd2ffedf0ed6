package blockpool

import (
	"container/list"
	"sync"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// DefaultBlockSize is the pool-chosen ByteBlock capacity: 2 MiB.
const DefaultBlockSize = 2 << 20

// BlockPool allocates ByteBlocks, enforces a hard resident-memory cap,
// evicts LRU unpinned blocks to a per-host swap file, and satisfies pin
// requests asynchronously.
//
// All swap-file I/O, both eviction writes and swap-in reads, is serialized
// onto a single helper goroutine, so concurrent allocators never race on
// the swap file itself. The pool mutex below only protects in-memory
// bookkeeping (the LRU list and usedBytes counter; residence lives on each
// ByteBlock under its own mutex) and is released before any I/O job is
// awaited.
type BlockPool struct {
	blockSize int
	capBytes  int64
	pager     *PageMapper

	mu        sync.Mutex
	cond      *sync.Cond
	usedBytes int64
	lru       *list.List // front = least recently used

	ioJobs chan func()
	ioDone chan struct{}
}

// NewBlockPool creates a pool with the given resident-byte cap and block
// size, backed by a swap file managed through pager.
func NewBlockPool(capBytes int64, blockSize int, pager *PageMapper) *BlockPool {
	p := &BlockPool{
		blockSize: blockSize,
		capBytes:  capBytes,
		pager:     pager,
		lru:       list.New(),
		ioJobs:    make(chan func(), 64),
		ioDone:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.ioLoop()
	return p
}

// ioLoop is the pool's single I/O helper goroutine: every swap-file read or
// write is submitted here and executed strictly in submission order.
func (p *BlockPool) ioLoop() {
	for job := range p.ioJobs {
		job()
	}
	close(p.ioDone)
}

// runIO submits job to the I/O helper goroutine and blocks until it
// completes, returning its error.
func (p *BlockPool) runIO(job func() error) error {
	done := make(chan error, 1)
	p.ioJobs <- func() { done <- job() }
	return <-done
}

// Close stops the I/O helper goroutine and closes the swap file. Blocks
// until in-flight I/O has drained.
func (p *BlockPool) Close() error {
	close(p.ioJobs)
	<-p.ioDone
	return p.pager.Close()
}

// AllocateByteBlock blocks until size bytes fit under the resident cap,
// evicting LRU unpinned blocks if necessary, then returns a resident
// ByteBlock pinned once on behalf of worker.
func (p *BlockPool) AllocateByteBlock(size int, worker int) (*ByteBlock, error) {
	p.mu.Lock()
	for {
		if p.usedBytes+int64(size) <= p.capBytes {
			p.usedBytes += int64(size)
			break
		}
		victim := p.lru.Front()
		if victim == nil {
			// Nothing evictable: every resident block is pinned. Wait
			// indefinitely; well-formed pipelines pin only what is actively
			// being written/read, so this resolves once a concurrent Unpin
			// makes a block LRU-eligible.
			p.cond.Wait()
			continue
		}
		bb := victim.Value.(*ByteBlock)
		p.lru.Remove(victim)
		bb.lruEl = nil
		p.mu.Unlock()
		if err := p.evict(bb); err != nil {
			if dflowerrors.Is(dflowerrors.Usage, err) {
				// Lost a race with a concurrent Pin on the victim; it is no
				// longer evictable, so pick another.
				p.mu.Lock()
				continue
			}
			return nil, err
		}
		p.mu.Lock()
		// bb's bytes are gone; usedBytes already reflects it (evict decremented).
	}
	p.mu.Unlock()

	bb := newByteBlock(p, size)
	bb.res = residentPinned
	bb.pins[worker] = 1
	return bb, nil
}

// evict requires bb to be unpinned (already removed from the LRU list by
// the caller) and writes its bytes to the swap file, dropping the resident
// buffer. Called both from AllocateByteBlock (to make room) and directly
// via EvictBlock.
func (p *BlockPool) evict(bb *ByteBlock) error {
	bb.mu.Lock()
	if bb.res != residentUnpinned {
		bb.mu.Unlock()
		return dflowerrors.UsageError(dflowerrors.Context{}, "evict: block is not resident-unpinned")
	}
	data := bb.data
	size := len(data)
	if !bb.hasToken {
		bb.token = p.pager.Allocate()
		bb.hasToken = true
	}
	token := bb.token
	// Transition before the write is submitted: a concurrent Pin now takes
	// the swap-in path, and the single I/O goroutine orders that read after
	// this write.
	bb.data = nil
	bb.res = swappedOut
	bb.mu.Unlock()

	err := p.runIO(func() error { return p.pager.WriteAt(token, data) })

	p.mu.Lock()
	p.usedBytes -= int64(size)
	p.mu.Unlock()
	p.cond.Broadcast()
	return err
}

// EvictBlock synchronously evicts bb, which must be unpinned. It is the
// direct, caller-initiated counterpart to the LRU eviction AllocateByteBlock
// performs automatically.
func (p *BlockPool) EvictBlock(bb *ByteBlock) error {
	bb.mu.Lock()
	if bb.res != residentUnpinned {
		bb.mu.Unlock()
		return dflowerrors.UsageError(dflowerrors.Context{}, "EvictBlock: block must be unpinned")
	}
	bb.mu.Unlock()

	p.mu.Lock()
	if bb.lruEl != nil {
		p.lru.Remove(bb.lruEl)
		bb.lruEl = nil
	}
	p.mu.Unlock()
	return p.evict(bb)
}

// Pin returns a future for a per-worker pin on bb. It completes immediately
// if bb is resident; otherwise it enqueues a swap-in read and completes
// when that read finishes.
func (p *BlockPool) Pin(bb *ByteBlock, worker int) *PinRequest {
	bb.mu.Lock()
	switch bb.res {
	case residentUnpinned:
		p.mu.Lock()
		if bb.lruEl != nil {
			p.lru.Remove(bb.lruEl)
			bb.lruEl = nil
		}
		p.mu.Unlock()
		bb.res = residentPinned
		bb.pins[worker]++
		bb.mu.Unlock()
		return completedPinRequest(nil)

	case residentPinned:
		bb.pins[worker]++
		bb.mu.Unlock()
		return completedPinRequest(nil)

	case swappingIn:
		bb.pins[worker]++
		ch := make(chan error, 1)
		bb.waiters = append(bb.waiters, ch)
		bb.mu.Unlock()
		return &PinRequest{done: ch}

	default: // swappedOut
		bb.pins[worker]++
		bb.res = swappingIn
		ch := make(chan error, 1)
		bb.waiters = append(bb.waiters, ch)
		size := bb.size
		token := bb.token
		bb.mu.Unlock()
		p.swapIn(bb, token, size)
		return &PinRequest{done: ch}
	}
}

// swapIn reserves resident budget for bb (waiting/evicting as needed, same
// as AllocateByteBlock), then reads its bytes back from the swap file on
// the I/O helper goroutine.
func (p *BlockPool) swapIn(bb *ByteBlock, token int64, size int) {
	go func() {
		p.mu.Lock()
		for p.usedBytes+int64(size) > p.capBytes {
			victim := p.lru.Front()
			if victim == nil {
				p.cond.Wait()
				continue
			}
			evictee := victim.Value.(*ByteBlock)
			p.lru.Remove(victim)
			evictee.lruEl = nil
			p.mu.Unlock()
			_ = p.evict(evictee)
			p.mu.Lock()
		}
		p.usedBytes += int64(size)
		p.mu.Unlock()

		buf := make([]byte, size)
		err := p.runIO(func() error { return p.pager.ReadAt(token, buf) })

		bb.mu.Lock()
		bb.data = buf
		bb.res = residentPinned
		waiters := bb.waiters
		bb.waiters = nil
		bb.mu.Unlock()

		for _, w := range waiters {
			w <- err
		}
	}()
}

// Unpin decrements worker's pin count on bb; once every worker has released
// its pin, bb becomes LRU-eligible for eviction.
func (p *BlockPool) Unpin(bb *ByteBlock, worker int) {
	bb.mu.Lock()
	if bb.pins[worker] > 0 {
		bb.pins[worker]--
		if bb.pins[worker] == 0 {
			delete(bb.pins, worker)
		}
	}
	stillPinned := len(bb.pins) > 0
	bb.mu.Unlock()

	if stillPinned {
		return
	}

	bb.mu.Lock()
	if bb.res == residentPinned {
		bb.res = residentUnpinned
	}
	bb.mu.Unlock()

	p.mu.Lock()
	if bb.res == residentUnpinned && bb.lruEl == nil {
		bb.lruEl = p.lru.PushBack(bb)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// destroy releases a ByteBlock's resources once its reference count hits
// zero: it leaves the LRU list and returns any swap slot to the free list.
func (p *BlockPool) destroy(bb *ByteBlock) {
	p.mu.Lock()
	if bb.lruEl != nil {
		p.lru.Remove(bb.lruEl)
		bb.lruEl = nil
	}
	sz := 0
	bb.mu.Lock()
	if bb.data != nil {
		sz = len(bb.data)
	}
	hasToken := bb.hasToken
	token := bb.token
	bb.mu.Unlock()
	if sz > 0 {
		p.usedBytes -= int64(sz)
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	if hasToken {
		p.pager.Free(token)
	}
}

// UsedBytes reports current resident byte usage, for tests and diagnostics.
func (p *BlockPool) UsedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedBytes
}

// CapBytes reports the pool's configured resident-byte cap.
func (p *BlockPool) CapBytes() int64 {
	return p.capBytes
}

// BlockSize reports the pool's configured block size.
func (p *BlockPool) BlockSize() int {
	return p.blockSize
}
