// Package blockpool implements the host-level ByteBlock allocator: it
// allocates fixed-capacity byte buffers, enforces a hard resident-memory
// cap, evicts least-recently-used unpinned buffers to a per-host swap file,
// and satisfies pin requests asynchronously when the backing bytes have been
// swapped out.
//
// A ByteBlock moves through a four-state eviction machine: resident-unpinned,
// resident-pinned (per-worker pin counts), swapped-out, and (transiently)
// swapping-in. Block, the read/write view over a ByteBlock's byte range,
// lives in this package too since its lifetime is entirely governed by the
// owning ByteBlock's refcount.
//
// One mutex guards the pool's bookkeeping (LRU list, byte counter); each
// ByteBlock's residence state sits under that block's own mutex. Actual I/O
// is performed outside the lock. AllocateByteBlock may
// evict to make room, but the eviction write itself does not hold the pool
// mutex.
package blockpool
