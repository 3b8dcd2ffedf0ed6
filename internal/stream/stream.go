package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/dreamware/dflow/internal/blockpool"
	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// ID identifies a Stream cluster-wide; every host allocates the same ID for
// the same logical Stream deterministically.
type ID uint64

// Kind is Cat or Mix, fixed at Stream creation.
type Kind int

const (
	Cat Kind = iota
	Mix
)

// DefaultBackpressureBytes is the per-Stream outstanding-bytes allowance a
// Writer's semaphore enforces when no explicit budget is configured.
const DefaultBackpressureBytes = 64 << 20

// Stats counts one Stream endpoint's traffic in both directions. Counters
// are atomic so a stats reporter can sample them while workers are still
// writing.
type Stats struct {
	RxBytes  atomic.Int64
	RxItems  atomic.Int64
	RxBlocks atomic.Int64
	TxBytes  atomic.Int64
	TxItems  atomic.Int64
	TxBlocks atomic.Int64
}

// MixItem is one Block delivered through a Mix Stream, tagged with the
// sending worker's global index. The source is always exposed: hiding it is
// a projection the caller can apply trivially, while symmetric algorithms
// that need the rank cannot recover a hidden one.
type MixItem struct {
	Source int
	Block  blockpool.Block
}

// Local delivers a Block or close signal to a Stream endpoint owned by a
// worker local to this host, bypassing the network entirely.
type Local interface {
	DeliverBlock(id ID, kind Kind, sender, receiver int, b blockpool.Block) error
	DeliverClose(id ID, kind Kind, sender, receiver int) error
}

// Transport delivers a Block or close signal to a worker on another host,
// via the multiplexer. SendBlock blocks until the framed bytes have been
// written to the connection; the caller's backpressure budget is held for
// exactly that long.
type Transport interface {
	SendBlock(id ID, kind Kind, sender, receiver int, b blockpool.Block) error
	SendClose(id ID, kind Kind, sender, receiver int) error
}

// Topology answers "is this global worker index local to this host", the
// only fact Stream needs to route a Put between Local and Transport.
type Topology interface {
	IsLocal(globalWorker int) bool
	NumWorkers() int
}

// Stream is one worker's local handle onto a cluster-wide Cat or Mix
// stream: it owns the receive-side queues addressed to worker, and hands
// out Writer handles this worker uses to send to every other worker,
// including itself.
type Stream struct {
	id     ID
	kind   Kind
	worker int
	topo   Topology
	local  Local
	trans  Transport

	sem   *semaphore.Weighted
	stats Stats

	mu           sync.Mutex
	catQueues    []*Queue[blockpool.Block] // len == topo.NumWorkers(), Cat only
	mixQueue     *Queue[MixItem]           // Mix only
	writerClosed map[int]bool              // per-target idempotency (sender side)
	closedFrom   map[int]bool              // per-sender idempotency (receive side)
	closesSeen   int                       // Mix only: count of distinct senders closed
}

// New creates a Stream endpoint for worker, backed by local (sibling
// delivery) and trans (cross-host delivery), per topo's routing.
func New(id ID, kind Kind, worker int, topo Topology, local Local, trans Transport) *Stream {
	s := &Stream{
		id:           id,
		kind:         kind,
		worker:       worker,
		topo:         topo,
		local:        local,
		trans:        trans,
		sem:          semaphore.NewWeighted(DefaultBackpressureBytes),
		writerClosed: make(map[int]bool),
		closedFrom:   make(map[int]bool),
	}
	if kind == Cat {
		s.catQueues = make([]*Queue[blockpool.Block], topo.NumWorkers())
		for i := range s.catQueues {
			s.catQueues[i] = NewQueue[blockpool.Block]()
		}
	} else {
		s.mixQueue = NewQueue[MixItem]()
	}
	return s
}

// ID returns the Stream's cluster-wide identifier.
func (s *Stream) ID() ID { return s.id }

// Stats returns the endpoint's traffic counters.
func (s *Stream) Stats() *Stats { return &s.stats }

// GetWriters returns one Writer per target global worker index, including
// this worker itself.
func (s *Stream) GetWriters() []*Writer {
	ws := make([]*Writer, s.topo.NumWorkers())
	for i := range ws {
		ws[i] = &Writer{stream: s, target: i}
	}
	return ws
}

// GetCatReader returns this worker's Cat reader, which exhausts source 0,
// then source 1, and so on. Valid only for a Cat Stream.
func (s *Stream) GetCatReader() *CatReader {
	return &CatReader{stream: s}
}

// GetMixReader returns this worker's Mix reader, which yields Blocks in
// arrival order tagged with their source. Valid only for a Mix Stream.
func (s *Stream) GetMixReader() *MixReader {
	return &MixReader{stream: s}
}

// deliverLocalOrRemote routes a Block from this worker (the sender) to
// target, via Local when target is on this host or via Transport
// otherwise.
func (s *Stream) deliverLocalOrRemote(target int, b blockpool.Block) error {
	if s.topo.IsLocal(target) {
		return s.local.DeliverBlock(s.id, s.kind, s.worker, target, b)
	}
	return s.trans.SendBlock(s.id, s.kind, s.worker, target, b)
}

func (s *Stream) closeTarget(target int) error {
	s.mu.Lock()
	if s.writerClosed[target] {
		s.mu.Unlock()
		return nil
	}
	s.writerClosed[target] = true
	s.mu.Unlock()

	if s.topo.IsLocal(target) {
		return s.local.DeliverClose(s.id, s.kind, s.worker, target)
	}
	return s.trans.SendClose(s.id, s.kind, s.worker, target)
}

// DeliverBlock implements Local for this Stream, called either directly by
// a sibling Stream on the same host or by the multiplexer's Repository once
// it has decoded an incoming network Block addressed to worker.
func (s *Stream) DeliverBlock(sender int, b blockpool.Block) error {
	s.stats.RxBytes.Add(b.Size())
	s.stats.RxItems.Add(b.NumItems)
	s.stats.RxBlocks.Add(1)
	switch s.kind {
	case Cat:
		if sender < 0 || sender >= len(s.catQueues) {
			return dflowerrors.UsageError(dflowerrors.Context{StreamID: streamIDString(s.id)}, "stream: sender out of range")
		}
		s.catQueues[sender].Push(b)
	default:
		s.mixQueue.Push(MixItem{Source: sender, Block: b})
	}
	return nil
}

// DeliverClose implements Local's close half: it closes the per-source
// queue (Cat) or counts toward the W sentinels a Mix queue needs before it
// closes.
func (s *Stream) DeliverClose(sender int) error {
	if sender < 0 || sender >= s.topo.NumWorkers() {
		return dflowerrors.UsageError(dflowerrors.Context{StreamID: streamIDString(s.id)}, "stream: sender out of range")
	}
	s.mu.Lock()
	if s.closedFrom[sender] {
		s.mu.Unlock()
		return nil
	}
	s.closedFrom[sender] = true
	s.mu.Unlock()

	switch s.kind {
	case Cat:
		s.catQueues[sender].Close()
	default:
		s.mu.Lock()
		s.closesSeen++
		done := s.closesSeen >= s.topo.NumWorkers()
		s.mu.Unlock()
		if done {
			s.mixQueue.Close()
		}
	}
	return nil
}

func streamIDString(id ID) string {
	const hexDigits = "0123456789abcdef"
	if id == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = hexDigits[id&0xf]
		id >>= 4
	}
	return string(buf[i:])
}

// Writer is this worker's handle for sending Blocks to one target global
// worker index.
type Writer struct {
	stream *Stream
	target int
}

// Put acquires backpressure budget proportional to b's payload size, then
// delivers it. It blocks when the Stream's outstanding-bytes semaphore is
// saturated.
func (w *Writer) Put(ctx context.Context, b blockpool.Block) error {
	n := b.Size()
	if n > 0 {
		if err := w.stream.sem.Acquire(ctx, n); err != nil {
			return err
		}
	}
	err := w.stream.deliverLocalOrRemote(w.target, b)
	if n > 0 {
		w.stream.sem.Release(n)
	}
	if err == nil {
		w.stream.stats.TxBytes.Add(n)
		w.stream.stats.TxItems.Add(b.NumItems)
		w.stream.stats.TxBlocks.Add(1)
	}
	return err
}

// Close sends this writer's zero-payload sentinel to its target. A second
// Close is a no-op.
func (w *Writer) Close() error {
	return w.stream.closeTarget(w.target)
}
