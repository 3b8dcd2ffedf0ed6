package blockio

import (
	"encoding/binary"

	"github.com/dreamware/dflow/internal/blockpool"
	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// Sink receives sealed Blocks from a Writer, and a final close signal: a
// File (appends), a Stream writer, or a loopback BlockQueue.
type Sink interface {
	Put(blockpool.Block) error
	Close() error
}

// SelfVerify controls whether a type-hash prefix is emitted before every
// record and checked on read. It is a process-wide debug/release toggle,
// normally left off in production runs.
var SelfVerify = false

// Writer serializes a stream of typed items into successive Blocks
// delivered to a Sink. It owns one in-flight ByteBlock at a time.
type Writer struct {
	pool      *blockpool.BlockPool
	worker    int
	sink      Sink
	blockSize int

	cur        *blockpool.ByteBlock
	writeOff   int64
	firstItem  int64
	haveFirst  bool
	itemsInCur int64
}

// NewWriter creates a Writer that allocates Blocks from pool on behalf of
// worker and delivers sealed Blocks to sink.
func NewWriter(pool *blockpool.BlockPool, worker int, sink Sink) *Writer {
	return &Writer{pool: pool, worker: worker, sink: sink, blockSize: pool.BlockSize()}
}

func (w *Writer) ensureBlock() error {
	if w.cur != nil {
		return nil
	}
	bb, err := w.pool.AllocateByteBlock(w.blockSize, w.worker)
	if err != nil {
		return err
	}
	w.cur = bb
	w.writeOff = 0
	w.haveFirst = false
	w.itemsInCur = 0
	return nil
}

// MarkItem is called at the start of each record; it sets first_item on the
// first record whose start lands in the current block and increments
// nitems on every record start.
func (w *Writer) MarkItem() error {
	if err := w.ensureBlock(); err != nil {
		return err
	}
	if !w.haveFirst {
		w.firstItem = w.writeOff
		w.haveFirst = true
	}
	w.itemsInCur++
	return nil
}

// PutByte appends a single byte, sealing and rotating the current Block if
// it is full.
func (w *Writer) PutByte(b byte) error {
	return w.PutRaw([]byte{b})
}

// PutRaw appends raw bytes, splitting across Block boundaries (and thus
// across records, for oversized records) transparently.
func (w *Writer) PutRaw(p []byte) error {
	for len(p) > 0 {
		if err := w.ensureBlock(); err != nil {
			return err
		}
		room := int64(w.blockSize) - w.writeOff
		n := int64(len(p))
		if n > room {
			n = room
		}
		copy(w.cur.Bytes()[w.writeOff:], p[:n])
		w.writeOff += n
		p = p[n:]
		if w.writeOff >= int64(w.blockSize) {
			if err := w.seal(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Put writes v's serialization (optionally preceded by a self-verify type
// hash) via codec.
func Put[T any](w *Writer, codec Codec[T], v T) error {
	if err := w.MarkItem(); err != nil {
		return err
	}
	if SelfVerify {
		var hbuf [8]byte
		binary.LittleEndian.PutUint64(hbuf[:], codec.TypeHash())
		if err := w.PutRaw(hbuf[:]); err != nil {
			return err
		}
	}
	return codec.Encode(w, v)
}

// seal finalizes the current Block (setting first_item/nitems), hands it to
// the Sink, and clears the in-flight state so the next PutRaw allocates a
// fresh Block.
func (w *Writer) seal() error {
	if w.cur == nil {
		return nil
	}
	firstItem := w.firstItem
	if !w.haveFirst {
		// No record starts in this block: signal via first_item >= end.
		firstItem = w.writeOff
	}
	block := blockpool.Block{
		ByteBlock: w.cur,
		Begin:     0,
		End:       w.writeOff,
		FirstItem: firstItem,
		NumItems:  w.itemsInCur,
	}
	sealed := w.cur
	w.cur = nil
	err := w.sink.Put(block)
	// The pin is held across Put so a sink that copies the payload (a
	// Stream writer) never observes an evicted buffer; File sinks keep the
	// Block and re-pin on read.
	w.pool.Unpin(sealed, w.worker)
	if err != nil {
		return dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}
	return nil
}

// Flush seals the current Block even if partial.
func (w *Writer) Flush() error {
	if w.cur == nil || w.writeOff == 0 {
		return nil
	}
	return w.seal()
}

// Close flushes any partial Block, then forwards a close signal to the
// Sink.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.sink.Close()
}
