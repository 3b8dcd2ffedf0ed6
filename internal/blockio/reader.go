package blockio

import (
	"encoding/binary"
	"io"

	"github.com/dreamware/dflow/internal/blockpool"
	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// Source supplies Blocks to a Reader: a File's KeepReader/ConsumeReader, or
// a Stream reader.
type Source interface {
	NextBlock() (blockpool.Block, bool)
}

// Reader pulls Blocks from a Source and presents an append-only byte
// stream to Decode, advancing across Block boundaries transparently.
type Reader struct {
	pool   *blockpool.BlockPool
	worker int
	src    Source

	cur    blockpool.Block
	curBuf []byte
	pos    int64 // offset into cur.Bytes()
	have   bool
	eof    bool

	itemsConsumed int64
}

// NewReader creates a Reader pulling Blocks from src on behalf of worker,
// pinning each Block's ByteBlock through pool while it is being read.
func NewReader(pool *blockpool.BlockPool, worker int, src Source) *Reader {
	return &Reader{pool: pool, worker: worker, src: src}
}

func (r *Reader) advance() bool {
	if r.have {
		r.pool.Unpin(r.cur.ByteBlock, r.worker)
		r.cur.Release()
		r.have = false
	}
	b, ok := r.src.NextBlock()
	if !ok {
		r.eof = true
		return false
	}
	pr := r.pool.Pin(b.ByteBlock, r.worker)
	if err := pr.Wait(); err != nil {
		r.eof = true
		return false
	}
	r.cur = b
	r.curBuf = b.Bytes()
	r.pos = 0
	r.have = true
	return true
}

// HasNext reports whether at least one more byte is available. It may
// block on the Source when the Source is a Stream still receiving blocks.
func (r *Reader) HasNext() bool {
	for {
		if r.have && r.pos < int64(len(r.curBuf)) {
			return true
		}
		if r.eof {
			return false
		}
		if !r.advance() {
			return false
		}
	}
}

// GetByte returns the next byte.
func (r *Reader) GetByte() (byte, error) {
	buf, err := r.GetRaw(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// GetRaw returns the next n bytes, possibly assembled by copying across a
// Block boundary.
func (r *Reader) GetRaw(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if !r.HasNext() {
		return nil, dflowerrors.SerializationError(dflowerrors.Context{}, io.ErrUnexpectedEOF)
	}
	avail := int64(len(r.curBuf)) - r.pos
	if avail >= int64(n) {
		out := r.curBuf[r.pos : r.pos+int64(n)]
		r.pos += int64(n)
		return out, nil
	}
	out := make([]byte, 0, n)
	remaining := n
	for remaining > 0 {
		if !r.HasNext() {
			return nil, dflowerrors.SerializationError(dflowerrors.Context{}, io.ErrUnexpectedEOF)
		}
		avail := int(int64(len(r.curBuf)) - r.pos)
		take := remaining
		if take > avail {
			take = avail
		}
		out = append(out, r.curBuf[r.pos:r.pos+int64(take)]...)
		r.pos += int64(take)
		remaining -= take
	}
	return out, nil
}

// Get reads one T via codec, checking the self-verify type-hash prefix
// when SelfVerify is enabled.
func Get[T any](r *Reader, codec Codec[T]) (T, error) {
	var zero T
	if SelfVerify {
		hbuf, err := r.GetRaw(8)
		if err != nil {
			return zero, err
		}
		got := binary.LittleEndian.Uint64(hbuf)
		if got != codec.TypeHash() {
			return zero, dflowerrors.ProtocolMismatch(dflowerrors.Context{}, "block reader: type hash mismatch")
		}
	}
	v, err := codec.Decode(r)
	if err != nil {
		return zero, err
	}
	r.itemsConsumed++
	return v, nil
}

// Skip advances the reader by nItems items / nBytes bytes without
// deserializing. Only valid when the item type is fixed-size.
func (r *Reader) Skip(nItems int64, nBytes int64) error {
	remaining := nBytes
	for remaining > 0 {
		if !r.HasNext() {
			return dflowerrors.SerializationError(dflowerrors.Context{}, io.ErrUnexpectedEOF)
		}
		avail := int64(len(r.curBuf)) - r.pos
		take := remaining
		if take > avail {
			take = avail
		}
		r.pos += take
		remaining -= take
	}
	r.itemsConsumed += nItems
	return nil
}
