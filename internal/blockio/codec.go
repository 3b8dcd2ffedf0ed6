package blockio

import "encoding/binary"

// Codec is the serialization capability required of every record type T:
// encode to a byte sink with stateful put operations, decode from a byte
// source with get operations, report a fixed size (or "variable"), and
// supply a stable type hash for self-verification.
//
// The core does not prescribe the encoding; any adapter over a third-party
// serialization library satisfies this interface.
type Codec[T any] interface {
	// Encode writes v's serialization to w.
	Encode(w *Writer, v T) error
	// Decode reads and returns one T from r.
	Decode(r *Reader) (T, error)
	// FixedSize returns the encoded size in bytes and true if T has a
	// constant size, or (0, false) if the size is variable. Only
	// fixed-size codecs support Reader.Skip's byte-arithmetic fast path.
	FixedSize() (size int, fixed bool)
	// TypeHash returns a stable hash of T's shape, checked on read when
	// self-verification is enabled.
	TypeHash() uint64
}

// Int64Codec encodes int64 values as 8 little-endian bytes. It is the
// primitive codec the core's own tests use.
type Int64Codec struct{}

func (Int64Codec) Encode(w *Writer, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return w.PutRaw(buf[:])
}

func (Int64Codec) Decode(r *Reader) (int64, error) {
	buf, err := r.GetRaw(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (Int64Codec) FixedSize() (int, bool) { return 8, true }

func (Int64Codec) TypeHash() uint64 { return 0x696e7436345f7663 } // "int64_vc"

// StringCodec encodes strings as a 4-byte little-endian length prefix
// followed by the raw UTF-8 bytes: the core's canonical variable-size
// example codec.
type StringCodec struct{}

func (StringCodec) Encode(w *Writer, v string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	if err := w.PutRaw(lenBuf[:]); err != nil {
		return err
	}
	return w.PutRaw([]byte(v))
}

func (StringCodec) Decode(r *Reader) (string, error) {
	lenBuf, err := r.GetRaw(4)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	raw, err := r.GetRaw(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (StringCodec) FixedSize() (int, bool) { return 0, false }

func (StringCodec) TypeHash() uint64 { return 0x737472696e675f76 } // "string_v"

// KVCodec composes two fixed or variable-size Codecs into a codec for a
// key/value pair, used by the hash table's partition emitters.
type KVCodec[K, V any] struct {
	Key   Codec[K]
	Value Codec[V]
}

type KV[K, V any] struct {
	Key   K
	Value V
}

func (c KVCodec[K, V]) Encode(w *Writer, v KV[K, V]) error {
	if err := c.Key.Encode(w, v.Key); err != nil {
		return err
	}
	return c.Value.Encode(w, v.Value)
}

func (c KVCodec[K, V]) Decode(r *Reader) (KV[K, V], error) {
	var out KV[K, V]
	k, err := c.Key.Decode(r)
	if err != nil {
		return out, err
	}
	v, err := c.Value.Decode(r)
	if err != nil {
		return out, err
	}
	out.Key, out.Value = k, v
	return out, nil
}

func (c KVCodec[K, V]) FixedSize() (int, bool) {
	ks, kfixed := c.Key.FixedSize()
	vs, vfixed := c.Value.FixedSize()
	if kfixed && vfixed {
		return ks + vs, true
	}
	return 0, false
}

func (c KVCodec[K, V]) TypeHash() uint64 {
	return c.Key.TypeHash()*31 + c.Value.TypeHash()
}
