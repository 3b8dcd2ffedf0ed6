package multiplexer

import (
	"encoding/binary"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// Magic identifies which stream kind a Block belongs to.
type Magic byte

const (
	MagicCat       Magic = 1
	MagicMix       Magic = 2
	MagicPartition Magic = 3
)

// AllWorkers is the receiver_local_worker sentinel marking a "final close"
// header: one packet standing in for every per-worker close a peer host
// would otherwise send.
const AllWorkers uint32 = 0xffffffff

// HeaderSize is the fixed, unpadded wire size of a StreamBlockHeader:
// 1 + 8 + 4*7 bytes.
const HeaderSize = 1 + 8 + 4*7

// StreamBlockHeader precedes every Block transmitted between hosts.
// Fields are little-endian with no padding.
type StreamBlockHeader struct {
	Magic               Magic
	StreamID            uint64
	SenderHost          uint32
	SenderLocalWorker   uint32
	ReceiverLocalWorker uint32
	Seq                 uint32
	PayloadSize         uint32
	FirstItem           uint32
	NItems              uint32
}

// IsClose reports whether this header is a close sentinel: a zero payload
// size indicates end-of-stream from this sender.
func (h StreamBlockHeader) IsClose() bool {
	return h.PayloadSize == 0
}

// Encode serializes h into the fixed HeaderSize-byte wire layout.
func (h StreamBlockHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Magic)
	binary.LittleEndian.PutUint64(buf[1:9], h.StreamID)
	binary.LittleEndian.PutUint32(buf[9:13], h.SenderHost)
	binary.LittleEndian.PutUint32(buf[13:17], h.SenderLocalWorker)
	binary.LittleEndian.PutUint32(buf[17:21], h.ReceiverLocalWorker)
	binary.LittleEndian.PutUint32(buf[21:25], h.Seq)
	binary.LittleEndian.PutUint32(buf[25:29], h.PayloadSize)
	binary.LittleEndian.PutUint32(buf[29:33], h.FirstItem)
	binary.LittleEndian.PutUint32(buf[33:37], h.NItems)
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer into a StreamBlockHeader.
func DecodeHeader(buf []byte) (StreamBlockHeader, error) {
	if len(buf) < HeaderSize {
		return StreamBlockHeader{}, dflowerrors.SerializationError(dflowerrors.Context{}, errShortHeader)
	}
	var h StreamBlockHeader
	h.Magic = Magic(buf[0])
	h.StreamID = binary.LittleEndian.Uint64(buf[1:9])
	h.SenderHost = binary.LittleEndian.Uint32(buf[9:13])
	h.SenderLocalWorker = binary.LittleEndian.Uint32(buf[13:17])
	h.ReceiverLocalWorker = binary.LittleEndian.Uint32(buf[17:21])
	h.Seq = binary.LittleEndian.Uint32(buf[21:25])
	h.PayloadSize = binary.LittleEndian.Uint32(buf[25:29])
	h.FirstItem = binary.LittleEndian.Uint32(buf[29:33])
	h.NItems = binary.LittleEndian.Uint32(buf[33:37])
	if h.Magic != MagicCat && h.Magic != MagicMix && h.Magic != MagicPartition {
		return StreamBlockHeader{}, dflowerrors.ProtocolMismatch(dflowerrors.Context{}, "multiplexer: unknown stream magic byte")
	}
	return h, nil
}
