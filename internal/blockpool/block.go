package blockpool

// Block is a view over a ByteBlock's resident bytes: a (begin, end) byte
// range plus two record-accounting fields. FirstItem is the byte offset of
// the first record whose serialization starts inside [Begin, End); NumItems
// counts record starts in that range.
//
// A Block is valid iff it carries a ByteBlock reference (ByteBlock != nil).
// The zero Block is invalid and is used as a sentinel (e.g. to signal a
// writer-close on a BlockSink).
type Block struct {
	ByteBlock *ByteBlock
	Begin     int64
	End       int64
	FirstItem int64
	NumItems  int64
}

// Valid reports whether this Block carries a ByteBlock reference.
func (b Block) Valid() bool {
	return b.ByteBlock != nil
}

// Size returns the number of bytes this view spans.
func (b Block) Size() int64 {
	return b.End - b.Begin
}

// Bytes returns the byte range [Begin, End) of the underlying ByteBlock.
// The ByteBlock must be resident (pinned) when this is called.
func (b Block) Bytes() []byte {
	data := b.ByteBlock.Bytes()
	if data == nil {
		return nil
	}
	return data[b.Begin:b.End]
}

// Retain takes an additional reference on the underlying ByteBlock; used by
// "keep" readers (File.Keep, a non-consuming Stream reader) that copy a
// Block by reference rather than by value-ownership-transfer.
func (b Block) Retain() Block {
	b.ByteBlock.Retain()
	return b
}

// Release drops this view's reference to the underlying ByteBlock.
func (b Block) Release() {
	if b.ByteBlock != nil {
		b.ByteBlock.Release()
	}
}
