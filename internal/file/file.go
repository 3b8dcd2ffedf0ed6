package file

import (
	"sort"
	"sync"

	"github.com/dreamware/dflow/internal/blockpool"
)

// File is an ordered sequence of Blocks plus running sums of byte size and
// item count. A File holds one reference per Block to its ByteBlock; a
// ConsumeReader hands that reference to its caller with each Block it pops.
// File has no method that releases the references it still holds.
type File struct {
	diaID string

	mu          sync.Mutex
	blocks      []blockpool.Block
	byteOffsets []int64 // byteOffsets[i] = total bytes before blocks[i]
	itemOffsets []int64 // itemOffsets[i] = total items before blocks[i]
	totalBytes  int64
	totalItems  int64
	closed      bool
}

// New creates an empty File tagged with diaID, used for stats attribution.
func New(diaID string) *File {
	return &File{diaID: diaID}
}

// DIAID returns the File's owning DIA-id tag.
func (f *File) DIAID() string {
	return f.diaID
}

// Append adds a Block to the end of the File. It is the File's BlockSink
// behavior: a BlockWriter targeting this File calls Append for every sealed
// Block.
func (f *File) Append(b blockpool.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byteOffsets = append(f.byteOffsets, f.totalBytes)
	f.itemOffsets = append(f.itemOffsets, f.totalItems)
	f.blocks = append(f.blocks, b)
	f.totalBytes += b.Size()
	f.totalItems += b.NumItems
}

// Put implements blockio.Sink, appending b to the File. It never returns a
// non-nil error; it exists so a *File can be passed anywhere a BlockSink is
// expected.
func (f *File) Put(b blockpool.Block) error {
	f.Append(b)
	return nil
}

// Close marks the File as immutable: the boundary between the writing phase
// and the stable-prefix reading phase. It implements blockio.Sink's Close
// and never returns a non-nil error.
func (f *File) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// NumBytes returns the File's total byte size, which always equals the sum
// of its Blocks' sizes.
func (f *File) NumBytes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalBytes
}

// NumItems returns the File's total item count.
func (f *File) NumItems() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalItems
}

// NumBlocks returns the number of Blocks currently in the File.
func (f *File) NumBlocks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

// BlockAt returns the Block at position i, without consuming it.
func (f *File) BlockAt(i int) blockpool.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocks[i]
}

// PositionOf returns the index of the Block containing the given item
// index (0-based), via binary search over the item-count prefix sums. Used
// by stream.Scatter.
func (f *File) PositionOf(itemIndex int64) (blockIdx int, itemOffsetInBlock int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.itemOffsets)
	i := sort.Search(n, func(i int) bool {
		return f.itemOffsets[i] > itemIndex
	})
	if i == 0 {
		return 0, 0
	}
	i--
	return i, itemIndex - f.itemOffsets[i]
}

// Keep returns a BlockSource that iterates every Block in the File without
// consuming it: concurrent Keep readers may coexist and each sees the same
// stable prefix.
func (f *File) Keep() *KeepReader {
	return &KeepReader{file: f}
}

// Consume returns a BlockSource that pops Blocks from the front of the File
// as they are read, releasing each ByteBlock's File-owned reference once
// consumed. Only one Consume reader may exist per File at a time.
func (f *File) Consume() *ConsumeReader {
	return &ConsumeReader{file: f}
}

// KeepReader iterates a File's Blocks by reference, leaving the File
// unmodified.
type KeepReader struct {
	file *File
	pos  int
}

// NextBlock returns the next Block, or ok=false once every Block has been
// returned.
func (r *KeepReader) NextBlock() (b blockpool.Block, ok bool) {
	r.file.mu.Lock()
	defer r.file.mu.Unlock()
	if r.pos >= len(r.file.blocks) {
		return blockpool.Block{}, false
	}
	b = r.file.blocks[r.pos].Retain()
	r.pos++
	return b, true
}

// ConsumeReader pops Blocks from the front of a File as they are read.
type ConsumeReader struct {
	file *File
}

// NextBlock pops and returns the File's first remaining Block, or
// ok=false once the File is empty.
func (r *ConsumeReader) NextBlock() (b blockpool.Block, ok bool) {
	r.file.mu.Lock()
	defer r.file.mu.Unlock()
	if len(r.file.blocks) == 0 {
		return blockpool.Block{}, false
	}
	b = r.file.blocks[0]
	r.file.blocks = r.file.blocks[1:]
	r.file.byteOffsets = r.file.byteOffsets[1:]
	r.file.itemOffsets = r.file.itemOffsets[1:]
	r.file.totalBytes -= b.Size()
	r.file.totalItems -= b.NumItems
	return b, true
}
