package stream

import "github.com/dreamware/dflow/internal/blockpool"

// CatReader concatenates a Cat Stream's sources in order: every Block from
// source 0, then every Block from source 1, and so on.
type CatReader struct {
	stream *Stream
	src    int
}

// NextBlock returns the next Block in concatenation order, or ok=false once
// every source has sent its close sentinel and been drained.
func (r *CatReader) NextBlock() (blockpool.Block, bool) {
	for r.src < len(r.stream.catQueues) {
		b, ok := r.stream.catQueues[r.src].Pop()
		if ok {
			return b, true
		}
		r.src++
	}
	return blockpool.Block{}, false
}

// MixReader yields a Mix Stream's Blocks in arrival order, each tagged with
// its sending worker.
type MixReader struct {
	stream *Stream
}

// NextItem returns the next arrived (source, Block) pair, or ok=false once
// every sender has closed.
func (r *MixReader) NextItem() (MixItem, bool) {
	return r.stream.mixQueue.Pop()
}

// NextBlock adapts MixReader to the blockio.Source shape, discarding the
// source tag, for callers that only need the byte stream.
func (r *MixReader) NextBlock() (blockpool.Block, bool) {
	item, ok := r.NextItem()
	if !ok {
		return blockpool.Block{}, false
	}
	return item.Block, true
}
