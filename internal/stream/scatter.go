package stream

import (
	"context"

	"github.com/dreamware/dflow/internal/file"
)

// Scatter sends a partition of f to each of the writers' targets: boundaries
// must hold len(writers)+1 item-index cut points (boundaries[0] == 0,
// boundaries[len(writers)] == f.NumItems()), and worker w receives every
// Block covering items in [boundaries[w], boundaries[w+1]). Because Blocks
// are the unit of transfer, a Block straddling a cut point is sent to every
// worker whose range it touches; sort's downstream merge consumes the
// resulting (possibly overlapping at the edges) item ranges by index, not
// by trusting Block boundaries alone. Used to implement sort's
// redistribution.
func Scatter(ctx context.Context, f *file.File, boundaries []int64, writers []*Writer) error {
	for w, writer := range writers {
		startIdx, _ := f.PositionOf(boundaries[w])
		endItem := boundaries[w+1]
		endIdx := f.NumBlocks()
		if endItem < f.NumItems() {
			endIdx, _ = f.PositionOf(endItem)
			endIdx++ // PositionOf returns the block containing endItem; include it.
		}
		for i := startIdx; i < endIdx && i < f.NumBlocks(); i++ {
			b := f.BlockAt(i).Retain()
			if err := writer.Put(ctx, b); err != nil {
				return err
			}
		}
		if err := writer.Close(); err != nil {
			return err
		}
	}
	return nil
}
