package hashtable

import (
	"context"

	"github.com/dreamware/dflow/internal/blockio"
	"github.com/dreamware/dflow/internal/blockpool"
	"github.com/dreamware/dflow/internal/stream"
)

// streamSink adapts one stream.Writer (whose Put takes a context) to
// blockio.Sink, so a blockio.Writer can target it directly.
type streamSink struct {
	ctx context.Context
	w   *stream.Writer
}

func (s *streamSink) Put(b blockpool.Block) error { return s.w.Put(s.ctx, b) }
func (s *streamSink) Close() error                { return s.w.Close() }

// ReducePrephase is the glue between a reduction table and a Stream's
// writers, producing the shuffle side of reduce: it owns one blockio.Writer
// per target partition, wiring the table's Emitter to encode each spilled
// (key, value) pair and push it through the matching partition's Stream
// writer. Partitions map 1:1 onto target workers of the output shuffle.
type ReducePrephase[K any, V any] struct {
	writers []*blockio.Writer
	codec   blockio.Codec[blockio.KV[K, V]]
}

// NewReducePrephase builds the per-partition writer set for a reduce
// operator: one blockio.Writer per Stream writer in writers (typically
// stream.Stream.GetWriters() of the reduce's output Stream), each targeting
// pool on behalf of worker, serializing with codec.
func NewReducePrephase[K any, V any](
	ctx context.Context,
	pool *blockpool.BlockPool,
	worker int,
	writers []*stream.Writer,
	codec blockio.Codec[blockio.KV[K, V]],
) *ReducePrephase[K, V] {
	bw := make([]*blockio.Writer, len(writers))
	for i, w := range writers {
		bw[i] = blockio.NewWriter(pool, worker, &streamSink{ctx: ctx, w: w})
	}
	return &ReducePrephase[K, V]{writers: bw, codec: codec}
}

// Emitter returns the Config.Emit callback this prephase drives: it routes
// (key, value) to the blockio.Writer for key's partition (the same
// partition index the owning Table already computed), so one Config.Hash
// and one partition scheme govern both in-memory bucketing and shuffle
// routing.
func (p *ReducePrephase[K, V]) Emitter(partitionOf func(K) int) Emitter[K, V] {
	return func(key K, value V) error {
		idx := partitionOf(key)
		return blockio.Put(p.writers[idx], p.codec, blockio.KV[K, V]{Key: key, Value: value})
	}
}

// Close flushes and closes every partition writer, emitting each one's
// close sentinel to its target Stream.
func (p *ReducePrephase[K, V]) Close() error {
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}
