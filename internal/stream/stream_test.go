package stream_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/dflow/internal/blockio"
	"github.com/dreamware/dflow/internal/blockpool"
	"github.com/dreamware/dflow/internal/stream"
)

// cluster simulates W workers split evenly across hosts, all inside this
// test process: each worker's Stream sees the others on its own host as
// "local" (loopback) and the rest as "remote" (routed through a fake
// Transport that just calls the remote worker's own Stream directly,
// exercising the cross-host Transport code path without real sockets).
type cluster struct {
	workersPerHost int
	streams        map[int]*stream.Stream
}

type fixedTopology struct {
	host, workersPerHost, numWorkers int
}

func (t fixedTopology) IsLocal(w int) bool { return w/t.workersPerHost == t.host }
func (t fixedTopology) NumWorkers() int    { return t.numWorkers }

type fakeTransport struct{ c *cluster }

func (f fakeTransport) SendBlock(id stream.ID, kind stream.Kind, sender, receiver int, b blockpool.Block) error {
	return f.c.streams[receiver].DeliverBlock(sender, b)
}

func (f fakeTransport) SendClose(id stream.ID, kind stream.Kind, sender, receiver int) error {
	return f.c.streams[receiver].DeliverClose(sender)
}

func newCluster(t *testing.T, kind stream.Kind, numWorkers, workersPerHost int) *cluster {
	c := &cluster{workersPerHost: workersPerHost, streams: make(map[int]*stream.Stream)}
	trans := fakeTransport{c: c}
	for w := 0; w < numWorkers; w++ {
		topo := fixedTopology{host: w / workersPerHost, workersPerHost: workersPerHost, numWorkers: numWorkers}
		c.streams[w] = stream.New(1, kind, w, topo, localDeliverer{c}, trans)
	}
	return c
}

// localDeliverer routes to the addressed worker's own Stream directly: used
// for the loopback path (target on the same host as the sender).
type localDeliverer struct{ c *cluster }

func (l localDeliverer) DeliverBlock(id stream.ID, kind stream.Kind, sender, receiver int, b blockpool.Block) error {
	return l.c.streams[receiver].DeliverBlock(sender, b)
}

func (l localDeliverer) DeliverClose(id stream.ID, kind stream.Kind, sender, receiver int) error {
	return l.c.streams[receiver].DeliverClose(sender)
}

func newTestPool(t *testing.T) *blockpool.BlockPool {
	t.Helper()
	pager, err := blockpool.NewPageMapper(filepath.Join(t.TempDir(), "swap.bin"), 4096)
	require.NoError(t, err)
	pool := blockpool.NewBlockPool(256*1024, 4096, pager)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func writeInts(t *testing.T, pool *blockpool.BlockPool, worker int, w *stream.Writer, lo, hi int64) {
	t.Helper()
	bw := blockio.NewWriter(pool, worker, &singleBlockSink{ctx: context.Background(), w: w})
	for i := lo; i < hi; i++ {
		require.NoError(t, blockio.Put(bw, blockio.Int64Codec{}, i))
	}
	require.NoError(t, bw.Close())
}

// singleBlockSink adapts a stream.Writer to blockio.Sink.
type singleBlockSink struct {
	ctx context.Context
	w   *stream.Writer
}

func (s *singleBlockSink) Put(b blockpool.Block) error { return s.w.Put(s.ctx, b) }
func (s *singleBlockSink) Close() error                { return s.w.Close() }

// TestCatStreamConcatenation runs 4 workers (2 hosts x 2 workers), each
// writing [100w, 100w+10) to every target; a Cat reader at worker r must
// see the four ranges concatenated by source order.
func TestCatStreamConcatenation(t *testing.T) {
	const numWorkers = 4
	const workersPerHost = 2
	pool := newTestPool(t)
	c := newCluster(t, stream.Cat, numWorkers, workersPerHost)

	for w := 0; w < numWorkers; w++ {
		writers := c.streams[w].GetWriters()
		for target := 0; target < numWorkers; target++ {
			writeInts(t, pool, w, writers[target], int64(100*w), int64(100*w+10))
		}
	}

	for r := 0; r < numWorkers; r++ {
		reader := c.streams[r].GetCatReader()
		br := blockio.NewReader(pool, r, reader)
		var got []int64
		for br.HasNext() {
			v, err := blockio.Get(br, blockio.Int64Codec{})
			require.NoError(t, err)
			got = append(got, v)
		}
		var want []int64
		for src := 0; src < numWorkers; src++ {
			for i := int64(100 * src); i < int64(100*src+10); i++ {
				want = append(want, i)
			}
		}
		require.Equal(t, want, got, "reader %d", r)
	}
}

// TestMixStreamArrival uses the same setup as TestCatStreamConcatenation
// but with Mix readers; every record must arrive exactly once, tagged with
// a source consistent with its value, and the total count must be 40.
func TestMixStreamArrival(t *testing.T) {
	const numWorkers = 4
	const workersPerHost = 2
	pool := newTestPool(t)
	c := newCluster(t, stream.Mix, numWorkers, workersPerHost)

	for w := 0; w < numWorkers; w++ {
		writers := c.streams[w].GetWriters()
		for target := 0; target < numWorkers; target++ {
			writeInts(t, pool, w, writers[target], int64(100*w), int64(100*w+10))
		}
	}

	for r := 0; r < numWorkers; r++ {
		reader := c.streams[r].GetMixReader()
		count := 0
		seen := map[int64]bool{}
		for {
			item, ok := reader.NextItem()
			if !ok {
				break
			}
			br := blockio.NewReader(pool, r, &staticSource{b: item.Block})
			for br.HasNext() {
				v, err := blockio.Get(br, blockio.Int64Codec{})
				require.NoError(t, err)
				require.Equal(t, item.Source, int(v/100), "value %d tagged with wrong source", v)
				require.False(t, seen[v], "duplicate value %d", v)
				seen[v] = true
				count++
			}
		}
		require.Equal(t, numWorkers*10, count, "reader %d", r)
	}
}

// staticSource yields a single pre-decoded Block then ends.
type staticSource struct {
	b    blockpool.Block
	done bool
}

func (s *staticSource) NextBlock() (blockpool.Block, bool) {
	if s.done {
		return blockpool.Block{}, false
	}
	s.done = true
	return s.b, true
}
