// Package hostctx wires one host's shared collaborators (BlockPool,
// Multiplexer, Dispatcher, logger, and cluster configuration) into a single
// struct threaded through every worker goroutine at startup, so no
// subsystem reaches for process-global state.
package hostctx

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
	ifaceslog "github.com/joeycumines/logiface-slog"

	"github.com/dreamware/dflow/internal/blockio"
	"github.com/dreamware/dflow/internal/blockpool"
	"github.com/dreamware/dflow/internal/config"
	"github.com/dreamware/dflow/internal/dispatcher"
	dflowerrors "github.com/dreamware/dflow/internal/errors"
	"github.com/dreamware/dflow/internal/multiplexer"
)

// topology adapts a config.Cluster plus this process's own rank into the
// multiplexer.HostTopology contract.
type topology struct {
	cluster *config.Cluster
	rank    uint32
}

func (t *topology) Rank() uint32        { return t.rank }
func (t *topology) NumHosts() int       { return t.cluster.NumHosts() }
func (t *topology) WorkersPerHost() int { return t.cluster.WorkersPerHost }
func (t *topology) HostOf(globalWorker int) uint32 {
	return uint32(globalWorker / t.cluster.WorkersPerHost)
}
func (t *topology) LocalWorkerIndex(globalWorker int) int {
	return globalWorker % t.cluster.WorkersPerHost
}
func (t *topology) WorkersOnHost(hostRank uint32) []int {
	base := int(hostRank) * t.cluster.WorkersPerHost
	out := make([]int, t.cluster.WorkersPerHost)
	for i := range out {
		out[i] = base + i
	}
	return out
}
func (t *topology) AddrOf(hostRank uint32) string { return t.cluster.Hosts[hostRank] }

// HostContext is the per-process set of collaborators every worker goroutine
// on a host shares: the BlockPool, the Multiplexer (and the Dispatcher it
// runs on), a job-scoped logger, and a cancelable context used to propagate
// the first fatal error to every suspension point in the engine.
type HostContext struct {
	JobID   uuid.UUID
	Cluster *config.Cluster
	Rank    uint32

	Pool       *blockpool.BlockPool
	Dispatcher *dispatcher.Dispatcher
	Mux        *multiplexer.Multiplexer
	Logger     *logiface.Logger[*ifaceslog.Event]

	ctx      context.Context
	cancel   context.CancelCauseFunc
	fatalOne sync.Once
}

// New builds a HostContext for the host at rank within cluster, allocating
// its BlockPool (backed by a swap file under cluster.SwapDir) and
// Dispatcher, and wiring a Multiplexer over both. The caller still must
// invoke Listen/DialAll to actually open the cluster's peer connections,
// since those require the other hosts to be reachable.
func New(cluster *config.Cluster, rank uint32) (*HostContext, error) {
	blockio.SelfVerify = cluster.SelfVerify
	pager, err := blockpool.NewPageMapper(swapFilePath(cluster, rank), cluster.BlockSize)
	if err != nil {
		return nil, err
	}
	pool := blockpool.NewBlockPool(cluster.BlockPoolCapBytes, cluster.BlockSize, pager)

	disp, err := dispatcher.New()
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	topo := &topology{cluster: cluster, rank: rank}
	mux := multiplexer.New(topo, disp, pool)

	logger := logiface.New[*ifaceslog.Event](ifaceslog.NewLogger(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, cancel := context.WithCancelCause(context.Background())
	hc := &HostContext{
		JobID:      uuid.New(),
		Cluster:    cluster,
		Rank:       rank,
		Pool:       pool,
		Dispatcher: disp,
		Mux:        mux,
		Logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	disp.OnFatalError(func(err error) { hc.Abort(err) })
	return hc, nil
}

func swapFilePath(cluster *config.Cluster, rank uint32) string {
	return cluster.SwapDir + "/host-" + itoa(int(rank)) + ".swap"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Context returns the process-wide context every blocking engine operation
// should select on; it is canceled, with cause, the first time Abort runs.
func (hc *HostContext) Context() context.Context { return hc.ctx }

// Abort cancels the HostContext's shared context with err, exactly once.
// Operations that take this context, such as stream.Writer.Put, return
// once it is canceled; BlockPool allocation, pin waits and stream queue
// reads do not take a context and do not observe the cancellation.
func (hc *HostContext) Abort(err error) {
	hc.fatalOne.Do(func() {
		hc.Logger.Err().Err(err).Log("fatal error, aborting job")
		hc.cancel(err)
	})
}

// Err returns the cause Abort was called with, or nil if the job has not
// been aborted.
func (hc *HostContext) Err() error {
	return context.Cause(hc.ctx)
}

// Connect opens this host's peer connections: it listens for dials from
// every lower-ranked host and dials every higher-ranked one, so each pair
// connects in exactly one direction.
func (hc *HostContext) Connect() error {
	if err := hc.Mux.Listen(hc.Cluster.Hosts[hc.Rank]); err != nil {
		return dflowerrors.IoFailure(dflowerrors.Context{Peer: hc.Cluster.Hosts[hc.Rank]}, err)
	}
	return hc.Mux.DialAll()
}

// Close releases the HostContext's owned resources: the Multiplexer (its
// listening socket and peer connections), then the Dispatcher, then the
// BlockPool and its swap file. The Multiplexer goes first so its Cancel
// calls drain each connection's pending I/O before the fds close; the
// Dispatcher goes before the pool so no in-flight read allocates from a
// closed pool.
func (hc *HostContext) Close() error {
	if err := hc.Mux.Close(); err != nil {
		return err
	}
	if err := hc.Dispatcher.Close(); err != nil {
		return err
	}
	return hc.Pool.Close()
}
