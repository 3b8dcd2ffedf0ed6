package multiplexer

import (
	"sync"

	"github.com/dreamware/dflow/internal/blockpool"
	"github.com/dreamware/dflow/internal/stream"
)

// topoAdapter narrows a HostTopology down to the stream.Topology a Stream
// needs: just "is this global worker local to me".
type topoAdapter struct {
	host HostTopology
}

func (a topoAdapter) IsLocal(w int) bool { return a.host.HostOf(w) == a.host.Rank() }
func (a topoAdapter) NumWorkers() int    { return a.host.NumHosts() * a.host.WorkersPerHost() }

// streamSet is every local worker's Stream endpoint for one stream ID.
type streamSet struct {
	kind      stream.Kind
	perWorker map[int]*stream.Stream
}

// Repository maps stream IDs to per-local-worker Stream endpoints, lazily
// creating them on first use by either a local GetOrCreate call or an
// incoming network Block. A stream is eligible for reclamation once every
// local worker has closed every writer and dropped its reader handle; this
// implementation relies on the owning DAG executor to call Forget once it
// has observed both.
type Repository struct {
	topo HostTopology
	mux  *Multiplexer

	mu   sync.Mutex
	sets map[stream.ID]*streamSet
}

func newRepository(topo HostTopology, mux *Multiplexer) *Repository {
	return &Repository{topo: topo, mux: mux, sets: make(map[stream.ID]*streamSet)}
}

// GetOrCreate returns worker's Stream endpoint for id, creating the
// streamSet and/or endpoint on first reference.
func (r *Repository) GetOrCreate(id stream.ID, kind stream.Kind, worker int) *stream.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[id]
	if !ok {
		set = &streamSet{kind: kind, perWorker: make(map[int]*stream.Stream)}
		r.sets[id] = set
	}
	s, ok := set.perWorker[worker]
	if !ok {
		s = stream.New(id, kind, worker, topoAdapter{r.topo}, r, r.mux)
		set.perWorker[worker] = s
	}
	return s
}

// Forget drops id's streamSet once the caller has confirmed every local
// worker finished both writing and reading it.
func (r *Repository) Forget(id stream.ID) {
	r.mu.Lock()
	delete(r.sets, id)
	r.mu.Unlock()
}

// DeliverBlock implements stream.Local: route a Block arriving from sender
// (local or, after network decode, remote) to receiver's own endpoint.
func (r *Repository) DeliverBlock(id stream.ID, kind stream.Kind, sender, receiver int, b blockpool.Block) error {
	return r.GetOrCreate(id, kind, receiver).DeliverBlock(sender, b)
}

// DeliverClose implements stream.Local's close half.
func (r *Repository) DeliverClose(id stream.ID, kind stream.Kind, sender, receiver int) error {
	return r.GetOrCreate(id, kind, receiver).DeliverClose(sender)
}

// deliverFinalClose expands a coalesced "final close" header into one
// DeliverClose per (sender, local receiver) pair: every
// global worker hosted on senderHost is treated as having closed every
// local worker on this host for id. Stream.DeliverClose's per-sender
// idempotency guard makes this safe to run even if some of those pairs
// already arrived individually.
func (r *Repository) deliverFinalClose(id stream.ID, kind stream.Kind, senderWorkers []int) {
	for _, local := range r.topo.WorkersOnHost(r.topo.Rank()) {
		ep := r.GetOrCreate(id, kind, local)
		for _, sender := range senderWorkers {
			_ = ep.DeliverClose(sender)
		}
	}
}
