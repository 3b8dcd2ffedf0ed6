package dag

import (
	"sync"

	"golang.org/x/exp/maps"
)

// Registry is the process-wide DAG registry, one per program run: every
// node a user program creates is tracked here by ID.
type Registry struct {
	mu     sync.Mutex
	nodes  map[ID]*DIANode
	nextID ID
}

// NewRegistry creates an empty DAG registry for one job.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[ID]*DIANode)}
}

// NewNode allocates a fresh DIANode of typ with the given label and
// Behavior, registers it, and returns it. Node IDs are assigned from a
// simple incrementing counter rather than a random identifier (e.g.
// uuid.New, used elsewhere in dflow for the job-scoped ID): every host
// must derive the same ID for the same logical node from the identical DAG
// description it holds, which only a deterministic, call-order counter
// guarantees.
func (r *Registry) NewNode(typ Type, label string, behavior Behavior, parents ...*DIANode) *DIANode {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	n := newNode(r.nextID, typ, label, behavior, parents...)
	r.nodes[n.id] = n
	return n
}

// Get looks up a node by ID, returning (nil, false) if it is not (or no
// longer) registered.
func (r *Registry) Get(id ID) (*DIANode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Forget removes a node's registry entry, used once its last DIA handle and
// child reference are gone.
func (r *Registry) Forget(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Len returns the number of currently-registered nodes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// IDs returns every currently-registered node ID, in no particular order;
// callers that need a stable order should sort the result (golang.org/x/exp/slices.Sort).
func (r *Registry) IDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Keys(r.nodes)
}
