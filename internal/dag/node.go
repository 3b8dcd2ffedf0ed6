package dag

import (
	"context"
	"sync"
	"sync/atomic"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// ID identifies a DIANode, unique within one Registry. Since every host
// builds a bit-identical DAG description from the same user program, the
// same logical node gets the same ID on every host.
type ID uint64

// Type tags a DIANode's role: Source (external input),
// Stack (a fused Map-like chain with no shuffle of its own), DOp
// (distributed operator: a shuffle-involving collective), Action (triggers
// execution of its whole dependency subgraph), Collapse (a re-execution
// boundary: a Collapse node runs PushData again even once Executed, so its
// pushed data reaches children added after its first run), and Cache
// (materializes its input for reuse by multiple children).
type Type int

const (
	Source Type = iota
	Stack
	DOp
	Action
	Collapse
	Cache
)

func (t Type) String() string {
	switch t {
	case Source:
		return "source"
	case Stack:
		return "stack"
	case DOp:
		return "dop"
	case Action:
		return "action"
	case Collapse:
		return "collapse"
	case Cache:
		return "cache"
	default:
		return "unknown"
	}
}

// State is a DIANode's lifecycle state.
type State int32

const (
	StateNew State = iota
	StateExecuted
	StateDisposed
)

// StackFn is one link of a fused Map/Filter/FlatMap chain: given an input
// item it returns zero or more output items (FlatMap's "zero or more";
// Filter returns zero or one; Map returns exactly one). Item types are
// erased to `any`
// since the concrete per-type fusion is the operator library's job; dag
// only needs to thread the chain through PushData in order.
type StackFn func(item any) []any

// Behavior is the set of node-kind-specific operations a concrete operator
// (a Source reading input, a DOp running a shuffle, a Cache materializing a
// File, ...) supplies. DIANode drives these methods through its
// Execute/PushData/Dispose lifecycle; it never inspects an operator's
// internals directly.
type Behavior interface {
	// Execute performs the node's collective work (possibly a shuffle) and
	// leaves its output ready for Emit to traverse.
	Execute(ctx context.Context) error
	// Emit traverses this node's materialized output in order, calling
	// push for every item. consume indicates whether the underlying
	// storage may be released as it is traversed (a keep vs. consume File
	// reader).
	Emit(ctx context.Context, consume bool, push func(item any) error) error
	// Feed accepts one item pushed from a parent, during the parent's own
	// PushData traversal. A Source behavior (no parents) may leave this a
	// no-op.
	Feed(item any) error
	// Dispose releases this node's backing memory (a File, a hash table).
	Dispose() error
}

// childEdge is one registered child: the child node, plus the fused
// function stack its input must pass through.
type childEdge struct {
	node  *DIANode
	stack []StackFn
}

// apply runs item through e's fused stack in order, threading FlatMap-style
// fan-out: each StackFn may expand one item into several (or filter it out
// entirely by returning none).
func (e *childEdge) apply(item any) []any {
	items := []any{item}
	for _, fn := range e.stack {
		var next []any
		for _, it := range items {
			next = append(next, fn(it)...)
		}
		items = next
		if len(items) == 0 {
			break
		}
	}
	return items
}

// DIANode is one node of the execution graph, carrying a single operator
// from construction through execution to disposal.
//
// Each node is a self-contained unit that:
//   - Tracks its lifecycle state (New, Executed, Disposed)
//   - Holds parent references and child back-pointers
//   - Threads pushed items through each child's fused function stack
//   - Delegates operator-specific work to its Behavior
//
// Reference model:
// Parents are strong references (the GC keeps a parent alive as long as
// any child or DIA handle references it) and children are raw
// back-pointers, breaking the reference cycle a bidirectional parent/child
// graph would otherwise form. A node is reclaimed once its last DIA
// handle, child edge, and Registry entry are gone.
//
// Concurrency model:
//   - id, typ, and label are immutable after construction and lock-free
//   - parents and children are guarded by the node's mutex
//   - state, consumeOnPush, and handles use atomic operations
//   - Execute and PushData are driven by one stage loop at a time; the
//     node does not serialize concurrent Execute calls beyond rejecting
//     a non-New state
//
// Example usage:
//
//	src := reg.NewNode(Source, "read-input", srcBehavior)
//	sink := reg.NewNode(Stack, "count", sinkBehavior, src)
//	src.RegisterChild(sink, mapFn)
//	action := reg.NewNode(Action, "write-output", actBehavior, sink)
//	if err := Run(ctx, action, nil); err != nil {
//	    return err
//	}
type DIANode struct {
	id    ID
	typ   Type
	label string

	mu       sync.Mutex
	parents  []*DIANode
	children []*childEdge
	behavior Behavior

	state         atomic.Int32
	consumeOnPush atomic.Bool
	handles       atomic.Int64
}

func newNode(id ID, typ Type, label string, behavior Behavior, parents ...*DIANode) *DIANode {
	n := &DIANode{id: id, typ: typ, label: label, behavior: behavior, parents: append([]*DIANode(nil), parents...)}
	n.state.Store(int32(StateNew))
	return n
}

// ID returns the node's identity.
func (n *DIANode) ID() ID { return n.id }

// Type returns the node's role tag.
func (n *DIANode) Type() Type { return n.typ }

// Label returns the node's human-readable stage label, used in
// errors.Context.Stage diagnostics.
func (n *DIANode) Label() string { return n.label }

// State returns the node's current lifecycle state.
func (n *DIANode) State() State { return State(n.state.Load()) }

// Parents returns a copy of this node's parent list.
func (n *DIANode) Parents() []*DIANode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*DIANode(nil), n.parents...)
}

// SetConsumeOnPush records whether this node's data is safe to drop after a
// single downstream traversal, inferred by the caller from whether any
// sibling also keeps this node.
func (n *DIANode) SetConsumeOnPush(consume bool) { n.consumeOnPush.Store(consume) }

// RegisterChild appends child to this node's child list with the given
// fused function stack. Children are fed in registration order.
func (n *DIANode) RegisterChild(child *DIANode, stack ...StackFn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, &childEdge{node: child, stack: stack})
}

// UnregisterChild removes child from this node's child list. When an
// Action completes, children that were used only for that action are
// unregistered, potentially freeing their nodes.
func (n *DIANode) UnregisterChild(child *DIANode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.children[:0]
	for _, e := range n.children {
		if e.node != child {
			out = append(out, e)
		}
	}
	n.children = out
}

func (n *DIANode) childrenSnapshot() []*childEdge {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*childEdge(nil), n.children...)
}

// RetainHandle records one more live DIA handle (a user-code reference)
// referencing this node.
func (n *DIANode) RetainHandle() { n.handles.Add(1) }

// ReleaseHandle drops one DIA handle reference.
func (n *DIANode) ReleaseHandle() { n.handles.Add(-1) }

// Execute runs this node's collective work exactly once. Calling Execute
// on a node that is not New is a usage error.
func (n *DIANode) Execute(ctx context.Context) error {
	if State(n.state.Load()) != StateNew {
		return dflowerrors.UsageError(dflowerrors.Context{Stage: n.label}, "dag: Execute called on a non-New node")
	}
	if err := n.behavior.Execute(ctx); err != nil {
		return err
	}
	n.state.Store(int32(StateExecuted))
	return nil
}

// PushData streams this node's materialized output through every
// registered child's fused function stack, feeding the result to the
// child, in child-registration order. consume must be false when re-running
// PushData on an already-Executed node whose children are rerun.
func (n *DIANode) PushData(ctx context.Context, consume bool) error {
	if State(n.state.Load()) == StateDisposed {
		return dflowerrors.UsageError(dflowerrors.Context{Stage: n.label}, "dag: PushData called on a Disposed node")
	}
	children := n.childrenSnapshot()
	return n.behavior.Emit(ctx, consume, func(item any) error {
		for _, edge := range children {
			for _, out := range edge.apply(item) {
				if err := edge.node.behavior.Feed(out); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Dispose releases this node's backing memory. Calling Dispose while DIA
// handles are still live is a fatal usage error.
func (n *DIANode) Dispose() error {
	if n.handles.Load() > 0 {
		return dflowerrors.UsageError(dflowerrors.Context{Stage: n.label}, "dag: Dispose called on a node with live DIA handles")
	}
	if State(n.state.Load()) == StateDisposed {
		return nil
	}
	if err := n.behavior.Dispose(); err != nil {
		return err
	}
	n.state.Store(int32(StateDisposed))
	return nil
}
