package dag

import (
	"context"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// Build walks action's parents transitively, collecting every node whose
// state is New (not yet Executed) or whose type is Collapse (a boundary
// that re-runs PushData even once Executed), then appends action itself.
// The walk is depth-first over parents, so a node only enters the result
// once its own parents already have: sources run first, the action last.
func Build(action *DIANode) []*DIANode {
	visited := make(map[ID]bool)
	var order []*DIANode
	var visit func(n *DIANode)
	visit = func(n *DIANode) {
		if visited[n.id] {
			return
		}
		visited[n.id] = true
		for _, p := range n.Parents() {
			visit(p)
		}
		if n.State() == StateNew || n.Type() == Collapse {
			order = append(order, n)
		}
	}
	for _, p := range action.Parents() {
		visit(p)
	}
	if action.State() == StateNew || action.Type() == Collapse {
		order = append(order, action)
	}
	return order
}

// stableSortByID is a deterministic tie-breaker available to callers that
// need to diagnose a stage order independent of map/slice iteration order
// (e.g. logging); Build itself never needs it, since its DFS-over-parents
// walk is already deterministic given a deterministic Parents() order.
func stableSortByID(nodes []*DIANode) []*DIANode {
	out := append([]*DIANode(nil), nodes...)
	slices.SortFunc(out, func(a, b *DIANode) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Run executes action's whole dependency subgraph to completion: Build
// assembles the stage order, then a New node runs Execute() then
// PushData(consume), while an already-Executed node (necessarily a
// Collapse boundary, since Build only includes Executed nodes when they
// are Collapse) runs only PushData(false). A Disposed node reached by the
// walk is a fatal programming error.
func Run(ctx context.Context, action *DIANode, consumeOnPush func(*DIANode) bool) error {
	for _, n := range Build(action) {
		switch n.State() {
		case StateDisposed:
			return dflowerrors.UsageError(dflowerrors.Context{Stage: n.label}, "dag: stage walk reached a Disposed node")
		case StateNew:
			if err := n.Execute(ctx); err != nil {
				return err
			}
			consume := false
			if consumeOnPush != nil {
				consume = consumeOnPush(n)
			}
			if err := n.PushData(ctx, consume); err != nil {
				return err
			}
		case StateExecuted:
			if err := n.PushData(ctx, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunAcrossWorkers fans fn out across numWorkers goroutines, one per local
// worker thread, and waits for all to finish or the first error, canceling
// the rest. Every worker runs identical control flow, diverging only by
// rank.
func RunAcrossWorkers(ctx context.Context, numWorkers int, fn func(ctx context.Context, worker int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		w := w
		g.Go(func() error { return fn(gctx, w) })
	}
	return g.Wait()
}
