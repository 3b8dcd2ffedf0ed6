package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// sliceBehavior is a minimal Behavior over an in-memory slice, standing in
// for a Source/Cache node in tests: Execute is a no-op (the slice is
// already "materialized"), Emit traverses it, Feed appends to it.
type sliceBehavior struct {
	items     []any
	executed  int
	disposed  int
	fedItems  []any
	execError error
}

func (b *sliceBehavior) Execute(ctx context.Context) error {
	b.executed++
	return b.execError
}

func (b *sliceBehavior) Emit(ctx context.Context, consume bool, push func(item any) error) error {
	for _, it := range b.items {
		if err := push(it); err != nil {
			return err
		}
	}
	if consume {
		b.items = nil
	}
	return nil
}

func (b *sliceBehavior) Feed(item any) error {
	b.fedItems = append(b.fedItems, item)
	return nil
}

func (b *sliceBehavior) Dispose() error {
	b.disposed++
	b.items = nil
	return nil
}

func TestDIANode_ExecuteThenPushDataFeedsChildrenInRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	srcB := &sliceBehavior{items: []any{1, 2, 3}}
	src := reg.NewNode(Source, "source", srcB)

	var order []string
	childA := reg.NewNode(Stack, "child-a", &sliceBehavior{}, src)
	childB := reg.NewNode(Stack, "child-b", &sliceBehavior{}, src)
	src.RegisterChild(childA, func(item any) []any { order = append(order, "a"); return []any{item} })
	src.RegisterChild(childB, func(item any) []any { order = append(order, "b"); return []any{item} })

	require.Equal(t, StateNew, src.State())
	require.NoError(t, src.Execute(context.Background()))
	require.Equal(t, StateExecuted, src.State())
	require.NoError(t, src.PushData(context.Background(), false))

	require.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, order)
	require.Equal(t, []any{1, 2, 3}, childA.behavior.(*sliceBehavior).fedItems)
	require.Equal(t, []any{1, 2, 3}, childB.behavior.(*sliceBehavior).fedItems)
}

func TestDIANode_ExecuteOnNonNewNodeIsUsageError(t *testing.T) {
	reg := NewRegistry()
	n := reg.NewNode(Source, "n", &sliceBehavior{})
	require.NoError(t, n.Execute(context.Background()))
	require.Error(t, n.Execute(context.Background()))
}

func TestDIANode_DisposeWithLiveHandleIsFatal(t *testing.T) {
	reg := NewRegistry()
	n := reg.NewNode(Source, "n", &sliceBehavior{})
	n.RetainHandle()
	require.Error(t, n.Dispose())
	n.ReleaseHandle()
	require.NoError(t, n.Dispose())
	require.Equal(t, StateDisposed, n.State())
}

func TestDIANode_FlatMapStackExpandsItems(t *testing.T) {
	reg := NewRegistry()
	srcB := &sliceBehavior{items: []any{1, 2}}
	src := reg.NewNode(Source, "source", srcB)
	childB := &sliceBehavior{}
	child := reg.NewNode(Stack, "child", childB, src)
	src.RegisterChild(child, func(item any) []any {
		n := item.(int)
		return []any{n, n * 10}
	})

	require.NoError(t, src.Execute(context.Background()))
	require.NoError(t, src.PushData(context.Background(), false))
	require.Equal(t, []any{1, 10, 2, 20}, childB.fedItems)
}

func TestBuild_OrdersDependenciesBeforeDependents(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode(Source, "a", &sliceBehavior{})
	b := reg.NewNode(Stack, "b", &sliceBehavior{}, a)
	c := reg.NewNode(Stack, "c", &sliceBehavior{}, b)
	action := reg.NewNode(Action, "action", &sliceBehavior{}, c)

	stages := Build(action)
	require.Equal(t, []*DIANode{a, b, c, action}, stages)
}

func TestBuild_SkipsAlreadyExecutedNonCollapseNodes(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode(Source, "a", &sliceBehavior{})
	require.NoError(t, a.Execute(context.Background()))
	b := reg.NewNode(Stack, "b", &sliceBehavior{}, a)
	action := reg.NewNode(Action, "action", &sliceBehavior{}, b)

	stages := Build(action)
	require.Equal(t, []*DIANode{b, action}, stages)
}

func TestBuild_IncludesExecutedCollapseNodes(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode(Source, "a", &sliceBehavior{})
	require.NoError(t, a.Execute(context.Background()))
	collapse := reg.NewNode(Collapse, "collapse", &sliceBehavior{}, a)
	require.NoError(t, collapse.Execute(context.Background()))
	action := reg.NewNode(Action, "action", &sliceBehavior{}, collapse)

	stages := Build(action)
	require.Equal(t, []*DIANode{collapse, action}, stages)
}

func TestRun_ExecutesNewNodesAndPushesData(t *testing.T) {
	reg := NewRegistry()
	srcB := &sliceBehavior{items: []any{1, 2, 3}}
	src := reg.NewNode(Source, "source", srcB)
	sinkB := &sliceBehavior{}
	sink := reg.NewNode(Stack, "sink", sinkB, src)
	src.RegisterChild(sink, func(item any) []any { return []any{item} })
	action := reg.NewNode(Action, "action", &sliceBehavior{}, sink)

	require.NoError(t, Run(context.Background(), action, nil))
	require.Equal(t, 1, srcB.executed)
	require.Equal(t, []any{1, 2, 3}, sinkB.fedItems)
	require.Equal(t, StateExecuted, src.State())
	require.Equal(t, StateExecuted, action.State())
}

func TestRun_ReExecutingCollapseNodePushesAgainWithoutReExecuting(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode(Source, "a", &sliceBehavior{items: []any{7}})
	require.NoError(t, a.Execute(context.Background()))
	collapseB := &sliceBehavior{items: []any{42}}
	collapse := reg.NewNode(Collapse, "collapse", collapseB, a)
	require.NoError(t, collapse.Execute(context.Background()))

	laterChildB := &sliceBehavior{}
	laterChild := reg.NewNode(Stack, "later-child", laterChildB, collapse)
	collapse.RegisterChild(laterChild, func(item any) []any { return []any{item} })
	action := reg.NewNode(Action, "action", &sliceBehavior{}, laterChild)

	require.NoError(t, Run(context.Background(), action, nil))
	require.Equal(t, 1, collapseB.executed, "Collapse must not be re-Executed")
	require.Equal(t, []any{42}, laterChildB.fedItems)
}

func TestRunAcrossWorkers_FansOutAndCollectsFirstError(t *testing.T) {
	seen := make(chan int, 4)
	err := RunAcrossWorkers(context.Background(), 4, func(ctx context.Context, worker int) error {
		seen <- worker
		return nil
	})
	require.NoError(t, err)
	close(seen)
	var got []int
	for w := range seen {
		got = append(got, w)
	}
	require.Len(t, got, 4)
}
