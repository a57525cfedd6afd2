package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopStep(name string) *ActionFunc[*provisionState, *provisionSaga, string] {
	return NewActionFuncWithNoOpUndo[*provisionState, *provisionSaga, string](
		ActionName(name),
		func(ctx context.Context, sgctx provisionCtx) (string, error) {
			return name, nil
		},
	)
}

func TestDagBuilderRejectsDuplicateNodeNames(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("dup", registry)

	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("a", "", noopStep("a"))))
	err := builder.Append(NewActionNode[*provisionState, *provisionSaga]("a", "", noopStep("a2")))
	assert.ErrorContains(t, err, "already exists")
}

func TestDagBuilderRejectsEmptyStage(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("empty", registry)

	assert.Error(t, builder.AppendParallel())
}

func TestDagBuilderRejectsNilAction(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("nil", registry)

	err := builder.Append(&ActionNode[*provisionState, *provisionSaga]{NodeName: "x"})
	assert.ErrorContains(t, err, "has no action")
}

func TestDagBuilderBuildRequiresNodes(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("none", registry)

	_, err := builder.Build()
	assert.Error(t, err)
}

func TestDagBuilderBuildRequiresSingleLeaf(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("fan", registry)

	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("a", "", noopStep("a"))))
	require.NoError(t, builder.AppendParallel(
		NewActionNode[*provisionState, *provisionSaga]("b", "", noopStep("b")),
		NewActionNode[*provisionState, *provisionSaga]("c", "", noopStep("c")),
	))
	_, err := builder.Build()
	assert.Error(t, err)

	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("d", "", noopStep("d"))))
	_, err = builder.Build()
	assert.NoError(t, err)
}

func TestDagBuilderRegistersActions(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("reg", registry)

	step := noopStep("a")
	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("a", "", step)))
	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("a_again", "", step)))
	assert.Equal(t, 1, registry.Len())

	got, err := registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, ActionName("a"), got.Name())

	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, ErrActionNotFound)
	assert.Error(t, registry.Register(step))
}

func TestParallelStageRunsAfterPreviousStage(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("parallel", registry)

	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("a", "", noopStep("a"))))
	require.NoError(t, builder.AppendParallel(
		NewActionNode[*provisionState, *provisionSaga]("b", "", noopStep("b")),
		NewActionNode[*provisionState, *provisionSaga]("c", "", noopStep("c")),
	))
	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("d", "", noopStep("d"))))

	d, err := builder.Build()
	require.NoError(t, err)
	sagaDag, err := NewSagaDag(d, nil)
	require.NoError(t, err)

	exec := NewExecutor(sagaDag, registry, &provisionSaga{State: &provisionState{}}, "parallel-1", NewMemoryStore[*provisionState](), WithLogger(quietLogger()))
	require.NoError(t, exec.Execute(context.Background()))

	order := exec.GetExecutionOrder()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.ElementsMatch(t, []string{"b", "c"}, order[1:3])
	assert.Equal(t, "d", order[3])
}

func TestSagaDagDOT(t *testing.T) {
	registry := NewActionRegistry[*provisionState, *provisionSaga]()
	builder := NewDagBuilder[*provisionState, *provisionSaga]("signup", registry)

	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("first", "First step", noopStep("first"))))
	require.NoError(t, builder.Append(NewActionNode[*provisionState, *provisionSaga]("second", "", noopStep("second"))))
	d, err := builder.Build()
	require.NoError(t, err)
	sagaDag, err := NewSagaDag(d, nil)
	require.NoError(t, err)

	out, err := sagaDag.DOT()
	require.NoError(t, err)
	assert.Contains(t, out, "digraph signup")
	assert.Contains(t, out, "First step")
	assert.Contains(t, out, "->")

	idx, err := sagaDag.GetNodeIndex("second")
	require.NoError(t, err)
	node, err := sagaDag.GetNode(idx)
	require.NoError(t, err)
	assert.Equal(t, "second", node.Label())
	assert.True(t, node.IsAction())

	start, err := sagaDag.GetNode(sagaDag.StartNode)
	require.NoError(t, err)
	assert.Equal(t, KindStart, start.Kind)
	assert.Equal(t, "(start)", start.Label())
	assert.Equal(t, "start", start.Kind.String())

	_, err = sagaDag.GetNodeIndex("nope")
	assert.Error(t, err)
}
