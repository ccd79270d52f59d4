package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Leo-Lynt/flow-api/internal/flow"
	"github.com/Leo-Lynt/flow-api/internal/storage"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

func chainFlow() *flow.Flow {
	return &flow.Flow{
		ID:   "flow-1",
		Name: "chain",
		Nodes: []flow.Node{
			{ID: "a", Type: "test", Data: flow.NodeData{FunctionID: "emit"}},
			{ID: "b", Type: "test", Data: flow.NodeData{FunctionID: "relay"}},
			{ID: "c", Type: "test", Data: flow.NodeData{FunctionID: "relay"}},
		},
		Edges: []flow.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
	}
}

func TestExecuteChainPropagatesOutputs(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("test", "emit", MethodFunc(func(ctx context.Context, req CallRequest) (map[string]any, error) {
		return map[string]any{"value": 1}, nil
	}))

	var seen []map[string]any
	reg.Register("test", "relay", MethodFunc(func(ctx context.Context, req CallRequest) (map[string]any, error) {
		seen = append(seen, req.Inputs)
		return map[string]any{"node": req.Node.ID}, nil
	}))

	store := storage.NewMemory()
	e := NewExecutor(store, reg, nil, logx.Nop())

	exec, err := e.Execute(context.Background(), RunRequest{
		Flow:        chainFlow(),
		Inputs:      map[string]any{"startDate": "2024-01-15"},
		UserID:      "user-1",
		TriggeredBy: flow.TriggeredManual,
	})
	require.NoError(t, err)
	require.NotNil(t, exec)
	require.Equal(t, flow.StatusSuccess, exec.Status)
	require.Equal(t, 3, exec.NodesExecuted)
	require.NotNil(t, exec.FinishedAt)

	// b sees a's output keyed by node id, plus the global inputs.
	require.Len(t, seen, 2)
	require.Equal(t, map[string]any{"value": 1}, seen[0]["a"])
	require.Equal(t, "2024-01-15", seen[0]["startDate"])

	// c sees b's output, not a's.
	require.Equal(t, map[string]any{"node": "b"}, seen[1]["b"])
	require.NotContains(t, seen[1], "a")

	require.Equal(t, map[string]any{"node": "c"}, exec.NodeResults["c"])
}

func TestExecuteFailFastKeepsPartialResults(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("test", "emit", MethodFunc(func(ctx context.Context, req CallRequest) (map[string]any, error) {
		return map[string]any{"value": 1}, nil
	}))
	ran := 0
	boom := errors.New("boom")
	reg.Register("test", "relay", MethodFunc(func(ctx context.Context, req CallRequest) (map[string]any, error) {
		ran++
		if req.Node.ID == "b" {
			return nil, boom
		}
		return map[string]any{}, nil
	}))

	e := NewExecutor(storage.NewMemory(), reg, nil, logx.Nop())
	exec, err := e.Execute(context.Background(), RunRequest{Flow: chainFlow(), UserID: "user-1", TriggeredBy: flow.TriggeredManual})

	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "node b")
	require.NotNil(t, exec)
	require.Equal(t, flow.StatusFailed, exec.Status)
	require.Equal(t, 1, exec.NodesExecuted)
	require.Contains(t, exec.NodeResults, "a")
	require.NotContains(t, exec.NodeResults, "b")
	require.Equal(t, 1, ran, "c must not run after b fails")
}

func TestExecuteContainsMethodPanic(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("test", "emit", MethodFunc(func(ctx context.Context, req CallRequest) (map[string]any, error) {
		return map[string]any{"value": 1}, nil
	}))
	reg.Register("test", "relay", MethodFunc(func(ctx context.Context, req CallRequest) (map[string]any, error) {
		if req.Node.ID == "b" {
			panic("nil map write")
		}
		return map[string]any{}, nil
	}))

	e := NewExecutor(storage.NewMemory(), reg, nil, logx.Nop())
	exec, err := e.Execute(context.Background(), RunRequest{Flow: chainFlow(), UserID: "user-1", TriggeredBy: flow.TriggeredManual})

	require.Error(t, err)
	require.Contains(t, err.Error(), "node b")
	require.Contains(t, err.Error(), "panic")
	require.NotNil(t, exec)
	require.Equal(t, flow.StatusFailed, exec.Status)
	require.NotNil(t, exec.FinishedAt, "record must finalize despite the panic")
	require.Contains(t, exec.NodeResults, "a")
}

func TestExecuteUsesCallerExecutionID(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("test", "emit", MethodFunc(func(ctx context.Context, req CallRequest) (map[string]any, error) {
		return map[string]any{}, nil
	}))

	e := NewExecutor(storage.NewMemory(), reg, nil, logx.Nop())
	f := &flow.Flow{
		ID:    "flow-id",
		Nodes: []flow.Node{{ID: "a", Type: "test", Data: flow.NodeData{FunctionID: "emit"}}},
	}
	exec, err := e.Execute(context.Background(), RunRequest{
		Flow:        f,
		ExecutionID: "exec-given",
		UserID:      "user-1",
		TriggeredBy: flow.TriggeredSchedule,
		ScheduleID:  "s1",
	})
	require.NoError(t, err)
	require.Equal(t, "exec-given", exec.ID)
}

func TestExecuteMethodNotFound(t *testing.T) {
	t.Parallel()
	e := NewExecutor(storage.NewMemory(), NewRegistry(), nil, logx.Nop())
	f := &flow.Flow{
		ID:    "flow-2",
		Nodes: []flow.Node{{ID: "a", Type: "test", Data: flow.NodeData{FunctionID: "missing"}}},
	}
	exec, err := e.Execute(context.Background(), RunRequest{Flow: f, UserID: "user-1", TriggeredBy: flow.TriggeredManual})
	require.ErrorIs(t, err, ErrMethodNotFound)
	require.NotNil(t, exec)
	require.Equal(t, flow.StatusFailed, exec.Status)
}

func TestExecuteCyclicGraph(t *testing.T) {
	t.Parallel()
	e := NewExecutor(storage.NewMemory(), NewRegistry(), nil, logx.Nop())
	f := &flow.Flow{
		ID: "flow-3",
		Nodes: []flow.Node{
			{ID: "a", Type: "test", Data: flow.NodeData{FunctionID: "emit"}},
			{ID: "b", Type: "test", Data: flow.NodeData{FunctionID: "emit"}},
		},
		Edges: []flow.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
	exec, err := e.Execute(context.Background(), RunRequest{Flow: f, UserID: "user-1", TriggeredBy: flow.TriggeredManual})
	require.ErrorIs(t, err, ErrCyclicGraph)
	require.NotNil(t, exec)
	require.Equal(t, flow.StatusFailed, exec.Status)
	require.Zero(t, exec.NodesExecuted)
}

func TestTopoOrderDeterministic(t *testing.T) {
	t.Parallel()
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "x"}, {ID: "y"}, {ID: "z"},
		},
	}
	// No edges: declaration order must hold.
	for i := 0; i < 5; i++ {
		order, err := topoOrder(f)
		require.NoError(t, err)
		require.Equal(t, []string{"x", "y", "z"}, []string{order[0].ID, order[1].ID, order[2].ID})
	}
}

func TestTopoOrderUnknownEdgeNode(t *testing.T) {
	t.Parallel()
	f := &flow.Flow{
		Nodes: []flow.Node{{ID: "a"}},
		Edges: []flow.Edge{{Source: "a", Target: "ghost"}},
	}
	_, err := topoOrder(f)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}
