package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/Leo-Lynt/flow-api/internal/eventbus"
	"github.com/Leo-Lynt/flow-api/internal/flow"
	"github.com/Leo-Lynt/flow-api/internal/storage"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

// Executor runs one flow's node graph to completion.
//
// Nodes run sequentially in dependency order; siblings with no mutual
// dependency keep their topological order so results and failure
// attribution stay deterministic. Execution is fail-fast: the first node
// failure aborts the rest, and the Execution record keeps the results
// computed before the failure.
type Executor struct {
	store    storage.Store
	registry Registry
	bus      eventbus.Bus
	log      logx.Logger
}

func NewExecutor(store storage.Store, registry Registry, bus eventbus.Bus, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{store: store, registry: registry, bus: bus, log: log}
}

// RunRequest describes one run of a flow. ExecutionID lets the caller
// name the execution up front (so it can be persisted alongside an
// in-flight marker before the run starts); empty means generate one.
type RunRequest struct {
	Flow        *flow.Flow
	ExecutionID string
	Inputs      map[string]any
	UserID      string
	TriggeredBy flow.TriggerSource
	ScheduleID  string
}

// Execute creates an Execution record, walks the graph, and finalizes
// the record exactly once. The returned Execution is non-nil whenever a
// record was created, including on failure.
func (e *Executor) Execute(ctx context.Context, req RunRequest) (*flow.Execution, error) {
	f := req.Flow
	id := req.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}

	start := time.Now()
	exec := &flow.Execution{
		ID:          id,
		FlowID:      f.ID,
		UserID:      req.UserID,
		TriggeredBy: req.TriggeredBy,
		ScheduleID:  req.ScheduleID,
		Status:      flow.StatusRunning,
		StartedAt:   start,
		NodeResults: map[string]any{},
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	log := e.log.With(
		logx.String("execution", exec.ID),
		logx.String("flow", f.ID),
	)

	order, err := topoOrder(f)
	if err != nil {
		return exec, e.finish(ctx, exec, start, err)
	}

	ec := ExecContext{
		ExecutionID: exec.ID,
		FlowID:      f.ID,
		UserID:      req.UserID,
		TriggeredBy: req.TriggeredBy,
		ScheduleID:  req.ScheduleID,
		StartedAt:   start,
	}

	for _, node := range order {
		method, err := e.registry.Resolve(node.Type, node.Data.FunctionID)
		if err != nil {
			return exec, e.finish(ctx, exec, start, fmt.Errorf("node %s: %w", node.ID, err))
		}

		in, err := assembleInputs(node, f.Edges, exec.NodeResults, req.Inputs)
		if err != nil {
			return exec, e.finish(ctx, exec, start, fmt.Errorf("node %s: assemble inputs: %w", node.ID, err))
		}

		out, err := e.runMethod(ctx, method, CallRequest{Node: node, Inputs: in, Execution: ec})
		if err != nil {
			return exec, e.finish(ctx, exec, start, fmt.Errorf("node %s: %w", node.ID, err))
		}

		exec.NodeResults[node.ID] = out
		exec.NodesExecuted++
		log.Debug("node executed", logx.String("node", node.ID), logx.String("type", node.Type))
	}

	if err := e.finish(ctx, exec, start, nil); err != nil {
		return exec, err
	}
	log.Info("flow executed",
		logx.Int("nodes", exec.NodesExecuted),
		logx.Duration("took", time.Since(start)),
	)
	return exec, nil
}

// runMethod invokes one node method, containing panics. A panicking
// method becomes an ordinary node error so the run finalizes like any
// other failure instead of unwinding past the record bookkeeping.
func (e *Executor) runMethod(ctx context.Context, m Method, req CallRequest) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in node method",
				logx.String("node", req.Node.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.Run(ctx, req)
}

// finish finalizes the Execution record. With runErr == nil the record
// is marked successful; otherwise failed, and runErr is returned so the
// caller sees the original fault.
func (e *Executor) finish(ctx context.Context, exec *flow.Execution, start time.Time, runErr error) error {
	end := time.Now()
	exec.FinishedAt = &end
	exec.DurationMS = end.Sub(start).Milliseconds()
	if runErr != nil {
		exec.Status = flow.StatusFailed
		exec.Error = runErr.Error()
	} else {
		exec.Status = flow.StatusSuccess
	}

	if err := e.store.FinishExecution(ctx, exec); err != nil {
		e.log.Error("finalize execution record", logx.String("execution", exec.ID), logx.Err(err))
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeExecutionFinished, Data: exec})
	}
	return runErr
}

// assembleInputs builds one node's input map: the outputs of its
// upstream nodes keyed by source node id, backfilled with the global
// resolved inputs (upstream keys win on collision).
func assembleInputs(node flow.Node, edges []flow.Edge, results map[string]any, global map[string]any) (map[string]any, error) {
	in := map[string]any{}
	for _, edge := range edges {
		if edge.Target != node.ID {
			continue
		}
		if out, ok := results[edge.Source]; ok {
			in[edge.Source] = out
		}
	}
	if len(global) > 0 {
		if err := mergo.Merge(&in, global); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// topoOrder returns the flow's nodes in dependency order (Kahn's
// algorithm), keeping declaration order among nodes that become ready
// together. Returns ErrCyclicGraph when edges form a cycle.
func topoOrder(f *flow.Flow) ([]flow.Node, error) {
	indegree := make(map[string]int, len(f.Nodes))
	nodes := make(map[string]flow.Node, len(f.Nodes))
	for _, n := range f.Nodes {
		indegree[n.ID] = 0
		nodes[n.ID] = n
	}
	out := make(map[string][]string, len(f.Edges))
	for _, e := range f.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, fmt.Errorf("edge source node %q not found", e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge target node %q not found", e.Target)
		}
		out[e.Source] = append(out[e.Source], e.Target)
		indegree[e.Target]++
	}

	var ready []string
	for _, n := range f.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]flow.Node, 0, len(f.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, nodes[id])
		for _, next := range out[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(f.Nodes) {
		return nil, ErrCyclicGraph
	}
	return order, nil
}
