package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Leo-Lynt/flow-api/internal/flow"
)

// ExecContext identifies the run a node invocation belongs to.
type ExecContext struct {
	ExecutionID string
	FlowID      string
	UserID      string
	TriggeredBy flow.TriggerSource
	ScheduleID  string
	StartedAt   time.Time
}

// CallRequest is the input handed to a node method.
type CallRequest struct {
	Node flow.Node
	// Inputs holds the global resolved inputs plus, keyed by source node
	// id, the recorded outputs of this node's upstream dependencies.
	Inputs    map[string]any
	Execution ExecContext
}

// Method is one invocable node behavior.
type Method interface {
	Run(ctx context.Context, req CallRequest) (map[string]any, error)
}

// MethodFunc adapts a plain function to the Method interface.
type MethodFunc func(ctx context.Context, req CallRequest) (map[string]any, error)

func (f MethodFunc) Run(ctx context.Context, req CallRequest) (map[string]any, error) {
	return f(ctx, req)
}

// Registry resolves a node's behavior by (node type, function id).
type Registry interface {
	Resolve(nodeType, functionID string) (Method, error)
}

// MapRegistry is the in-memory Registry implementation, populated at
// startup (or lazily) by whoever owns the method catalog.
type MapRegistry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

func NewRegistry() *MapRegistry {
	return &MapRegistry{methods: map[string]Method{}}
}

func methodKey(nodeType, functionID string) string {
	return nodeType + "/" + functionID
}

// Register binds a method to (nodeType, functionID), replacing any
// previous binding.
func (r *MapRegistry) Register(nodeType, functionID string, m Method) {
	r.mu.Lock()
	r.methods[methodKey(nodeType, functionID)] = m
	r.mu.Unlock()
}

func (r *MapRegistry) Resolve(nodeType, functionID string) (Method, error) {
	r.mu.RLock()
	m, ok := r.methods[methodKey(nodeType, functionID)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrMethodNotFound, nodeType, functionID)
	}
	return m, nil
}
