package engine

import "errors"

var (
	// ErrMethodNotFound means no method is registered for a node's
	// (type, function id) pair. Distinguishable from a method that ran
	// and failed, for observability.
	ErrMethodNotFound = errors.New("node method not found")

	// ErrCyclicGraph means the flow's edges contain a cycle. This is a
	// configuration defect, not a transient fault.
	ErrCyclicGraph = errors.New("flow graph contains a cycle")
)
