package graph

import (
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/fingerprint"
	"github.com/vk/weftgo/internal/plan"
)

// Kind distinguishes the three vertex shapes in the execution graph.
type Kind int

const (
	// KindStatic is a 1:1 vertex for a non-patterned task.
	KindStatic Kind = iota
	// KindPattern is the collapsed placeholder for a patterned task. It is
	// never dispatched as work; at runtime it expands into branch nodes and
	// later completes with their ordered aggregate.
	KindPattern
	// KindBranch is one materialized element of a pattern expansion.
	KindBranch
)

// Status is a node's position in its lifecycle.
// pending → dispatched → {completed | errored}, plus pending → skipped when
// the stored fingerprint still matches. A node downstream of an errored node
// stays pending for the whole run; that blocked-pending outcome is
// deliberately distinct from skipped.
type Status int

const (
	StatusPending Status = iota
	StatusDispatched
	StatusCompleted
	StatusSkipped
	StatusErrored
)

// String returns the report spelling of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDispatched:
		return "dispatched"
	case StatusCompleted:
		return "completed"
	case StatusSkipped:
		return "skipped"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is an end state for this run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusErrored
}

// Satisfied reports whether a dependency in this status unblocks dependents.
func (s Status) Satisfied() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Node is a single vertex in the execution graph. Structure fields are fixed
// at creation (or at splice time for branches); run-state fields are mutated
// only by the coordinator goroutine.
type Node struct {
	// ID is unique within the graph. Static and pattern nodes use the task
	// name; branch IDs are derived deterministically from the pattern name
	// and the element content hashes, so identical inputs across runs yield
	// identical IDs.
	ID   string
	Task *plan.Task
	Kind Kind

	// Elems maps a pattern-over task name to the single element this branch
	// draws from it. Nil for non-branch nodes.
	Elems map[string]cty.Value
	// ElemHashes are the content hashes of the drawn elements, in pattern
	// declaration order. They feed the branch ID derivation.
	ElemHashes []fingerprint.Hash

	Deps       map[string]*Node
	Dependents map[string]*Node

	// Expanded marks a pattern node whose branches have been spliced in.
	Expanded bool

	// --- run state, coordinator-owned ---

	Status     Status
	Err        error
	Warnings   []string
	OutputHash fingerprint.Hash
	Duration   time.Duration
	Bytes      int64

	value    cty.Value
	hasValue bool
}

// SetValue caches the realized value in memory.
func (n *Node) SetValue(v cty.Value) {
	n.value = v
	n.hasValue = true
}

// DropValue releases the in-memory value after it has been persisted.
func (n *Node) DropValue() {
	n.value = cty.NilVal
	n.hasValue = false
}

// Value returns the in-memory value, if retained.
func (n *Node) Value() (cty.Value, bool) {
	return n.value, n.hasValue
}
