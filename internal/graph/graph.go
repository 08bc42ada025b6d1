// Package graph compiles a validated plan into the live execution DAG and
// provides the structural operations the scheduler needs: deterministic
// iteration, dependency queries, runtime splicing of branch nodes, and cycle
// detection.
package graph

import (
	"fmt"
	"strings"
)

// Graph is the run-time DAG. The static skeleton is built once from a plan;
// branch nodes are spliced in while the run progresses. All mutation happens
// on the coordinator goroutine, so no internal locking is needed.
type Graph struct {
	nodes map[string]*Node
	// order preserves insertion order so that every walk over the graph is
	// deterministic. Branch nodes append in expansion order.
	order []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode inserts a node. Inserting a duplicate ID is an error: IDs anchor
// cache identity and must never collide.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("graph: duplicate node ID %q", n.ID)
	}
	if n.Deps == nil {
		n.Deps = make(map[string]*Node)
	}
	if n.Dependents == nil {
		n.Dependents = make(map[string]*Node)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge records that toID depends on fromID.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("graph: self-referential edge not allowed: %s", fromID)
	}
	from, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("graph: source node not found: %s", fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("graph: destination node not found: %s", toID)
	}
	to.Deps[fromID] = from
	from.Dependents[toID] = to
	return nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// NodesInOrder returns all nodes in deterministic insertion order.
func (g *Graph) NodesInOrder() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Ancestors returns the transitive dependency closure of the named node,
// including the node itself. Used to restrict a run to "everything needed to
// build this one target".
func (g *Graph) Ancestors(id string) (map[string]bool, error) {
	start, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("graph: node not found: %s", id)
	}
	seen := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		for _, dep := range n.Deps {
			walk(dep)
		}
	}
	walk(start)
	return seen, nil
}

// CyclicError reports a reference cycle found during validation, naming the
// nodes on the cycle in traversal order.
type CyclicError struct {
	Nodes []string
}

func (e *CyclicError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Nodes, " -> "))
}

// DetectCycles validates that the graph is acyclic using a depth-first
// traversal with a recursion-stack check. A back-edge produces a
// *CyclicError naming the cycle.
func (g *Graph) DetectCycles() error {
	permanent := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n.ID] {
			return nil
		}
		if onStack[n.ID] {
			// Trim the stack down to the first occurrence to name the cycle.
			for i, id := range stack {
				if id == n.ID {
					cycle := append(append([]string{}, stack[i:]...), n.ID)
					return &CyclicError{Nodes: cycle}
				}
			}
			return &CyclicError{Nodes: []string{n.ID}}
		}
		onStack[n.ID] = true
		stack = append(stack, n.ID)
		for _, id := range sortedKeys(n.Dependents) {
			if err := visit(n.Dependents[id]); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(onStack, n.ID)
		permanent[n.ID] = true
		return nil
	}

	for _, id := range g.order {
		if !permanent[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}
	return nil
}
