// Package branch materializes pattern nodes into concrete branch nodes once
// their upstream values are realized. Expansion is a pure function of those
// values: no clock, randomness, or environment feeds it, so re-reaching the
// same node always derives the same branch set.
package branch

import (
	"context"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/ctxlog"
	"github.com/vk/weftgo/internal/fingerprint"
	"github.com/vk/weftgo/internal/graph"
	"github.com/vk/weftgo/internal/plan"
)

// ArityError reports map-pattern inputs of unequal length. It is fatal to the
// owning pattern node and its descendants, not to the rest of the run.
type ArityError struct {
	Pattern string
	Lengths map[string]int
}

func (e *ArityError) Error() string {
	parts := make([]string, 0, len(e.Lengths))
	for name, n := range e.Lengths {
		parts = append(parts, fmt.Sprintf("%s=%d", name, n))
	}
	return fmt.Sprintf("map pattern %q requires equal-length inputs, got %s",
		e.Pattern, strings.Join(parts, " "))
}

// ID derives the deterministic branch identifier from the pattern name and
// the content hashes of the upstream elements the branch draws from, in
// pattern declaration order. Identity comes from element content, not
// position: appending an element upstream never renames existing branches.
func ID(pattern string, elemHashes []fingerprint.Hash) string {
	return pattern + "_" + fingerprint.Combine(append([]fingerprint.Hash{fingerprint.Bytes([]byte(pattern))}, elemHashes...)...).Short()
}

// Expand computes the expansion set for a pattern node over the realized
// upstream values, splices one branch node per element into the graph, and
// returns the new nodes in expansion order. A zero-size expansion is legal
// and returns an empty slice.
//
// Cross products iterate row-major: the first declared input varies slowest,
// the last varies fastest. The order affects display only; branch identity is
// order-independent.
func Expand(ctx context.Context, g *graph.Graph, pat *graph.Node, upstream map[string]cty.Value) ([]*graph.Node, error) {
	logger := ctxlog.FromContext(ctx).With("pattern", pat.ID)
	def := pat.Task.Pattern

	elems := make([][]cty.Value, len(def.Over))
	lengths := make(map[string]int, len(def.Over))
	for i, name := range def.Over {
		v, ok := upstream[name]
		if !ok {
			return nil, fmt.Errorf("branch: pattern %q missing upstream value for %q", pat.ID, name)
		}
		seq, err := sequenceElements(v)
		if err != nil {
			return nil, fmt.Errorf("branch: pattern %q over %q: %w", pat.ID, name, err)
		}
		elems[i] = seq
		lengths[name] = len(seq)
	}

	var combos [][]cty.Value
	switch def.Mode {
	case plan.PatternMap:
		want := lengths[def.Over[0]]
		for _, n := range lengths {
			if n != want {
				return nil, &ArityError{Pattern: pat.ID, Lengths: lengths}
			}
		}
		for i := 0; i < want; i++ {
			combo := make([]cty.Value, len(elems))
			for j := range elems {
				combo[j] = elems[j][i]
			}
			combos = append(combos, combo)
		}
	case plan.PatternCross:
		combos = crossProduct(elems)
	default:
		return nil, fmt.Errorf("branch: pattern %q has unknown mode", pat.ID)
	}

	var out []*graph.Node
	seen := make(map[string]bool, len(combos))
	for _, combo := range combos {
		hashes := make([]fingerprint.Hash, len(combo))
		for i, v := range combo {
			h, err := fingerprint.Value(v)
			if err != nil {
				return nil, fmt.Errorf("branch: pattern %q: hashing element: %w", pat.ID, err)
			}
			hashes[i] = h
		}
		id := ID(pat.ID, hashes)
		if seen[id] {
			// Duplicate upstream elements collapse to one branch: same
			// computation over the same inputs is the same unit of work.
			continue
		}
		seen[id] = true

		byName := make(map[string]cty.Value, len(def.Over))
		for i, name := range def.Over {
			byName[name] = combo[i]
		}
		n := &graph.Node{
			ID:         id,
			Task:       pat.Task,
			Kind:       graph.KindBranch,
			Elems:      byName,
			ElemHashes: hashes,
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
		// A branch inherits the pattern's upstream edges so provenance stays
		// queryable; those dependencies are already terminal by now.
		for depID := range pat.Deps {
			if err := g.AddEdge(depID, id); err != nil {
				return nil, err
			}
		}
		// The pattern node consolidates its branches, so it must wait on them.
		if err := g.AddEdge(id, pat.ID); err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	pat.Expanded = true
	logger.Debug("pattern expanded", "mode", def.Mode.String(), "branches", len(out))
	return out, nil
}

// sequenceElements flattens a list or tuple value into its ordered elements.
// Sets are rejected: their iteration order is an implementation detail and
// expansion order must be reproducible.
func sequenceElements(v cty.Value) ([]cty.Value, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, fmt.Errorf("value is not a realized sequence")
	}
	ty := v.Type()
	if !ty.IsListType() && !ty.IsTupleType() {
		return nil, fmt.Errorf("value of type %s is not a list or tuple", ty.FriendlyName())
	}
	var out []cty.Value
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		out = append(out, ev)
	}
	return out, nil
}

// crossProduct generates the row-major Cartesian product.
func crossProduct(inputs [][]cty.Value) [][]cty.Value {
	total := 1
	for _, in := range inputs {
		total *= len(in)
	}
	if total == 0 {
		return nil
	}
	out := make([][]cty.Value, 0, total)
	idx := make([]int, len(inputs))
	for {
		combo := make([]cty.Value, len(inputs))
		for i, j := range idx {
			combo[i] = inputs[i][j]
		}
		out = append(out, combo)
		// Advance the last index fastest.
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(inputs[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
