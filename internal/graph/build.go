package graph

import (
	"context"
	"sort"

	"github.com/vk/weftgo/internal/ctxlog"
	"github.com/vk/weftgo/internal/plan"
)

// Build compiles a validated plan into the static DAG skeleton. Patterned
// tasks become single collapsed pattern nodes; their fan-out happens at run
// time, once the length of the upstream data is known.
func Build(ctx context.Context, p *plan.Plan) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	g := New()

	// First pass: one node per task definition.
	for _, t := range p.Tasks {
		kind := KindStatic
		if t.Pattern != nil {
			kind = KindPattern
		}
		if err := g.AddNode(&Node{ID: t.Name, Task: t, Kind: kind}); err != nil {
			return nil, err
		}
	}
	logger.Debug("graph skeleton nodes created", "count", g.Len())

	// Second pass: edges from argument references and pattern inputs.
	for _, t := range p.Tasks {
		for _, b := range t.Args {
			if ref, ok := b.IsRef(); ok {
				if err := g.AddEdge(ref, t.Name); err != nil {
					return nil, err
				}
			}
		}
		if t.Pattern != nil {
			for _, over := range t.Pattern.Over {
				if err := g.AddEdge(over, t.Name); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	logger.Debug("graph skeleton validated", "nodes", g.Len())
	return g, nil
}

// sortedKeys returns map keys in lexical order, for deterministic traversal.
func sortedKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
