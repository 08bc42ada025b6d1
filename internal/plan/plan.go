// Package plan holds the declaration-time representation of a pipeline: an
// ordered list of immutable task definitions plus the registry of compute
// functions they reference. A validated Plan is compiled into a live
// graph.Graph by the graph package; the two representations are deliberately
// kept separate.
package plan

import (
	"fmt"
	"regexp"

	"github.com/zclconf/go-cty/cty"
)

// PatternMode selects how a patterned task fans out over its inputs.
type PatternMode int

const (
	// PatternMap zips the pattern inputs element-wise. All inputs must have
	// the same length.
	PatternMap PatternMode = iota + 1
	// PatternCross takes the full Cartesian product of the pattern inputs.
	PatternCross
)

// String returns the declaration keyword for the mode.
func (m PatternMode) String() string {
	switch m {
	case PatternMap:
		return "map"
	case PatternCross:
		return "cross"
	default:
		return fmt.Sprintf("PatternMode(%d)", int(m))
	}
}

// Pattern declares runtime fan-out over the named upstream tasks. The branch
// count is unknown until those tasks' values are realized.
type Pattern struct {
	Mode PatternMode
	// Over lists the upstream task names whose element sequences drive the
	// expansion, in declaration order.
	Over []string
}

// Binding is a single argument to a task's computation: either an inline
// literal or a reference to another task's output.
type Binding struct {
	literal cty.Value
	ref     string
}

// Lit binds a literal value.
func Lit(v cty.Value) Binding { return Binding{literal: v} }

// Ref binds the output of the named task.
func Ref(name string) Binding { return Binding{ref: name, literal: cty.NilVal} }

// IsRef reports whether the binding references another task, and if so which.
func (b Binding) IsRef() (string, bool) { return b.ref, b.ref != "" }

// Literal returns the literal value for a non-ref binding.
func (b Binding) Literal() cty.Value { return b.literal }

// Retention controls whether a realized value stays in memory after it has
// been persisted. It affects peak memory only, never correctness.
type Retention int

const (
	// RetainValue keeps the value in memory for downstream consumers.
	RetainValue Retention = iota
	// DropAfterStore releases the value once persisted; downstream consumers
	// re-read it from the store.
	DropAfterStore
)

// Options are the per-task knobs that do not affect the computed value.
type Options struct {
	// Format tags the storage encoding recorded in metadata. Empty means the
	// default ("json").
	Format    string
	Retention Retention
}

// Task is one immutable task definition. Name must be unique within a plan
// and stable across runs, since it anchors cache identity.
type Task struct {
	Name    string
	Compute string
	Args    []Binding
	Pattern *Pattern
	Options Options
}

var nameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Plan is a validated, ordered collection of task definitions.
type Plan struct {
	Tasks    []*Task
	Registry *Registry
	// Init is replicated to every worker before it executes its first node.
	Init InitContext

	byName map[string]*Task
}

// New validates the task definitions and returns an immutable Plan.
// It rejects duplicate names, references to undeclared tasks, unregistered
// computations, and malformed patterns. Cycle detection happens later, when
// the plan is compiled into a graph.
func New(reg *Registry, tasks ...*Task) (*Plan, error) {
	if reg == nil {
		return nil, fmt.Errorf("plan: nil registry")
	}
	p := &Plan{
		Tasks:    tasks,
		Registry: reg,
		byName:   make(map[string]*Task, len(tasks)),
	}
	for _, t := range tasks {
		if !nameRe.MatchString(t.Name) {
			return nil, fmt.Errorf("plan: invalid task name %q", t.Name)
		}
		if _, dup := p.byName[t.Name]; dup {
			return nil, fmt.Errorf("plan: duplicate task name %q", t.Name)
		}
		p.byName[t.Name] = t
	}
	for _, t := range tasks {
		if _, err := reg.Lookup(t.Compute); err != nil {
			return nil, fmt.Errorf("plan: task %q: %w", t.Name, err)
		}
		for i, b := range t.Args {
			if ref, ok := b.IsRef(); ok {
				if ref == t.Name {
					return nil, fmt.Errorf("plan: task %q argument %d references itself", t.Name, i)
				}
				if _, declared := p.byName[ref]; !declared {
					return nil, fmt.Errorf("plan: task %q argument %d references undeclared task %q", t.Name, i, ref)
				}
			}
		}
		if pat := t.Pattern; pat != nil {
			if pat.Mode != PatternMap && pat.Mode != PatternCross {
				return nil, fmt.Errorf("plan: task %q: unknown pattern mode", t.Name)
			}
			if len(pat.Over) == 0 {
				return nil, fmt.Errorf("plan: task %q: pattern over no inputs", t.Name)
			}
			seen := make(map[string]bool, len(pat.Over))
			for _, over := range pat.Over {
				if over == t.Name {
					return nil, fmt.Errorf("plan: task %q: pattern over itself", t.Name)
				}
				if _, declared := p.byName[over]; !declared {
					return nil, fmt.Errorf("plan: task %q: pattern over undeclared task %q", t.Name, over)
				}
				if seen[over] {
					return nil, fmt.Errorf("plan: task %q: pattern over %q twice", t.Name, over)
				}
				seen[over] = true
			}
		}
	}
	return p, nil
}

// Task returns the task with the given name.
func (p *Plan) Task(name string) (*Task, bool) {
	t, ok := p.byName[name]
	return t, ok
}

// FormatOrDefault returns the declared storage format tag, defaulting to json.
func (o Options) FormatOrDefault() string {
	if o.Format == "" {
		return "json"
	}
	return o.Format
}
