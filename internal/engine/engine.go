// Package engine is the public surface of weftgo: it binds a validated plan
// to a fingerprint store and exposes run invocation plus the inspection
// operations (status, read, invalidate, delete, prune).
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/ctxlog"
	"github.com/vk/weftgo/internal/fingerprint"
	"github.com/vk/weftgo/internal/graph"
	"github.com/vk/weftgo/internal/invalidate"
	"github.com/vk/weftgo/internal/plan"
	"github.com/vk/weftgo/internal/scheduler"
	"github.com/vk/weftgo/internal/store"
)

// Engine drives one plan against one store. Safe to reuse across runs; each
// Run compiles a fresh graph.
type Engine struct {
	plan  *plan.Plan
	store store.Store
}

// New binds a plan to a store.
func New(p *plan.Plan, st store.Store) *Engine {
	return &Engine{plan: p, store: st}
}

// RunOptions tunes a single run.
type RunOptions struct {
	// Workers sizes the worker pool; zero uses the scheduler default.
	Workers int
	// Force names tasks rebuilt regardless of freshness.
	Force []string
	// UpTo restricts the run to the named task and its ancestors.
	UpTo string
}

// Run builds everything stale and returns the per-node report. Node failures
// are reported, not returned: the error covers cancellation and plan
// compilation faults only.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*scheduler.RunReport, error) {
	g, err := graph.Build(ctx, e.plan)
	if err != nil {
		return nil, err
	}
	force := make(map[string]bool, len(opts.Force))
	for _, name := range opts.Force {
		if _, ok := e.plan.Task(name); !ok {
			return nil, fmt.Errorf("engine: force: unknown task %q", name)
		}
		force[name] = true
	}
	exec, err := scheduler.New(e.plan, g, e.store, scheduler.Config{
		Workers: opts.Workers,
		Force:   force,
		UpTo:    opts.UpTo,
	})
	if err != nil {
		return nil, err
	}
	return exec.Run(ctx)
}

// Freshness is the dry-run verdict for one task.
type Freshness struct {
	Stale  bool
	Reason invalidate.Reason
}

// Status reports stale/fresh per task without executing anything. Patterned
// tasks compare code and literal hashes against their recorded branches; the
// exact branch set is unknowable without upstream values, so they also report
// stale whenever any upstream does.
func (e *Engine) Status(ctx context.Context) (map[string]Freshness, error) {
	// Compile to validate the plan (cycles included) even though the graph
	// itself is not executed.
	if _, err := graph.Build(ctx, e.plan); err != nil {
		return nil, err
	}

	memo := make(map[string]Freshness, len(e.plan.Tasks))
	var visit func(name string) (Freshness, error)
	visit = func(name string) (Freshness, error) {
		if f, ok := memo[name]; ok {
			return f, nil
		}
		t, _ := e.plan.Task(name)
		f, err := e.taskFreshness(ctx, t, visit)
		if err != nil {
			return Freshness{}, err
		}
		memo[name] = f
		return f, nil
	}
	for _, t := range e.plan.Tasks {
		if _, err := visit(t.Name); err != nil {
			return nil, err
		}
	}
	return memo, nil
}

func (e *Engine) taskFreshness(ctx context.Context, t *plan.Task, visit func(string) (Freshness, error)) (Freshness, error) {
	forced, err := e.store.IsInvalidated(ctx, t.Name)
	if err != nil {
		return Freshness{}, err
	}
	if forced {
		return Freshness{Stale: true, Reason: invalidate.ReasonForced}, nil
	}
	rec, err := e.store.GetMetadata(ctx, t.Name)
	if errors.Is(err, store.ErrNotFound) {
		return Freshness{Stale: true, Reason: invalidate.ReasonMissingRecord}, nil
	}
	if err != nil {
		return Freshness{}, err
	}

	if t.Pattern != nil {
		comp, err := e.plan.Registry.Lookup(t.Compute)
		if err != nil {
			return Freshness{}, err
		}
		codeHash := fingerprint.Code(comp.Name, comp.Version)
		litHashes := make(map[int]fingerprint.Hash)
		for i, b := range t.Args {
			if _, isRef := b.IsRef(); !isRef {
				h, err := fingerprint.Value(b.Literal())
				if err != nil {
					return Freshness{}, err
				}
				litHashes[i] = h
			}
		}
		// The aggregate record only covers consolidation; the task's real code
		// hash and argument hashes live on its branch records.
		ids, err := e.taskRecordIDs(ctx, t.Name)
		if err != nil {
			return Freshness{}, err
		}
		for _, id := range ids[1:] {
			branchRec, err := e.store.GetMetadata(ctx, id)
			if err != nil {
				return Freshness{}, err
			}
			if branchRec.CodeHash != codeHash {
				return Freshness{Stale: true, Reason: invalidate.ReasonCodeChanged}, nil
			}
			for i, h := range litHashes {
				if i < len(branchRec.InputHashes) && branchRec.InputHashes[i] != h {
					return Freshness{Stale: true, Reason: invalidate.ReasonInputsChanged}, nil
				}
			}
		}

		upstreams := make(map[string]bool)
		for _, b := range t.Args {
			if ref, ok := b.IsRef(); ok {
				upstreams[ref] = true
			}
		}
		for _, over := range t.Pattern.Over {
			upstreams[over] = true
		}
		for up := range upstreams {
			f, err := visit(up)
			if err != nil {
				return Freshness{}, err
			}
			if f.Stale {
				return Freshness{Stale: true, Reason: invalidate.ReasonInputsChanged}, nil
			}
		}
		return Freshness{Reason: invalidate.ReasonFresh}, nil
	}

	comp, err := e.plan.Registry.Lookup(t.Compute)
	if err != nil {
		return Freshness{}, err
	}
	if rec.CodeHash != fingerprint.Code(comp.Name, comp.Version) {
		return Freshness{Stale: true, Reason: invalidate.ReasonCodeChanged}, nil
	}
	if len(rec.InputHashes) != len(t.Args) {
		return Freshness{Stale: true, Reason: invalidate.ReasonInputsChanged}, nil
	}
	for i, b := range t.Args {
		ref, isRef := b.IsRef()
		if !isRef {
			h, err := fingerprint.Value(b.Literal())
			if err != nil {
				return Freshness{}, err
			}
			if rec.InputHashes[i] != h {
				return Freshness{Stale: true, Reason: invalidate.ReasonInputsChanged}, nil
			}
			continue
		}
		f, err := visit(ref)
		if err != nil {
			return Freshness{}, err
		}
		if f.Stale {
			return Freshness{Stale: true, Reason: invalidate.ReasonInputsChanged}, nil
		}
		upRec, err := e.store.GetMetadata(ctx, ref)
		if err != nil {
			return Freshness{}, err
		}
		if rec.InputHashes[i] != upRec.OutputHash {
			return Freshness{Stale: true, Reason: invalidate.ReasonInputsChanged}, nil
		}
	}
	return Freshness{Reason: invalidate.ReasonFresh}, nil
}

// ReadValue returns the stored value for a node ID (task name or branch ID).
func (e *Engine) ReadValue(ctx context.Context, nodeID string) (cty.Value, error) {
	return e.store.Get(ctx, nodeID)
}

// Invalidate force-marks a task stale without deleting its stored data.
// Invalidating a patterned task also marks its recorded branches.
func (e *Engine) Invalidate(ctx context.Context, name string) error {
	ids, err := e.taskRecordIDs(ctx, name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.store.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete purges the stored value and record of a task. Deleting a patterned
// task purges its recorded branches too.
func (e *Engine) Delete(ctx context.Context, name string) error {
	ids, err := e.taskRecordIDs(ctx, name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.store.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// taskRecordIDs resolves a task name to its stored identifiers: the name
// itself plus, for patterned tasks, every recorded branch ID.
func (e *Engine) taskRecordIDs(ctx context.Context, name string) ([]string, error) {
	t, ok := e.plan.Task(name)
	if !ok {
		return nil, fmt.Errorf("engine: unknown task %q", name)
	}
	ids := []string{name}
	if t.Pattern == nil {
		return ids, nil
	}
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range all {
		if isBranchOf(name, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var branchSuffixRe = regexp.MustCompile(`^[0-9a-f]{8}$`)

// isBranchOf reports whether id looks like a branch identifier derived from
// the named pattern task.
func isBranchOf(pattern, id string) bool {
	if !strings.HasPrefix(id, pattern+"_") {
		return false
	}
	return branchSuffixRe.MatchString(id[len(pattern)+1:])
}

// Prune deletes stored entries whose identifiers no longer belong to the
// current plan: names of dropped tasks, and branch records of dropped
// patterns. Branches of still-declared patterns survive; the invalidation
// engine decides their fate at the next run.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	logger := ctxlog.FromContext(ctx)
	all, err := e.store.List(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, id := range all {
		if e.belongsToPlan(id) {
			continue
		}
		if err := e.store.Delete(ctx, id); err != nil {
			return pruned, err
		}
		logger.Debug("pruned stored entry", "node", id)
		pruned++
	}
	return pruned, nil
}

func (e *Engine) belongsToPlan(id string) bool {
	if _, ok := e.plan.Task(id); ok {
		return true
	}
	for _, t := range e.plan.Tasks {
		if t.Pattern != nil && isBranchOf(t.Name, id) {
			return true
		}
	}
	return false
}
