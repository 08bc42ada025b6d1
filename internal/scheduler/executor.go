// Package scheduler drives the execution graph to completion. A single
// coordinator goroutine owns the graph and all scheduling decisions; node
// computations run on a pool of workers fed over channels. The coordinator
// never assumes bounded execution time from a computation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/branch"
	"github.com/vk/weftgo/internal/ctxlog"
	"github.com/vk/weftgo/internal/fingerprint"
	"github.com/vk/weftgo/internal/graph"
	"github.com/vk/weftgo/internal/invalidate"
	"github.com/vk/weftgo/internal/plan"
	"github.com/vk/weftgo/internal/store"
)

// aggregateHash is the code identity of the built-in branch consolidation
// step. Consolidation has no user code, so every pattern node shares it.
var aggregateHash = fingerprint.Code("weftgo.aggregate", "1")

// ComputeError wraps a failure raised by opaque user code. Fatal to the node
// and its descendants, non-fatal to unrelated nodes.
type ComputeError struct {
	NodeID string
	Err    error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("computing %q: %v", e.NodeID, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

// Config tunes a single run.
type Config struct {
	// Workers is the size of the worker pool. Zero means DefaultWorkers.
	Workers int
	// Force names tasks treated as stale regardless of their fingerprints.
	// Forcing a patterned task forces all of its branches.
	Force map[string]bool
	// UpTo restricts the run to the named task and its ancestors.
	UpTo string
}

// DefaultWorkers is the pool size when the caller does not choose one.
const DefaultWorkers = 4

// Executor runs one plan against one store. It is single-use: create a fresh
// executor (and a fresh graph) per run.
type Executor struct {
	plan  *plan.Plan
	graph *graph.Graph
	store store.Store
	check *invalidate.Checker
	cfg   Config

	// active restricts scheduling to a subgraph; nil means every node.
	active map[string]bool
	// branchOrder preserves expansion order per pattern node for
	// deterministic consolidation.
	branchOrder map[string][]string
	reasons     map[string]invalidate.Reason
}

// New prepares an executor for a single run.
func New(p *plan.Plan, g *graph.Graph, st store.Store, cfg Config) (*Executor, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	e := &Executor{
		plan:        p,
		graph:       g,
		store:       st,
		check:       invalidate.New(st),
		cfg:         cfg,
		branchOrder: make(map[string][]string),
		reasons:     make(map[string]invalidate.Reason),
	}
	if cfg.UpTo != "" {
		active, err := g.Ancestors(cfg.UpTo)
		if err != nil {
			return nil, err
		}
		e.active = active
	}
	return e, nil
}

type job struct {
	node        *graph.Node
	comp        *plan.Computation
	args        []cty.Value
	codeHash    fingerprint.Hash
	inputHashes []fingerprint.Hash
	format      string
}

type result struct {
	node       *graph.Node
	value      cty.Value
	outputHash fingerprint.Hash
	bytes      int64
	duration   time.Duration
	warnings   []string
	err        error
}

// Run drives the graph until no frontier remains or the context is
// cancelled. Node failures never return an error here; they surface in the
// report with Failed set. The returned error covers cancellation and
// coordinator-level faults only.
func (e *Executor) Run(ctx context.Context) (*RunReport, error) {
	logger := ctxlog.FromContext(ctx)
	started := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan *job)
	results := make(chan *result)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.worker(runCtx, workerID, jobs, results)
		}(i)
	}
	logger.Debug("worker pool started", "workers", e.cfg.Workers)

	var queue []*job
	inflight := 0
	cancelled := false

	for {
		if !cancelled {
			select {
			case <-runCtx.Done():
				cancelled = true
				queue = discardQueue(queue)
			default:
				e.scanFrontier(runCtx, &queue)
			}
		}

		if len(queue) == 0 && inflight == 0 {
			break
		}

		if !cancelled && len(queue) > 0 {
			select {
			case jobs <- queue[0]:
				queue = queue[1:]
				inflight++
			case res := <-results:
				inflight--
				e.apply(runCtx, res)
			case <-runCtx.Done():
				cancelled = true
				queue = discardQueue(queue)
			}
			continue
		}
		if inflight > 0 {
			// Cancelled or nothing dispatchable: drain in-flight work.
			res := <-results
			inflight--
			e.apply(runCtx, res)
			continue
		}
		break
	}

	close(jobs)
	wg.Wait()

	report := e.buildReport(started)
	if cancelled {
		logger.Warn("run cancelled; completed nodes remain valid for the next run")
		return report, ctx.Err()
	}
	if report.Failed {
		logger.Error("run finished with failures", "errored", report.Errored())
	} else {
		logger.Info("run finished", "nodes", len(report.Nodes))
	}
	return report, nil
}

// scanFrontier walks the graph in deterministic order and advances every
// node whose dependencies are satisfied: pattern nodes expand or
// consolidate, other nodes skip or join the dispatch queue. A graph mutation
// restarts the scan so newly spliced nodes are seen in the same pass.
func (e *Executor) scanFrontier(ctx context.Context, queue *[]*job) {
rescan:
	for {
		for _, n := range e.graph.NodesInOrder() {
			if !e.isActive(n.ID) || n.Status != graph.StatusPending {
				continue
			}
			if !depsSatisfied(n) {
				continue
			}
			switch {
			case n.Kind == graph.KindPattern && !n.Expanded:
				if e.expandPattern(ctx, n) {
					continue rescan
				}
			case n.Kind == graph.KindPattern:
				e.consolidatePattern(ctx, n)
			default:
				e.prepareNode(ctx, n, queue)
			}
		}
		return
	}
}

// discardQueue returns queued nodes to pending. They were marked dispatched
// when queued but never reached a worker.
func discardQueue(queue []*job) []*job {
	for _, j := range queue {
		j.node.Status = graph.StatusPending
	}
	return nil
}

func (e *Executor) isActive(id string) bool {
	return e.active == nil || e.active[id]
}

func depsSatisfied(n *graph.Node) bool {
	for _, dep := range n.Deps {
		if !dep.Status.Satisfied() {
			return false
		}
	}
	return true
}

// expandPattern materializes a pattern node's branches. Returns true when
// the graph changed; on expansion failure the pattern node is marked errored
// (its descendants stay pending) and false is returned.
func (e *Executor) expandPattern(ctx context.Context, n *graph.Node) bool {
	logger := ctxlog.FromContext(ctx)
	upstream := make(map[string]cty.Value, len(n.Task.Pattern.Over))
	for _, name := range n.Task.Pattern.Over {
		dep, ok := e.graph.Node(name)
		if !ok {
			n.Status = graph.StatusErrored
			n.Err = fmt.Errorf("pattern %q: upstream node %q missing", n.ID, name)
			return false
		}
		v, err := e.nodeValue(ctx, dep)
		if err != nil {
			n.Status = graph.StatusErrored
			n.Err = err
			return false
		}
		upstream[name] = v
	}

	branches, err := branch.Expand(ctx, e.graph, n, upstream)
	if err != nil {
		logger.Error("pattern expansion failed", "pattern", n.ID, "error", err)
		n.Status = graph.StatusErrored
		n.Err = err
		return false
	}
	ids := make([]string, len(branches))
	for i, bn := range branches {
		ids[i] = bn.ID
		if e.active != nil {
			e.active[bn.ID] = true
		}
	}
	e.branchOrder[n.ID] = ids
	return true
}

// consolidatePattern completes a pattern node with the ordered aggregate of
// its branch outputs. The aggregate is itself cached: when every branch
// output hash matches the recorded ones, the pattern node skips.
func (e *Executor) consolidatePattern(ctx context.Context, n *graph.Node) {
	logger := ctxlog.FromContext(ctx)
	ids := e.branchOrder[n.ID]
	inputHashes := make([]fingerprint.Hash, len(ids))
	for i, id := range ids {
		bn, _ := e.graph.Node(id)
		inputHashes[i] = bn.OutputHash
	}

	if !e.forced(n) {
		dec, err := e.check.Check(ctx, n.ID, aggregateHash, inputHashes)
		if err != nil {
			n.Status = graph.StatusErrored
			n.Err = err
			return
		}
		e.reasons[n.ID] = dec.Reason
		if !dec.Stale {
			n.Status = graph.StatusSkipped
			n.OutputHash = dec.Record.OutputHash
			return
		}
	} else {
		e.reasons[n.ID] = invalidate.ReasonForced
	}

	start := time.Now()
	values := make([]cty.Value, len(ids))
	for i, id := range ids {
		bn, _ := e.graph.Node(id)
		v, err := e.nodeValue(ctx, bn)
		if err != nil {
			n.Status = graph.StatusErrored
			n.Err = err
			return
		}
		values[i] = v
	}
	aggregate := cty.EmptyTupleVal
	if len(values) > 0 {
		aggregate = cty.TupleVal(values)
	}

	outputHash, err := fingerprint.Value(aggregate)
	if err != nil {
		n.Status = graph.StatusErrored
		n.Err = err
		return
	}
	enc, err := fingerprint.EncodeValue(aggregate)
	if err != nil {
		n.Status = graph.StatusErrored
		n.Err = err
		return
	}
	rec := store.Record{
		NodeID:      n.ID,
		CodeHash:    aggregateHash,
		InputHashes: inputHashes,
		OutputHash:  outputHash,
		Duration:    time.Since(start),
		Bytes:       int64(len(enc)),
		Format:      n.Task.Options.FormatOrDefault(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.Put(ctx, n.ID, aggregate, rec); err != nil {
		n.Status = graph.StatusErrored
		n.Err = err
		return
	}
	n.Status = graph.StatusCompleted
	n.OutputHash = outputHash
	n.Duration = rec.Duration
	n.Bytes = rec.Bytes
	if n.Task.Options.Retention == plan.RetainValue {
		n.SetValue(aggregate)
	}
	logger.Debug("pattern consolidated", "pattern", n.ID, "branches", len(ids))
}

// prepareNode decides skip-vs-dispatch for a static or branch node. Stale
// nodes have their arguments resolved up front so workers receive explicit
// inputs and never reach back into shared coordinator state.
func (e *Executor) prepareNode(ctx context.Context, n *graph.Node, queue *[]*job) {
	logger := ctxlog.FromContext(ctx)

	comp, err := e.plan.Registry.Lookup(n.Task.Compute)
	if err != nil {
		n.Status = graph.StatusErrored
		n.Err = err
		return
	}
	codeHash := fingerprint.Code(comp.Name, comp.Version)
	inputHashes, err := e.inputHashes(n)
	if err != nil {
		n.Status = graph.StatusErrored
		n.Err = err
		return
	}

	if !e.forced(n) {
		dec, err := e.check.Check(ctx, n.ID, codeHash, inputHashes)
		if err != nil {
			n.Status = graph.StatusErrored
			n.Err = err
			return
		}
		e.reasons[n.ID] = dec.Reason
		if !dec.Stale {
			logger.Debug("node fresh, skipping", "node", n.ID)
			n.Status = graph.StatusSkipped
			n.OutputHash = dec.Record.OutputHash
			return
		}
	} else {
		e.reasons[n.ID] = invalidate.ReasonForced
	}

	args, err := e.resolveArgs(ctx, n)
	if err != nil {
		n.Status = graph.StatusErrored
		n.Err = err
		return
	}
	n.Status = graph.StatusDispatched
	*queue = append(*queue, &job{
		node:        n,
		comp:        comp,
		args:        args,
		codeHash:    codeHash,
		inputHashes: inputHashes,
		format:      n.Task.Options.FormatOrDefault(),
	})
	logger.Debug("node queued for dispatch", "node", n.ID, "reason", e.reasons[n.ID].String())
}

func (e *Executor) forced(n *graph.Node) bool {
	if e.cfg.Force == nil {
		return false
	}
	return e.cfg.Force[n.ID] || e.cfg.Force[n.Task.Name]
}

// inputHashes returns the fingerprint of each argument binding in
// declaration order. References resolve to the upstream node's output hash;
// branch nodes substitute the hash of their drawn element for references to
// pattern inputs.
func (e *Executor) inputHashes(n *graph.Node) ([]fingerprint.Hash, error) {
	hashes := make([]fingerprint.Hash, len(n.Task.Args))
	for i, b := range n.Task.Args {
		ref, isRef := b.IsRef()
		if !isRef {
			h, err := fingerprint.Value(b.Literal())
			if err != nil {
				return nil, fmt.Errorf("hashing literal argument %d of %q: %w", i, n.ID, err)
			}
			hashes[i] = h
			continue
		}
		if elem, ok := n.Elems[ref]; ok {
			h, err := fingerprint.Value(elem)
			if err != nil {
				return nil, fmt.Errorf("hashing element argument %d of %q: %w", i, n.ID, err)
			}
			hashes[i] = h
			continue
		}
		dep, ok := n.Deps[ref]
		if !ok {
			return nil, fmt.Errorf("node %q: unresolved reference %q", n.ID, ref)
		}
		if dep.OutputHash == "" {
			return nil, fmt.Errorf("node %q: dependency %q has no output hash", n.ID, ref)
		}
		hashes[i] = dep.OutputHash
	}
	return hashes, nil
}

// resolveArgs realizes argument values for dispatch, loading skipped
// upstream values from the store on demand.
func (e *Executor) resolveArgs(ctx context.Context, n *graph.Node) ([]cty.Value, error) {
	args := make([]cty.Value, len(n.Task.Args))
	for i, b := range n.Task.Args {
		ref, isRef := b.IsRef()
		if !isRef {
			args[i] = b.Literal()
			continue
		}
		if elem, ok := n.Elems[ref]; ok {
			args[i] = elem
			continue
		}
		dep, ok := n.Deps[ref]
		if !ok {
			return nil, fmt.Errorf("node %q: unresolved reference %q", n.ID, ref)
		}
		v, err := e.nodeValue(ctx, dep)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// nodeValue returns a terminal node's realized value, reading through to the
// store when the value was dropped or the node was skipped. Retention policy
// decides whether the loaded value is cached back in memory.
func (e *Executor) nodeValue(ctx context.Context, n *graph.Node) (cty.Value, error) {
	if v, ok := n.Value(); ok {
		return v, nil
	}
	v, err := e.store.Get(ctx, n.ID)
	if err != nil {
		return cty.NilVal, fmt.Errorf("loading value of %q: %w", n.ID, err)
	}
	if n.Task.Options.Retention == plan.RetainValue {
		n.SetValue(v)
	}
	return v, nil
}

// apply folds a worker result into the graph. Marking a node completed here
// is safe only because the worker persisted its record before reporting.
func (e *Executor) apply(ctx context.Context, res *result) {
	logger := ctxlog.FromContext(ctx)
	n := res.node
	n.Duration = res.duration
	n.Warnings = res.warnings
	if res.err != nil {
		logger.Error("node failed", "node", n.ID, "error", res.err)
		n.Status = graph.StatusErrored
		n.Err = res.err
		return
	}
	n.Status = graph.StatusCompleted
	n.OutputHash = res.outputHash
	n.Bytes = res.bytes
	if n.Task.Options.Retention == plan.RetainValue {
		n.SetValue(res.value)
	} else {
		n.DropValue()
	}
	logger.Debug("node completed", "node", n.ID, "duration", res.duration)
}
