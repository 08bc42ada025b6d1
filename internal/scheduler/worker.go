package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/vk/weftgo/internal/ctxlog"
	"github.com/vk/weftgo/internal/fingerprint"
	"github.com/vk/weftgo/internal/plan"
	"github.com/vk/weftgo/internal/store"
)

// worker is the processing loop for one pool member. Before its first node
// it replicates the plan's initialization context into its own context; user
// code must read initialization state from there, never from ambient
// process-global state, so behavior stays identical when execution moves off
// the coordinator process.
func (e *Executor) worker(ctx context.Context, workerID int, jobs <-chan *job, results chan<- *result) {
	logger := ctxlog.FromContext(ctx).With("worker", workerID)
	wctx := plan.WithInit(ctx, e.plan.Init.Clone())
	for j := range jobs {
		if ctx.Err() != nil {
			results <- &result{node: j.node, err: ctx.Err()}
			continue
		}
		logger.Debug("worker picked up node", "node", j.node.ID)
		results <- e.runJob(wctx, logger, j)
	}
}

// runJob executes one computation and persists its value and record. The
// result is sent only after the durable write, so a crash between
// computation and persistence can never leave a dependent scheduled against
// a missing value.
func (e *Executor) runJob(ctx context.Context, logger *slog.Logger, j *job) *result {
	warnings := &plan.Warnings{}
	jctx := plan.WithWarnings(ctx, warnings)

	start := time.Now()
	out, err := j.comp.Fn(jctx, j.args)
	elapsed := time.Since(start)

	res := &result{node: j.node, duration: elapsed}
	if err != nil {
		res.warnings = warnings.Messages()
		res.err = &ComputeError{NodeID: j.node.ID, Err: err}
		return res
	}

	enc, err := fingerprint.EncodeValue(out)
	if err != nil {
		res.warnings = warnings.Messages()
		res.err = &store.WriteError{NodeID: j.node.ID, Err: err}
		return res
	}
	outputHash := fingerprint.Bytes(enc)

	rec := store.Record{
		NodeID:      j.node.ID,
		CodeHash:    j.codeHash,
		InputHashes: j.inputHashes,
		OutputHash:  outputHash,
		Duration:    elapsed,
		Bytes:       int64(len(enc)),
		Warnings:    warnings.Messages(),
		Format:      j.format,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.Put(ctx, j.node.ID, out, rec); err != nil {
		logger.Error("durable write failed", "node", j.node.ID, "error", err)
		res.warnings = warnings.Messages()
		res.err = err
		return res
	}

	res.value = out
	res.outputHash = outputHash
	res.bytes = rec.Bytes
	res.warnings = rec.Warnings
	return res
}
