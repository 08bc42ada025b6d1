package plan

import (
	"context"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// InitContext is the explicit, serializable initialization state replicated
// to every worker before it executes its first node. Compute functions read
// it via InitValue; they must never rely on ambient process-global state,
// which is not replicated when execution moves off the coordinator process.
type InitContext map[string]cty.Value

// Clone returns an independent copy. cty values are immutable, so a shallow
// map copy suffices.
func (ic InitContext) Clone() InitContext {
	if ic == nil {
		return nil
	}
	out := make(InitContext, len(ic))
	for k, v := range ic {
		out[k] = v
	}
	return out
}

type initKey struct{}

// WithInit embeds a worker's initialization context.
func WithInit(ctx context.Context, ic InitContext) context.Context {
	return context.WithValue(ctx, initKey{}, ic)
}

// InitValue looks up a key in the worker's initialization context.
func InitValue(ctx context.Context, key string) (cty.Value, bool) {
	ic, ok := ctx.Value(initKey{}).(InitContext)
	if !ok {
		return cty.NilVal, false
	}
	v, ok := ic[key]
	return v, ok
}

// Warnings collects non-fatal messages emitted by a compute function. They
// are attached to the node's metadata without affecting its status.
type Warnings struct {
	mu   sync.Mutex
	msgs []string
}

// Messages returns the collected warnings in emission order.
func (w *Warnings) Messages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.msgs))
	copy(out, w.msgs)
	return out
}

type warnKey struct{}

// WithWarnings embeds a warning collector for one node execution.
func WithWarnings(ctx context.Context, w *Warnings) context.Context {
	return context.WithValue(ctx, warnKey{}, w)
}

// Warn records a warning against the executing node. It is a no-op outside a
// node execution.
func Warn(ctx context.Context, msg string) {
	w, ok := ctx.Value(warnKey{}).(*Warnings)
	if !ok {
		return
	}
	w.mu.Lock()
	w.msgs = append(w.msgs, msg)
	w.mu.Unlock()
}
