// Package app wires a validated config into a runnable engine: logger,
// computation registry, plan loading, and fingerprint store lifetime.
package app

import (
	"context"
	"io"

	"github.com/vk/weftgo/internal/ctxlog"
	"github.com/vk/weftgo/internal/engine"
	"github.com/vk/weftgo/internal/hclplan"
	"github.com/vk/weftgo/internal/plan"
	"github.com/vk/weftgo/internal/store"
)

// App is one configured CLI invocation.
type App struct {
	cfg *Config
	reg *plan.Registry
}

// New builds an app around a validated config. A nil registry falls back to
// the builtin computations.
func New(cfg *Config, reg *plan.Registry) *App {
	if reg == nil {
		reg = Builtins()
	}
	return &App{cfg: cfg, reg: reg}
}

// Context returns ctx with the app's logger embedded.
func (a *App) Context(ctx context.Context, logW io.Writer) context.Context {
	return ctxlog.WithLogger(ctx, newLogger(a.cfg.LogLevel, a.cfg.LogFormat, logW))
}

// OpenEngine loads the plan, opens the store, and returns the bound engine.
// The returned closer releases the store.
func (a *App) OpenEngine(ctx context.Context) (*engine.Engine, func() error, error) {
	p, err := hclplan.Load(ctx, a.cfg.PlanPath, a.reg)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(a.cfg.StoreDir)
	if err != nil {
		return nil, nil, err
	}
	return engine.New(p, st), st.Close, nil
}

// Workers returns the configured worker count.
func (a *App) Workers() int { return a.cfg.Workers }
