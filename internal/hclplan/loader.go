package hclplan

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/weftgo/internal/ctxlog"
	"github.com/vk/weftgo/internal/plan"
)

// Load parses a pipeline file and translates it into a validated plan bound
// to the given computation registry.
func Load(ctx context.Context, path string, reg *plan.Registry) (*plan.Plan, error) {
	logger := ctxlog.FromContext(ctx)
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("hclplan: parsing %s: %w", path, diags)
	}

	var root fileSchema
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("hclplan: decoding %s: %w", path, diags)
	}
	logger.Debug("pipeline file decoded", "path", path, "targets", len(root.Targets))

	tasks := make([]*plan.Task, 0, len(root.Targets))
	for _, t := range root.Targets {
		task, err := translateTarget(t)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	p, err := plan.New(reg, tasks...)
	if err != nil {
		return nil, err
	}
	if root.Init != nil {
		ic, err := translateInit(root.Init)
		if err != nil {
			return nil, err
		}
		p.Init = ic
	}
	return p, nil
}

func translateInit(init *initSchema) (plan.InitContext, error) {
	attrs, diags := init.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("hclplan: init block: %w", diags)
	}
	ic := make(plan.InitContext, len(attrs))
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("hclplan: init attribute %q must be a constant: %w", name, diags)
		}
		ic[name] = v
	}
	return ic, nil
}

func translateTarget(t *targetSchema) (*plan.Task, error) {
	task := &plan.Task{
		Name:    t.Name,
		Compute: t.Fn,
		Options: plan.Options{Format: t.Format},
	}
	switch t.Retention {
	case "", "retain":
		task.Options.Retention = plan.RetainValue
	case "drop":
		task.Options.Retention = plan.DropAfterStore
	default:
		return nil, fmt.Errorf("hclplan: target %q: retention must be \"retain\" or \"drop\", got %q", t.Name, t.Retention)
	}

	if t.Args != nil {
		items, diags := hcl.ExprList(t.Args)
		if diags.HasErrors() {
			return nil, fmt.Errorf("hclplan: target %q: args must be a list: %w", t.Name, diags)
		}
		for i, item := range items {
			b, err := translateBinding(t.Name, i, item)
			if err != nil {
				return nil, err
			}
			task.Args = append(task.Args, b)
		}
	}

	if t.Pattern != nil {
		pat := &plan.Pattern{}
		switch t.Pattern.Mode {
		case "map":
			pat.Mode = plan.PatternMap
		case "cross":
			pat.Mode = plan.PatternCross
		default:
			return nil, fmt.Errorf("hclplan: target %q: pattern mode must be \"map\" or \"cross\", got %q", t.Name, t.Pattern.Mode)
		}
		items, diags := hcl.ExprList(t.Pattern.Over)
		if diags.HasErrors() {
			return nil, fmt.Errorf("hclplan: target %q: pattern over must be a list: %w", t.Name, diags)
		}
		for _, item := range items {
			ref, ok := bareReference(item)
			if !ok {
				return nil, fmt.Errorf("hclplan: target %q: pattern over entries must be bare target names", t.Name)
			}
			pat.Over = append(pat.Over, ref)
		}
		task.Pattern = pat
	}
	return task, nil
}

// translateBinding classifies one argument expression: a bare identifier is
// a reference to another target's output, anything without variables is a
// constant literal.
func translateBinding(target string, index int, expr hcl.Expression) (plan.Binding, error) {
	if ref, ok := bareReference(expr); ok {
		return plan.Ref(ref), nil
	}
	if len(expr.Variables()) > 0 {
		return plan.Binding{}, fmt.Errorf(
			"hclplan: target %q argument %d: must be a constant or a bare target reference", target, index)
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return plan.Binding{}, fmt.Errorf("hclplan: target %q argument %d: %w", target, index, diags)
	}
	return plan.Lit(v), nil
}

// bareReference extracts the root name of a plain variable expression such
// as `a`. Composite expressions like `a.field` or `f(a)` do not qualify.
func bareReference(expr hcl.Expression) (string, bool) {
	tr, diags := hcl.AbsTraversalForExpr(expr)
	if diags.HasErrors() || len(tr) != 1 {
		return "", false
	}
	root, ok := tr[0].(hcl.TraverseRoot)
	if !ok {
		return "", false
	}
	return root.Name, true
}
