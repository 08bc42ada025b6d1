// Package hclplan loads declarative pipeline files into plan definitions.
// The engine core never parses files; this front-end translates HCL target
// blocks into plan.Tasks, discovering dependencies from bare identifier
// references inside argument expressions.
package hclplan

import "github.com/hashicorp/hcl/v2"

// fileSchema is the top-level shape of a pipeline file.
type fileSchema struct {
	Init    *initSchema     `hcl:"init,block"`
	Targets []*targetSchema `hcl:"target,block"`
}

// initSchema carries the worker initialization context as free-form
// constant attributes.
type initSchema struct {
	Body hcl.Body `hcl:",remain"`
}

// targetSchema is one target block. Arguments stay as an expression until
// translation so references can be separated from literals.
type targetSchema struct {
	Name      string         `hcl:"name,label"`
	Fn        string         `hcl:"fn"`
	Args      hcl.Expression `hcl:"args,optional"`
	Format    string         `hcl:"format,optional"`
	Retention string         `hcl:"retention,optional"`
	Pattern   *patternSchema `hcl:"pattern,block"`
}

// patternSchema declares runtime fan-out.
type patternSchema struct {
	Mode string         `hcl:"mode"`
	Over hcl.Expression `hcl:"over"`
}
