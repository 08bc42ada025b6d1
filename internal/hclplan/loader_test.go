package hclplan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/plan"
)

func testRegistry(t *testing.T, names ...string) *plan.Registry {
	t.Helper()
	reg := plan.NewRegistry()
	for _, name := range names {
		reg.MustRegister(&plan.Computation{
			Name:    name,
			Version: "1",
			Fn: func(ctx context.Context, args []cty.Value) (cty.Value, error) {
				return cty.NilVal, nil
			},
		})
	}
	return reg
}

func writePipeline(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("full pipeline", func(t *testing.T) {
		path := writePipeline(t, `
init {
  threads = 4
}

target "raw" {
  fn   = "ingest"
  args = ["data.csv"]
}

target "models" {
  fn        = "fit"
  args      = [raw, 0.5]
  retention = "drop"
  format    = "qs"

  pattern {
    mode = "map"
    over = [raw]
  }
}
`)
		p, err := Load(ctx, path, testRegistry(t, "ingest", "fit"))
		require.NoError(t, err)
		require.Len(t, p.Tasks, 2)

		raw, ok := p.Task("raw")
		require.True(t, ok)
		assert.Equal(t, "ingest", raw.Compute)
		require.Len(t, raw.Args, 1)
		_, isRef := raw.Args[0].IsRef()
		assert.False(t, isRef)
		assert.Equal(t, cty.StringVal("data.csv"), raw.Args[0].Literal())

		models, ok := p.Task("models")
		require.True(t, ok)
		require.Len(t, models.Args, 2)
		ref, isRef := models.Args[0].IsRef()
		assert.True(t, isRef)
		assert.Equal(t, "raw", ref)
		_, isRef = models.Args[1].IsRef()
		assert.False(t, isRef)

		assert.Equal(t, plan.DropAfterStore, models.Options.Retention)
		assert.Equal(t, "qs", models.Options.Format)
		require.NotNil(t, models.Pattern)
		assert.Equal(t, plan.PatternMap, models.Pattern.Mode)
		assert.Equal(t, []string{"raw"}, models.Pattern.Over)

		assert.Equal(t, cty.NumberIntVal(4), p.Init["threads"])
	})

	t.Run("cross pattern", func(t *testing.T) {
		path := writePipeline(t, `
target "a" {
  fn   = "ingest"
  args = [[1, 2]]
}

target "b" {
  fn   = "ingest"
  args = [[3]]
}

target "grid" {
  fn = "fit"
  pattern {
    mode = "cross"
    over = [a, b]
  }
}
`)
		p, err := Load(ctx, path, testRegistry(t, "ingest", "fit"))
		require.NoError(t, err)

		grid, _ := p.Task("grid")
		require.NotNil(t, grid.Pattern)
		assert.Equal(t, plan.PatternCross, grid.Pattern.Mode)
		assert.Equal(t, []string{"a", "b"}, grid.Pattern.Over)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(ctx, filepath.Join(t.TempDir(), "dne.hcl"), testRegistry(t))
		assert.Error(t, err)
	})

	t.Run("syntax errors are reported", func(t *testing.T) {
		path := writePipeline(t, `target "a" { fn = `)
		_, err := Load(ctx, path, testRegistry(t, "ingest"))
		assert.ErrorContains(t, err, "parsing")
	})

	t.Run("bad retention", func(t *testing.T) {
		path := writePipeline(t, `
target "a" {
  fn        = "ingest"
  retention = "forever"
}
`)
		_, err := Load(ctx, path, testRegistry(t, "ingest"))
		assert.ErrorContains(t, err, "retention")
	})

	t.Run("bad pattern mode", func(t *testing.T) {
		path := writePipeline(t, `
target "a" {
  fn = "ingest"
}

target "p" {
  fn = "fit"
  pattern {
    mode = "zipzip"
    over = [a]
  }
}
`)
		_, err := Load(ctx, path, testRegistry(t, "ingest", "fit"))
		assert.ErrorContains(t, err, "pattern mode")
	})

	t.Run("composite argument expressions are rejected", func(t *testing.T) {
		path := writePipeline(t, `
target "a" {
  fn = "ingest"
}

target "b" {
  fn   = "fit"
  args = [a.field]
}
`)
		_, err := Load(ctx, path, testRegistry(t, "ingest", "fit"))
		assert.ErrorContains(t, err, "constant or a bare target reference")
	})

	t.Run("references to undeclared targets fail validation", func(t *testing.T) {
		path := writePipeline(t, `
target "b" {
  fn   = "fit"
  args = [ghost]
}
`)
		_, err := Load(ctx, path, testRegistry(t, "fit"))
		assert.ErrorContains(t, err, "undeclared task")
	})

	t.Run("non-constant init attributes are rejected", func(t *testing.T) {
		path := writePipeline(t, `
init {
  base = something.else
}

target "a" {
  fn = "ingest"
}
`)
		_, err := Load(ctx, path, testRegistry(t, "ingest"))
		assert.ErrorContains(t, err, "constant")
	})
}
