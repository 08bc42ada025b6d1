package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func testRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, name := range names {
		require.NoError(t, reg.Register(&Computation{
			Name:    name,
			Version: "1",
			Fn: func(ctx context.Context, args []cty.Value) (cty.Value, error) {
				return cty.NilVal, nil
			},
		}))
	}
	return reg
}

func TestNew(t *testing.T) {
	t.Run("accepts a valid plan", func(t *testing.T) {
		reg := testRegistry(t, "make", "use")
		p, err := New(reg,
			&Task{Name: "a", Compute: "make"},
			&Task{Name: "b", Compute: "use", Args: []Binding{Ref("a"), Lit(cty.NumberIntVal(2))}},
		)
		require.NoError(t, err)

		got, ok := p.Task("b")
		require.True(t, ok)
		assert.Equal(t, "use", got.Compute)
		_, ok = p.Task("missing")
		assert.False(t, ok)
	})

	t.Run("rejects nil registry", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorContains(t, err, "nil registry")
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		reg := testRegistry(t, "make")
		for _, name := range []string{"", "1abc", "has space", "_underscore"} {
			_, err := New(reg, &Task{Name: name, Compute: "make"})
			assert.ErrorContains(t, err, "invalid task name", "name %q", name)
		}
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		reg := testRegistry(t, "make")
		_, err := New(reg,
			&Task{Name: "a", Compute: "make"},
			&Task{Name: "a", Compute: "make"},
		)
		assert.ErrorContains(t, err, "duplicate task name")
	})

	t.Run("rejects unregistered computations", func(t *testing.T) {
		reg := testRegistry(t, "make")
		_, err := New(reg, &Task{Name: "a", Compute: "mystery"})
		assert.ErrorContains(t, err, "unknown computation")
	})

	t.Run("rejects references to undeclared tasks", func(t *testing.T) {
		reg := testRegistry(t, "use")
		_, err := New(reg, &Task{Name: "b", Compute: "use", Args: []Binding{Ref("ghost")}})
		assert.ErrorContains(t, err, "undeclared task")
	})

	t.Run("rejects self references", func(t *testing.T) {
		reg := testRegistry(t, "use")
		_, err := New(reg, &Task{Name: "b", Compute: "use", Args: []Binding{Ref("b")}})
		assert.ErrorContains(t, err, "references itself")
	})

	t.Run("rejects malformed patterns", func(t *testing.T) {
		reg := testRegistry(t, "make", "use")
		base := &Task{Name: "a", Compute: "make"}

		_, err := New(reg, base, &Task{Name: "p", Compute: "use",
			Pattern: &Pattern{Mode: PatternMap}})
		assert.ErrorContains(t, err, "over no inputs")

		_, err = New(reg, base, &Task{Name: "p", Compute: "use",
			Pattern: &Pattern{Mode: PatternMode(99), Over: []string{"a"}}})
		assert.ErrorContains(t, err, "unknown pattern mode")

		_, err = New(reg, base, &Task{Name: "p", Compute: "use",
			Pattern: &Pattern{Mode: PatternMap, Over: []string{"p"}}})
		assert.ErrorContains(t, err, "pattern over itself")

		_, err = New(reg, base, &Task{Name: "p", Compute: "use",
			Pattern: &Pattern{Mode: PatternMap, Over: []string{"ghost"}}})
		assert.ErrorContains(t, err, "undeclared task")

		_, err = New(reg, base, &Task{Name: "p", Compute: "use",
			Pattern: &Pattern{Mode: PatternMap, Over: []string{"a", "a"}}})
		assert.ErrorContains(t, err, "twice")
	})
}

func TestBinding(t *testing.T) {
	lit := Lit(cty.StringVal("x"))
	ref, isRef := lit.IsRef()
	assert.False(t, isRef)
	assert.Empty(t, ref)
	assert.Equal(t, cty.StringVal("x"), lit.Literal())

	r := Ref("other")
	ref, isRef = r.IsRef()
	assert.True(t, isRef)
	assert.Equal(t, "other", ref)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	fn := func(ctx context.Context, args []cty.Value) (cty.Value, error) {
		return cty.NilVal, nil
	}

	require.NoError(t, reg.Register(&Computation{Name: "fit", Version: "1", Fn: fn}))

	t.Run("lookup finds registered computations", func(t *testing.T) {
		c, err := reg.Lookup("fit")
		require.NoError(t, err)
		assert.Equal(t, "fit", c.Name)

		_, err = reg.Lookup("ghost")
		assert.ErrorContains(t, err, "unknown computation")
	})

	t.Run("re-registration is an error", func(t *testing.T) {
		err := reg.Register(&Computation{Name: "fit", Version: "2", Fn: fn})
		assert.ErrorContains(t, err, "already registered")
	})

	t.Run("incomplete computations are rejected", func(t *testing.T) {
		assert.Error(t, reg.Register(nil))
		assert.Error(t, reg.Register(&Computation{Name: "noFn"}))
		assert.Error(t, reg.Register(&Computation{Fn: fn}))
	})
}

func TestOptionsFormatOrDefault(t *testing.T) {
	assert.Equal(t, "json", Options{}.FormatOrDefault())
	assert.Equal(t, "qs", Options{Format: "qs"}.FormatOrDefault())
}
