package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(1), sampleRecord("a")))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(1).RawEquals(got))

	rec, err := s.GetMetadata(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.NodeID)

	_, err = s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMetadata(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteAndList(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "b", cty.NumberIntVal(1), sampleRecord("b")))
	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(2), sampleRecord("a")))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestMemoryInvalidate(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(1), sampleRecord("a")))
	require.NoError(t, s.Invalidate(ctx, "a"))

	marked, err := s.IsInvalidated(ctx, "a")
	require.NoError(t, err)
	assert.True(t, marked)

	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(2), sampleRecord("a")))
	marked, err = s.IsInvalidated(ctx, "a")
	require.NoError(t, err)
	assert.False(t, marked, "a successful put must clear the force-stale mark")
}
