package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/fingerprint"
)

func openLocal(t *testing.T) (*Local, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func sampleRecord(id string) Record {
	return Record{
		NodeID:      id,
		CodeHash:    fingerprint.Code("fit", "1"),
		InputHashes: []fingerprint.Hash{fingerprint.Bytes([]byte("in"))},
		OutputHash:  fingerprint.Bytes([]byte("out")),
		Duration:    1500 * time.Microsecond,
		Bytes:       42,
		Warnings:    []string{"approximate"},
		Format:      "json",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestLocalPutGet(t *testing.T) {
	s, _ := openLocal(t)
	ctx := context.Background()
	value := cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.StringVal("x")})

	require.NoError(t, s.Put(ctx, "a", value, sampleRecord("a")))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, value.RawEquals(got))
}

func TestLocalGetMetadata(t *testing.T) {
	s, _ := openLocal(t)
	ctx := context.Background()
	rec := sampleRecord("a")

	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(1), rec))

	got, err := s.GetMetadata(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, rec.NodeID, got.NodeID)
	assert.Equal(t, rec.CodeHash, got.CodeHash)
	assert.Equal(t, rec.InputHashes, got.InputHashes)
	assert.Equal(t, rec.OutputHash, got.OutputHash)
	assert.Equal(t, rec.Duration, got.Duration)
	assert.Equal(t, rec.Bytes, got.Bytes)
	assert.Equal(t, rec.Warnings, got.Warnings)
	assert.Equal(t, rec.Format, got.Format)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)
}

func TestLocalNotFound(t *testing.T) {
	s, _ := openLocal(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetMetadata(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalSupersede(t *testing.T) {
	s, _ := openLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(1), sampleRecord("a")))

	rec := sampleRecord("a")
	rec.OutputHash = fingerprint.Bytes([]byte("new"))
	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(2), rec))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(2).RawEquals(got))

	meta, err := s.GetMetadata(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, rec.OutputHash, meta.OutputHash)
}

func TestLocalDelete(t *testing.T) {
	s, _ := openLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(1), sampleRecord("a")))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMetadata(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing ID is not an error.
	assert.NoError(t, s.Delete(ctx, "ghost"))
}

func TestLocalList(t *testing.T) {
	s, _ := openLocal(t)
	ctx := context.Background()

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.Put(ctx, "b", cty.NumberIntVal(1), sampleRecord("b")))
	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(2), sampleRecord("a")))

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestLocalInvalidate(t *testing.T) {
	s, _ := openLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(1), sampleRecord("a")))
	require.NoError(t, s.Invalidate(ctx, "a"))

	marked, err := s.IsInvalidated(ctx, "a")
	require.NoError(t, err)
	assert.True(t, marked)

	// The stored value survives the mark.
	_, err = s.Get(ctx, "a")
	assert.NoError(t, err)

	// A successful Put clears the mark.
	require.NoError(t, s.Put(ctx, "a", cty.NumberIntVal(2), sampleRecord("a")))
	marked, err = s.IsInvalidated(ctx, "a")
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestLocalReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "a", cty.StringVal("persisted"), sampleRecord("a")))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, cty.StringVal("persisted").RawEquals(got))
	_, err = s2.GetMetadata(ctx, "a")
	assert.NoError(t, err)
}

func TestLocalPutLeavesNoTempFiles(t *testing.T) {
	s, dir := openLocal(t)
	require.NoError(t, s.Put(context.Background(), "a", cty.NumberIntVal(1), sampleRecord("a")))

	entries, err := os.ReadDir(filepath.Join(dir, "objects"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.json", entries[0].Name())
}
