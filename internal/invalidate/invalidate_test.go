package invalidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/fingerprint"
	"github.com/vk/weftgo/internal/store"
)

func seed(t *testing.T, s store.Store, id string, code fingerprint.Hash, inputs []fingerprint.Hash) store.Record {
	t.Helper()
	rec := store.Record{
		NodeID:      id,
		CodeHash:    code,
		InputHashes: inputs,
		OutputHash:  fingerprint.Bytes([]byte(id + "-out")),
		Format:      "json",
	}
	require.NoError(t, s.Put(context.Background(), id, cty.NumberIntVal(1), rec))
	return rec
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	code := fingerprint.Code("fit", "1")
	inputs := []fingerprint.Hash{fingerprint.Bytes([]byte("x"))}

	t.Run("missing record is stale", func(t *testing.T) {
		c := New(store.NewMemory())
		dec, err := c.Check(ctx, "a", code, inputs)
		require.NoError(t, err)
		assert.True(t, dec.Stale)
		assert.Equal(t, ReasonMissingRecord, dec.Reason)
	})

	t.Run("matching record is fresh", func(t *testing.T) {
		s := store.NewMemory()
		rec := seed(t, s, "a", code, inputs)

		dec, err := New(s).Check(ctx, "a", code, inputs)
		require.NoError(t, err)
		assert.False(t, dec.Stale)
		assert.Equal(t, ReasonFresh, dec.Reason)
		assert.Equal(t, rec.OutputHash, dec.Record.OutputHash)
	})

	t.Run("code change is stale", func(t *testing.T) {
		s := store.NewMemory()
		seed(t, s, "a", code, inputs)

		dec, err := New(s).Check(ctx, "a", fingerprint.Code("fit", "2"), inputs)
		require.NoError(t, err)
		assert.True(t, dec.Stale)
		assert.Equal(t, ReasonCodeChanged, dec.Reason)
	})

	t.Run("input change is stale", func(t *testing.T) {
		s := store.NewMemory()
		seed(t, s, "a", code, inputs)

		changed := []fingerprint.Hash{fingerprint.Bytes([]byte("y"))}
		dec, err := New(s).Check(ctx, "a", code, changed)
		require.NoError(t, err)
		assert.True(t, dec.Stale)
		assert.Equal(t, ReasonInputsChanged, dec.Reason)
	})

	t.Run("input count change is stale", func(t *testing.T) {
		s := store.NewMemory()
		seed(t, s, "a", code, inputs)

		dec, err := New(s).Check(ctx, "a", code, nil)
		require.NoError(t, err)
		assert.True(t, dec.Stale)
		assert.Equal(t, ReasonInputsChanged, dec.Reason)
	})

	t.Run("force mark overrides a matching record", func(t *testing.T) {
		s := store.NewMemory()
		seed(t, s, "a", code, inputs)
		require.NoError(t, s.Invalidate(ctx, "a"))

		dec, err := New(s).Check(ctx, "a", code, inputs)
		require.NoError(t, err)
		assert.True(t, dec.Stale)
		assert.Equal(t, ReasonForced, dec.Reason)
	})

	t.Run("record of a failed attempt never satisfies", func(t *testing.T) {
		s := store.NewMemory()
		rec := store.Record{NodeID: "a", CodeHash: code, InputHashes: inputs, ErrorText: "boom"}
		require.NoError(t, s.Put(ctx, "a", cty.NilVal, rec))

		dec, err := New(s).Check(ctx, "a", code, inputs)
		require.NoError(t, err)
		assert.True(t, dec.Stale)
	})
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "fresh", ReasonFresh.String())
	assert.Equal(t, "no record", ReasonMissingRecord.String())
	assert.Equal(t, "code changed", ReasonCodeChanged.String())
	assert.Equal(t, "inputs changed", ReasonInputsChanged.String())
	assert.Equal(t, "forced", ReasonForced.String())
}
