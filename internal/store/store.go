// Package store is the fingerprint store: content-addressed persistence of
// computed values and their provenance metadata. Values live as one blob per
// node ID; metadata lives as one record per node ID. Writes are keyed
// per-node and never conflict across nodes, so only single-key atomicity
// matters.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/fingerprint"
)

// ErrNotFound is returned (never thrown as a failure) when an ID has no
// stored value or metadata.
var ErrNotFound = errors.New("store: not found")

// Record is the provenance metadata persisted for a completed node. Records
// are written atomically after completion and only ever superseded, never
// mutated in place.
type Record struct {
	NodeID      string
	CodeHash    fingerprint.Hash
	InputHashes []fingerprint.Hash
	OutputHash  fingerprint.Hash
	Duration    time.Duration
	Bytes       int64
	Warnings    []string
	ErrorText   string
	Format      string
	CreatedAt   time.Time
}

// WriteError wraps a failed durable write. Fatal to the owning node's build,
// not to sibling nodes.
type WriteError struct {
	NodeID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store: writing %q: %v", e.NodeID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError wraps a failed read of a value that should exist.
type ReadError struct {
	NodeID string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("store: reading %q: %v", e.NodeID, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Store is the pluggable persistence backend. The local filesystem+SQLite
// implementation is the default; implementations must guarantee that a
// partially written value is never visible to Get.
type Store interface {
	// Put durably persists a node's value and its record. The record must
	// not become visible before the value blob is complete.
	Put(ctx context.Context, id string, value cty.Value, rec Record) error
	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, id string) (cty.Value, error)
	// GetMetadata returns the stored record, or ErrNotFound.
	GetMetadata(ctx context.Context, id string) (Record, error)
	// Delete purges the value and record for an ID. Missing IDs are not an
	// error.
	Delete(ctx context.Context, id string) error
	// List returns every ID with a stored record.
	List(ctx context.Context) ([]string, error)
	// Invalidate force-marks an ID stale without deleting its data. The mark
	// clears on the next successful Put.
	Invalidate(ctx context.Context, id string) error
	// IsInvalidated reports whether an ID carries a force-stale mark.
	IsInvalidated(ctx context.Context, id string) (bool, error)
	Close() error
}
