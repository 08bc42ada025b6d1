// Package invalidate decides whether a node must rebuild. Staleness is
// value-based: a node is compared against the exact code and input hashes
// recorded at its last successful build, never against a propagated dirty
// bit. A node whose direct inputs are byte-identical to last run is fresh
// even if a distant ancestor changed but produced the same values.
package invalidate

import (
	"context"
	"errors"

	"github.com/vk/weftgo/internal/fingerprint"
	"github.com/vk/weftgo/internal/store"
)

// Reason explains a staleness decision.
type Reason int

const (
	ReasonFresh Reason = iota
	ReasonMissingRecord
	ReasonCodeChanged
	ReasonInputsChanged
	ReasonForced
)

// String returns the report spelling of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonFresh:
		return "fresh"
	case ReasonMissingRecord:
		return "no record"
	case ReasonCodeChanged:
		return "code changed"
	case ReasonInputsChanged:
		return "inputs changed"
	case ReasonForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a staleness check.
type Decision struct {
	Stale  bool
	Reason Reason
	// Record is the existing record when one was found, whether or not the
	// node is stale. Fresh nodes reuse its output hash without recomputing.
	Record store.Record
}

// Checker evaluates staleness against a fingerprint store.
type Checker struct {
	store store.Store
}

// New returns a checker backed by the given store.
func New(s store.Store) *Checker {
	return &Checker{store: s}
}

// Check reports whether the node identified by id must rebuild, given the
// current code hash and the current input value hashes in argument order.
func (c *Checker) Check(ctx context.Context, id string, codeHash fingerprint.Hash, inputHashes []fingerprint.Hash) (Decision, error) {
	forced, err := c.store.IsInvalidated(ctx, id)
	if err != nil {
		return Decision{}, err
	}

	rec, err := c.store.GetMetadata(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Stale: true, Reason: ReasonMissingRecord}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if forced {
		return Decision{Stale: true, Reason: ReasonForced, Record: rec}, nil
	}
	if rec.ErrorText != "" {
		// A record of a failed attempt never satisfies freshness.
		return Decision{Stale: true, Reason: ReasonMissingRecord, Record: rec}, nil
	}
	if rec.CodeHash != codeHash {
		return Decision{Stale: true, Reason: ReasonCodeChanged, Record: rec}, nil
	}
	if len(rec.InputHashes) != len(inputHashes) {
		return Decision{Stale: true, Reason: ReasonInputsChanged, Record: rec}, nil
	}
	for i, h := range inputHashes {
		if rec.InputHashes[i] != h {
			return Decision{Stale: true, Reason: ReasonInputsChanged, Record: rec}, nil
		}
	}
	return Decision{Stale: false, Reason: ReasonFresh, Record: rec}, nil
}
