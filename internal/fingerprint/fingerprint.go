// Package fingerprint produces the content hashes the engine uses for cache
// identity: hashes of computation code, of argument values, and combinations
// of both. All hashing goes through a canonical cty JSON encoding so that a
// value fingerprints identically regardless of how it was produced.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Hash is a lowercase hex-encoded sha256 digest.
type Hash string

// String returns the hex form of the hash.
func (h Hash) String() string { return string(h) }

// Short returns the first 8 hex characters, used in derived node identifiers.
func (h Hash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// Bytes hashes a raw byte slice.
func Bytes(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// Value hashes a cty value via its canonical JSON encoding. The encoding
// includes the value's type, so cty.NumberIntVal(1) and cty.StringVal("1")
// hash differently.
func Value(v cty.Value) (Hash, error) {
	enc, err := EncodeValue(v)
	if err != nil {
		return "", err
	}
	return Bytes(enc), nil
}

// Code hashes a computation identity. Registered compute functions carry a
// name and a version string; bumping the version is how plan authors signal
// that the function body changed.
func Code(name, version string) Hash {
	return Bytes([]byte(name + "@" + version))
}

// Combine folds several hashes into one, order-sensitive.
func Combine(hashes ...Hash) Hash {
	h := sha256.New()
	for _, in := range hashes {
		h.Write([]byte(in))
		h.Write([]byte{0})
	}
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// EncodeValue serializes a cty value together with its type so the exact
// value can be reconstructed by DecodeValue. Object attributes encode in
// sorted order, which keeps the byte stream deterministic.
func EncodeValue(v cty.Value) ([]byte, error) {
	typeJSON, err := ctyjson.MarshalType(v.Type())
	if err != nil {
		return nil, fmt.Errorf("encoding value type: %w", err)
	}
	valJSON, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return []byte(fmt.Sprintf(`{"type":%s,"value":%s}`, typeJSON, valJSON)), nil
}

// DecodeValue reverses EncodeValue.
func DecodeValue(data []byte) (cty.Value, error) {
	var envelope struct {
		Type  json.RawMessage `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return cty.NilVal, fmt.Errorf("decoding value envelope: %w", err)
	}
	ty, err := ctyjson.UnmarshalType(envelope.Type)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decoding value type: %w", err)
	}
	v, err := ctyjson.Unmarshal(envelope.Value, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}
