// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventchain implements the broker's L5 tamper-evident event
// log. Each relationship owns one chain: an
// append-only sequence of events linked by keyed hashes, so that any
// insertion, deletion, or reordering is detectable by replay.
//
// The hashing scheme is grounded on
// bureau-foundation-bureau/lib/artifact's keyed-BLAKE3,
// domain-separated hash construction, adapted from content-addressed
// artifact hashing to continuity-chain hashing: instead of hashing
// chunk bytes, each link hashes the previous link's hash together
// with the canonical encoding of the new event.
package eventchain

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/intentbroker/lib/codec"
)

// Hash is a 32-byte BLAKE3 keyed digest, the continuity hash of one
// event in a chain.
type Hash [32]byte

// Genesis is the fixed previous-hash value of a chain's first event.
// It is the all-zero hash, distinguishable from any real hash only by
// chain position — sequence 0 is the only event permitted to carry it.
var Genesis Hash

// Key is the process-wide BLAKE3 key material used to hash
// every event chain. Unlike bureau-foundation-bureau/lib/artifact,
// which uses a small set of fixed public domain-separation constants,
// this package's key is a secret loaded once at startup and held
// read-only thereafter — the continuity hash is not just a content
// fingerprint, it is a MAC that only the broker process (holding the
// key) can produce or verify.
type Key struct {
	material [32]byte
}

// NewKey wraps 32 bytes of secret key material for chain hashing.
// Callers load the material from lib/secret-protected storage at
// startup.
func NewKey(material [32]byte) Key {
	return Key{material: material}
}

// Link computes the continuity hash of one event: a keyed hash of
// previousHash concatenated with the canonical encoding of
// (sequence, eventType, payload).
//
// payload must already be canonically encoded (lib/codec.Marshal
// output) — Link does not re-encode it, so callers that mutate a
// payload after hashing will silently desynchronize the chain.
func (k Key) Link(previousHash Hash, sequence uint64, eventType string, payload codec.RawMessage) (Hash, error) {
	encoded, err := codec.Marshal(linkBody{Sequence: sequence, Type: eventType, Payload: payload})
	if err != nil {
		return Hash{}, fmt.Errorf("eventchain: encoding link body: %w", err)
	}

	hasher, err := blake3.NewKeyed(k.material[:])
	if err != nil {
		return Hash{}, fmt.Errorf("eventchain: initializing keyed hash: %w", err)
	}
	hasher.Write(previousHash[:])
	hasher.Write(encoded)

	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

// linkBody is the struct hashed for each link. Field order and names
// are part of the wire contract: changing them changes every hash in
// every existing chain.
type linkBody struct {
	Sequence uint64           `cbor:"sequence"`
	Type     string           `cbor:"type"`
	Payload  codec.RawMessage `cbor:"payload"`
}

// String returns the hex encoding of a hash, the format used in logs
// and operator CLI output.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the genesis hash.
func (h Hash) IsZero() bool {
	return h == Genesis
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("eventchain: parsing hash: %w", err)
	}
	if len(decoded) != len(h) {
		return h, fmt.Errorf("eventchain: hash is %d bytes, want %d", len(decoded), len(h))
	}
	copy(h[:], decoded)
	return h, nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(data []byte) error {
	parsed, err := ParseHash(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
