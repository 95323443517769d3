// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the broker's standard CBOR encoding
// configuration.
//
// The broker uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the operator CLI's --json output
//     and any HTTP-fronted transport a deployment chooses to add.
//   - CBOR for internal protocols: the Unix-socket request/reply and
//     subscription wire format, the event log's payload column, and
//     signed messages (intents, responses).
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — this is what makes the canonical payloads that intents and
// responses are signed over and the continuity hash in lib/eventchain
// reproducible.
//
// For buffer-oriented operations (signing, hashing, sqlite blobs):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the Unix-socket transport):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR — wire
//     messages, event payloads, signed envelopes.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor` tags
//     are absent, so a single `json` tag controls field naming and
//     omitempty for both formats. Used for types that also appear in
//     CLI --json output.
//
// Never use both `cbor` and `json` tags on the same field.
package codec
