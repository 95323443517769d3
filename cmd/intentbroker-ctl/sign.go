// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/bureau-foundation/intentbroker/lib/codec"
	"github.com/bureau-foundation/intentbroker/lib/identity"
	"github.com/bureau-foundation/intentbroker/lib/secret"
)

// loadSigningKey reads a base64-encoded 64-byte Ed25519 private key
// from path into lib/secret-protected memory. Grounded on
// cmd/intentbroker-daemon's loadChainKey, the same read-decode-zero
// sequence with a different key size.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	defer buffer.Close()

	decoded, err := base64.StdEncoding.DecodeString(buffer.String())
	if err != nil {
		return nil, fmt.Errorf("decoding signing key: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key is %d bytes, want %d", len(decoded), ed25519.PrivateKeySize)
	}

	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(key, decoded)
	secret.Zero(decoded)
	return key, nil
}

// signPayload canonically encodes payload, signs it with key, and
// returns both the canonical bytes and the detached signature, the
// pair every signed action (send_intent, respond) carries on the
// wire, matching identity.Verifier.Verify's expectations.
func signPayload(key ed25519.PrivateKey, payload any) (canonical []byte, signature []byte, err error) {
	canonical, err = codec.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding payload: %w", err)
	}
	return canonical, identity.Sign(key, canonical), nil
}
