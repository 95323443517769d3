// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/base64"
	"fmt"

	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/secret"
)

// loadChainKey reads the base64-encoded 32-byte event-chain hashing
// key from path into lib/secret-protected memory, decodes it, and
// zeros the decoded byte slice before returning (the string copy
// handed to the base64 decoder is not zeroed). The secret buffer
// itself is closed before this returns — the 32 bytes live only in
// the eventchain.Key value afterward, matching that type's own
// "secret loaded once at startup, held read-only thereafter" role.
func loadChainKey(path string) (eventchain.Key, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return eventchain.Key{}, fmt.Errorf("reading chain key: %w", err)
	}
	defer buffer.Close()

	decoded, err := base64.StdEncoding.DecodeString(buffer.String())
	if err != nil {
		return eventchain.Key{}, fmt.Errorf("decoding chain key: %w", err)
	}
	if len(decoded) != 32 {
		return eventchain.Key{}, fmt.Errorf("chain key is %d bytes, want 32", len(decoded))
	}

	var material [32]byte
	copy(material[:], decoded)
	secret.Zero(decoded)

	return eventchain.NewKey(material), nil
}
