// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestKeyFile(t *testing.T, key ed25519.PrivateKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signing.key")
	encoded := base64.StdEncoding.EncodeToString(key)
	require.NoError(t, os.WriteFile(path, []byte(encoded+"\n"), 0o600))
	return path
}

func TestLoadSigningKeyRoundTrips(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	path := writeTestKeyFile(t, priv)

	loaded, err := loadSigningKey(path)
	require.NoError(t, err)
	require.Equal(t, priv, loaded)
}

func TestLoadSigningKeyRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString([]byte("too short"))), 0o600))

	_, err := loadSigningKey(path)
	require.Error(t, err)
}

func TestSignPayloadVerifiesAgainstPublicKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	canonical, signature, err := signPayload(priv, intentCanonical{
		IntentType: "send_intent",
		Context:    "a reasonable explanation",
	})
	require.NoError(t, err)
	require.True(t, ed25519.Verify(pub, canonical, signature))
}
