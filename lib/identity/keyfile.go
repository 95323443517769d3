// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/participant"
	"gopkg.in/yaml.v3"
)

// keyfileEntry is one participant's record in a YAML key file: the
// base64-encoded Ed25519 public key, plus the optional bound human
// identifier and expiry the opaque identity subsystem would otherwise
// supply out of band.
type keyfileEntry struct {
	Device     string `yaml:"device"`
	PublicKey  string `yaml:"public_key"`
	BoundHuman string `yaml:"bound_human,omitempty"`
	ExpiresAt  string `yaml:"expires_at,omitempty"` // RFC 3339, empty means never
}

// LoadKeysFile reads a YAML file of participant key records and
// returns a StaticKeyResolver over them. Exists for deployments with
// no external identity subsystem: key material is published into this
// file out of band and the broker reloads it like any other file-based
// registry. A deployment backed by a real DID/HID service supplies its
// own KeyResolver instead and never calls this.
func LoadKeysFile(path string) (*StaticKeyResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: reading %s: %w", path, err)
	}

	var raw []keyfileEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("identity: parsing %s: %w", path, err)
	}

	resolver := &StaticKeyResolver{
		Keys:       make(map[string]ed25519.PublicKey, len(raw)),
		BoundHuman: make(map[string]participant.HumanID),
		ExpiresAt:  make(map[string]time.Time),
	}
	for _, entry := range raw {
		if entry.Device == "" {
			return nil, fmt.Errorf("identity: %s: entry missing device field", path)
		}
		keyBytes, err := base64.StdEncoding.DecodeString(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("identity: %s: device %q: decoding public_key: %w", path, entry.Device, err)
		}
		if len(keyBytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("identity: %s: device %q: public_key is %d bytes, want %d",
				path, entry.Device, len(keyBytes), ed25519.PublicKeySize)
		}
		resolver.Keys[entry.Device] = ed25519.PublicKey(keyBytes)

		if entry.BoundHuman != "" {
			human, err := participant.NewHumanID(entry.BoundHuman)
			if err != nil {
				return nil, fmt.Errorf("identity: %s: device %q: %w", path, entry.Device, err)
			}
			resolver.BoundHuman[entry.Device] = human
		}
		if entry.ExpiresAt != "" {
			expiry, err := time.Parse(time.RFC3339, entry.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("identity: %s: device %q: parsing expires_at: %w", path, entry.Device, err)
			}
			resolver.ExpiresAt[entry.Device] = expiry
		}
	}
	return resolver, nil
}
