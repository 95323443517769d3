// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity implements the broker's L1 Identity & Signature
// Verifier. It exposes one operation, verifying a canonical message
// against a declared sender, and is the only component that talks to
// the opaque identity subsystem. Every other component receives
// already-verified messages and treats the sender field as
// authoritative.
//
// An Ed25519 signature is a fixed 64 bytes and is handed to the
// verifier as its own argument, separate from the canonical payload it
// signs; nothing here splits a combined payload+signature blob. Key
// material is opaque;
// this package does not care how a caller obtained the public key it
// hands to a Verifier, only that it is correct at verification time.
package identity

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/participant"
)

// SignatureSize is the fixed size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// KeyResolver resolves a participant's current verification key. It
// returns brokererr.KindUnknownSender if the participant is not known,
// or brokererr.KindExpiredKey if the key on file has expired.
//
// KeyResolver is the seam across which the opaque identity subsystem
// (DID/HID issuance, credential rotation, neither handled by this
// broker) is consumed. Implementations may call out to a remote
// service to resolve a key.
type KeyResolver func(sender participant.ID) (publicKey ed25519.PublicKey, boundHuman participant.HumanID, err error)

// Verifier implements the L1 signature check.
type Verifier struct {
	resolve KeyResolver
}

// New creates a Verifier backed by the given key resolver.
func New(resolve KeyResolver) *Verifier {
	return &Verifier{resolve: resolve}
}

// Verify checks a signature over a canonical message on behalf of a
// declared sender. canonical must be the exact bytes that were signed;
// callers are responsible for producing it via a deterministic
// encoding (lib/codec.Marshal).
//
// expectedHuman, if non-zero, additionally verifies the declared
// sender's key is bound to that human identifier. A mismatch yields
// brokererr.KindBindingMismatch.
//
// Returns nil on success, or a *brokererr.Error with one of
// KindUnknownSender, KindBadSignature, KindBindingMismatch, or
// KindExpiredKey.
func (v *Verifier) Verify(canonical []byte, sender participant.ID, signature []byte, expectedHuman participant.HumanID) error {
	if len(signature) != SignatureSize {
		return brokererr.Wrap(brokererr.KindBadSignature,
			fmt.Errorf("identity: signature is %d bytes, want %d", len(signature), SignatureSize))
	}

	publicKey, boundHuman, err := v.resolve(sender)
	if err != nil {
		if berr, ok := err.(*brokererr.Error); ok {
			return berr
		}
		return brokererr.Wrap(brokererr.KindUnknownSender, err)
	}

	if !ed25519.Verify(publicKey, canonical, signature) {
		return brokererr.New(brokererr.KindBadSignature)
	}

	if !expectedHuman.IsZero() && boundHuman != expectedHuman {
		return brokererr.New(brokererr.KindBindingMismatch)
	}

	return nil
}

// Sign signs a canonical message with an Ed25519 private key. Used by
// initiators/responders (and by tests) to produce the signature field
// carried alongside an Intent or Response.
func Sign(privateKey ed25519.PrivateKey, canonical []byte) []byte {
	return ed25519.Sign(privateKey, canonical)
}

// StaticKeyResolver returns a KeyResolver over a fixed in-memory map,
// useful for tests and for deployments where the identity subsystem
// publishes keys out of band into a snapshot the broker reloads
// periodically. expiresAt entries map participant IDs to a key expiry;
// a zero time means the key never expires.
type StaticKeyResolver struct {
	mu sync.RWMutex

	Keys       map[string]ed25519.PublicKey
	BoundHuman map[string]participant.HumanID
	ExpiresAt  map[string]time.Time
	Now        func() time.Time
}

// Resolve implements KeyResolver.
func (s *StaticKeyResolver) Resolve(sender participant.ID) (ed25519.PublicKey, participant.HumanID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.Keys[sender.String()]
	if !ok {
		return nil, participant.HumanID{}, brokererr.New(brokererr.KindUnknownSender)
	}
	if expiry, ok := s.ExpiresAt[sender.String()]; ok && !expiry.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		if !now().Before(expiry) {
			return nil, participant.HumanID{}, brokererr.New(brokererr.KindExpiredKey)
		}
	}
	return key, s.BoundHuman[sender.String()], nil
}

// Reload atomically replaces this resolver's key maps with next's,
// the same "replace the whole set, readers never see a partial swap"
// pattern as policyreg.Index.Reload. Callers load a fresh
// StaticKeyResolver via LoadKeysFile and pass it here rather than
// constructing a new identity.Verifier, since the verifier already
// holds a KeyResolver closure bound to this resolver's Resolve method.
func (s *StaticKeyResolver) Reload(next *StaticKeyResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Keys = next.Keys
	s.BoundHuman = next.BoundHuman
	s.ExpiresAt = next.ExpiresAt
}
