// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package eventchain

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/codec"
)

// Event types recorded on a relationship's chain. The set is closed —
// no caller registers new types at runtime.
const (
	TypeRelationshipEstablished = "relationship_established"
	TypeIntentAdmitted          = "intent_admitted"
	TypeIntentRejected          = "intent_rejected"
	TypeResponseRecorded        = "response_recorded"
	TypeRelationshipClosed      = "relationship_closed"
	TypeRelationshipContinued   = "relationship_continued"
	TypeBreachAttempt           = "breach_attempt"
)

// Event is one append-only record in a relationship's chain.
type Event struct {
	Sequence     uint64
	Type         string
	Timestamp    time.Time
	Payload      codec.RawMessage
	PreviousHash Hash
	Hash         Hash
}

// Append computes the next event in a chain given the current head
// and returns the fully-formed Event, including its own hash. It does
// not persist anything — lib/relstore owns durability and calls
// Append to compute the hash it then writes alongside the event row
// in the same transaction.
func Append(key Key, head Hash, nextSequence uint64, eventType string, payload any, at time.Time) (Event, error) {
	encodedPayload, err := codec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventchain: encoding payload: %w", err)
	}

	hash, err := key.Link(head, nextSequence, eventType, encodedPayload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Sequence:     nextSequence,
		Type:         eventType,
		Timestamp:    at,
		Payload:      encodedPayload,
		PreviousHash: head,
		Hash:         hash,
	}, nil
}

// Verify replays a full chain and confirms every link: sequence
// numbers are dense starting at 0, each event's PreviousHash matches
// the prior event's Hash (or Genesis for sequence 0), and each
// event's Hash is reproducible from its recorded fields under key.
//
// Returns the hash of the last event (the chain head) on success.
// Returns brokererr.KindInternalError wrapping a description of the
// first point of tampering on failure. Every event from the tampered
// point onward fails verification, so callers should treat any error
// here as "the chain is compromised from this point forward", not
// just "one event is bad".
func Verify(key Key, events []Event) (Hash, error) {
	head := Genesis
	for i, event := range events {
		if event.Sequence != uint64(i) {
			return Hash{}, brokererr.Wrap(brokererr.KindInternalError,
				fmt.Errorf("eventchain: event at position %d has sequence %d, want %d", i, event.Sequence, i))
		}
		if event.PreviousHash != head {
			return Hash{}, brokererr.Wrap(brokererr.KindInternalError,
				fmt.Errorf("eventchain: event %d previous_hash mismatch: chain broken", event.Sequence))
		}

		recomputed, err := key.Link(event.PreviousHash, event.Sequence, event.Type, event.Payload)
		if err != nil {
			return Hash{}, err
		}
		if recomputed != event.Hash {
			return Hash{}, brokererr.Wrap(brokererr.KindInternalError,
				fmt.Errorf("eventchain: event %d hash mismatch: tampered payload or type", event.Sequence))
		}

		head = event.Hash
	}
	return head, nil
}
