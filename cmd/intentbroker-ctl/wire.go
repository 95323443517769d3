// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

// The request shapes below mirror cmd/intentbroker-daemon/wire.go's
// field-for-field, cbor tag-for-cbor tag. They are not imported from
// there, since the daemon's types are unexported fields of package
// main; both sides keep their own copy of the one contract they agree
// on, the same way an HTTP client and server each define their own
// view of a JSON body.

type establishRequest struct {
	Action    string         `cbor:"action"`
	Initiator participant.ID `cbor:"initiator"`
	Responder participant.ID `cbor:"responder"`

	TrustLevel int `cbor:"trust_level"`
	MaxDepth   int `cbor:"max_depth"`

	AppointmentBased       bool  `cbor:"appointment_based"`
	InactivityLimitSeconds int64 `cbor:"inactivity_limit_seconds"`
	AppointmentStartUnix   int64 `cbor:"appointment_start_unix"`
	AppointmentEndUnix     int64 `cbor:"appointment_end_unix"`

	ContextSnapshot map[string]any `cbor:"context_snapshot"`
}

type continueFromRequest struct {
	establishRequest
	PredecessorID relstore.ID `cbor:"predecessor_id"`
}

// intentCanonical is what send-intent signs: every field that
// identifies and constrains the intent, binding the signature to the
// sender and relationship so a captured signature cannot be replayed
// against a different one.
type intentCanonical struct {
	Sender         participant.ID     `cbor:"sender"`
	RelationshipID relstore.ID        `cbor:"relationship_id"`
	IntentType     string             `cbor:"intent_type"`
	Context        string             `cbor:"context"`
	ContextFields  map[string]any     `cbor:"context_fields"`
	Constraints    map[string]float64 `cbor:"constraints"`
}

type sendIntentRequest struct {
	Action           string             `cbor:"action"`
	Sender           participant.ID     `cbor:"sender"`
	RelationshipID   relstore.ID        `cbor:"relationship_id"`
	IntentType       string             `cbor:"intent_type"`
	Context          string             `cbor:"context"`
	ContextFields    map[string]any     `cbor:"context_fields"`
	Constraints      map[string]float64 `cbor:"constraints"`
	CanonicalPayload []byte             `cbor:"canonical_payload"`
	Signature        []byte             `cbor:"signature"`
}

// responseCanonical is what respond signs.
type responseCanonical struct {
	Sender          participant.ID `cbor:"sender"`
	RelationshipID  relstore.ID    `cbor:"relationship_id"`
	IntentSequence  uint64         `cbor:"intent_sequence"`
	Outcome         string         `cbor:"outcome"`
	ResponsePayload map[string]any `cbor:"response_payload"`
}

type respondRequest struct {
	Action           string         `cbor:"action"`
	Sender           participant.ID `cbor:"sender"`
	RelationshipID   relstore.ID    `cbor:"relationship_id"`
	IntentSequence   uint64         `cbor:"intent_sequence"`
	Outcome          string         `cbor:"outcome"`
	ResponsePayload  map[string]any `cbor:"response_payload"`
	CanonicalPayload []byte         `cbor:"canonical_payload"`
	Signature        []byte         `cbor:"signature"`
}

type ackRequest struct {
	Action      string         `cbor:"action"`
	Participant participant.ID `cbor:"participant"`
	Sequence    uint64         `cbor:"sequence"`
}

type closeRequest struct {
	Action         string         `cbor:"action"`
	RelationshipID relstore.ID    `cbor:"relationship_id"`
	Reason         string         `cbor:"reason"`
	Summary        map[string]any `cbor:"summary"`
}

type getRelationshipRequest struct {
	Action         string      `cbor:"action"`
	RelationshipID relstore.ID `cbor:"relationship_id"`
}

type getEventsRequest struct {
	Action         string      `cbor:"action"`
	RelationshipID relstore.ID `cbor:"relationship_id"`
	FromSequence   uint64      `cbor:"from_sequence"`
}

type subscribeRequest struct {
	Action      string         `cbor:"action"`
	Participant participant.ID `cbor:"participant"`
}

type reloadRequest struct {
	Action string `cbor:"action"`
}

type reloadResult struct {
	Entries int `cbor:"entries"`
}

// resultWire mirrors the daemon's flattened admission.Result.
type resultWire struct {
	Admitted  bool    `cbor:"admitted"`
	Sequence  uint64  `cbor:"sequence"`
	RiskScore float64 `cbor:"risk_score"`
	ErrorKind string  `cbor:"error_kind,omitempty"`
	Error     string  `cbor:"error,omitempty"`
}

// streamFrame mirrors the daemon's subscription frame.
type streamFrame struct {
	Type    string      `cbor:"type"`
	Item    *streamItem `cbor:"item,omitempty"`
	Message string      `cbor:"message,omitempty"`
}

// streamItem mirrors lib/delivery.Item, which carries no cbor tags of
// its own; its fields serialize under their plain Go names, so this
// duplicate must match field-for-field with no tags either.
type streamItem struct {
	RelationshipID relstore.ID
	Sequence       uint64
	Kind           string
	IntentType     string
	Payload        map[string]any
}
