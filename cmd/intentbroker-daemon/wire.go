// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/admission"
	"github.com/bureau-foundation/intentbroker/lib/broker"
	"github.com/bureau-foundation/intentbroker/lib/codec"
	"github.com/bureau-foundation/intentbroker/lib/lifecycle"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

func secondsToDuration(seconds int64) time.Duration { return time.Duration(seconds) * time.Second }

func unixToTime(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

// establishRequest is the wire body for the "establish" action.
// Exactly one of the two timebox shapes is meaningful, selected by
// AppointmentBased, mirroring broker.EstablishRequest.
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

func (r establishRequest) toBrokerRequest() broker.EstablishRequest {
	return broker.EstablishRequest{
		Initiator:        r.Initiator,
		Responder:        r.Responder,
		TrustLevel:       r.TrustLevel,
		MaxDepth:         r.MaxDepth,
		AppointmentBased: r.AppointmentBased,
		InactivityLimit:  secondsToDuration(r.InactivityLimitSeconds),
		AppointmentStart: unixToTime(r.AppointmentStartUnix),
		AppointmentEnd:   unixToTime(r.AppointmentEndUnix),
		ContextSnapshot:  r.ContextSnapshot,
	}
}

// continueFromRequest is the wire body for "continue_from": every
// establishRequest field plus the closed predecessor it inherits open
// items from.
type continueFromRequest struct {
	establishRequest
	PredecessorID relstore.ID `cbor:"predecessor_id"`
}

// sendIntentRequest is the wire shape of admission.SignedIntent.
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

func (r sendIntentRequest) toSignedIntent() admission.SignedIntent {
	return admission.SignedIntent{
		Sender:           r.Sender,
		RelationshipID:   r.RelationshipID,
		IntentType:       r.IntentType,
		Context:          r.Context,
		ContextFields:    r.ContextFields,
		Constraints:      r.Constraints,
		CanonicalPayload: r.CanonicalPayload,
		Signature:        r.Signature,
	}
}

// respondRequest is the wire shape of admission.SignedResponse.
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

func (r respondRequest) toSignedResponse() admission.SignedResponse {
	return admission.SignedResponse{
		Sender:           r.Sender,
		RelationshipID:   r.RelationshipID,
		IntentSequence:   r.IntentSequence,
		Outcome:          r.Outcome,
		ResponsePayload:  r.ResponsePayload,
		CanonicalPayload: r.CanonicalPayload,
		Signature:        r.Signature,
	}
}

// ackRequest acknowledges a delivered item. Participant names
// whichever side is subscribed; the delivery subsystem has no
// separate notion of responder vs. initiator, only a participant.ID
// the item was queued against.
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

// subscribeRequest is the wire body shared by subscribe_responder and
// subscribe_initiator.
type subscribeRequest struct {
	Action      string         `cbor:"action"`
	Participant participant.ID `cbor:"participant"`
}

// resultWire is the wire shape of admission.Result: brokererr.Error
// carries an unexported field and is not itself CBOR-friendly, so the
// error is flattened to its kind and message.
type resultWire struct {
	Admitted  bool    `cbor:"admitted"`
	Sequence  uint64  `cbor:"sequence"`
	RiskScore float64 `cbor:"risk_score"`
	ErrorKind string  `cbor:"error_kind,omitempty"`
	Error     string  `cbor:"error,omitempty"`
}

func toResultWire(result admission.Result) resultWire {
	wire := resultWire{Admitted: result.Admitted, Sequence: result.Sequence, RiskScore: result.RiskScore}
	if result.Err != nil {
		wire.ErrorKind = result.Err.Kind.String()
		wire.Error = result.Err.Error()
	}
	return wire
}

// registerActions wires every one-shot action named in SPEC_FULL.md's
// external-interface section to the broker's operations.
func registerActions(server *socketServer, b broker.API) {
	server.handleAction("establish", func(ctx context.Context, raw []byte) (any, error) {
		var req establishRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding establish request: %w", err)
		}
		rel, err := b.Establish(ctx, req.toBrokerRequest())
		if err != nil {
			return nil, err
		}
		return rel, nil
	})

	server.handleAction("continue_from", func(ctx context.Context, raw []byte) (any, error) {
		var req continueFromRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding continue_from request: %w", err)
		}
		rel, err := b.ContinueFrom(ctx, req.PredecessorID, req.establishRequest.toBrokerRequest())
		if err != nil {
			return nil, err
		}
		return rel, nil
	})

	server.handleAction("send_intent", func(ctx context.Context, raw []byte) (any, error) {
		var req sendIntentRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding send_intent request: %w", err)
		}
		result, err := b.SendIntent(ctx, req.toSignedIntent())
		if err != nil {
			return nil, err
		}
		return toResultWire(result), nil
	})

	server.handleAction("respond", func(ctx context.Context, raw []byte) (any, error) {
		var req respondRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding respond request: %w", err)
		}
		result, err := b.Respond(ctx, req.toSignedResponse())
		if err != nil {
			return nil, err
		}
		return toResultWire(result), nil
	})

	server.handleAction("ack", func(ctx context.Context, raw []byte) (any, error) {
		var req ackRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding ack request: %w", err)
		}
		b.Ack(req.Participant, req.Sequence)
		return nil, nil
	})

	server.handleAction("close", func(ctx context.Context, raw []byte) (any, error) {
		var req closeRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding close request: %w", err)
		}
		reason := req.Reason
		if reason == "" {
			reason = string(lifecycle.ReasonUser)
		}
		if err := b.Close(ctx, req.RelationshipID, lifecycle.CloseReason(reason), req.Summary); err != nil {
			return nil, err
		}
		return nil, nil
	})

	server.handleAction("get_relationship", func(ctx context.Context, raw []byte) (any, error) {
		var req getRelationshipRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding get_relationship request: %w", err)
		}
		rel, err := b.GetRelationship(req.RelationshipID)
		if err != nil {
			return nil, err
		}
		return rel, nil
	})

	server.handleAction("get_events", func(ctx context.Context, raw []byte) (any, error) {
		var req getEventsRequest
		if err := codec.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding get_events request: %w", err)
		}
		events, err := b.GetEvents(ctx, req.RelationshipID, req.FromSequence)
		if err != nil {
			return nil, err
		}
		return events, nil
	})
}

