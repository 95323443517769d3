// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"context"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/codec"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

// SignedResponse is an inbound response as received off the wire,
// analogous to SignedIntent but on the responder-to-initiator
// channel.
type SignedResponse struct {
	Sender           participant.ID
	RelationshipID   relstore.ID
	IntentSequence   uint64
	Outcome          string
	ResponsePayload  map[string]any
	CanonicalPayload []byte
	Signature        []byte
}

// Respond runs an analogous but shorter pipeline: the sender must
// equal the responder, the referenced intent must be admitted and not
// yet finalized, and the response is appended as response_recorded.
// Responses do not touch the depth counter and do not extend the
// timebox; last-activity-at is still updated because Respond passes
// bumpActivity=true to AppendEvent.
func (p *Pipeline) Respond(ctx context.Context, response SignedResponse) (Result, error) {
	if err := p.verifier.Verify(response.CanonicalPayload, response.Sender, response.Signature, participant.HumanID{}); err != nil {
		return rejectWithoutRelationship(err)
	}

	rel, err := p.store.Get(response.RelationshipID)
	if err != nil {
		return rejectWithoutRelationship(err)
	}

	if response.Sender != rel.Responder {
		return Result{Err: brokererr.New(brokererr.KindWrongDirection)}, nil
	}

	events, err := p.store.ListEvents(ctx, rel.ID, 0)
	if err != nil {
		return Result{}, err
	}

	admitted, finalized := scanIntentState(events, response.IntentSequence)
	if !admitted {
		return Result{Err: brokererr.New(brokererr.KindNotAdmitted)}, nil
	}
	if finalized {
		return Result{Err: brokererr.New(brokererr.KindAlreadyFinalized)}, nil
	}

	payload := map[string]any{
		"intent_sequence": response.IntentSequence,
		"outcome":         response.Outcome,
		"response":        response.ResponsePayload,
	}
	event, err := p.store.AppendEvent(ctx, rel.ID, rel.ChainHead, p.chainKey, eventchain.TypeResponseRecorded, payload, p.clock.Now().Unix(), nil, true)
	if err != nil {
		return Result{}, err
	}

	return Result{Admitted: true, Sequence: event.Sequence}, nil
}

// FinalizeRejected appends a system-generated response_recorded event
// for an intent the delivery subsystem could not get to the
// responder — a delivery acknowledgment timeout or a relationship
// closing with the intent still pending. Unlike Respond, there is no
// signed responder message to verify: the broker itself is the
// author. Finalizing an already-finalized intent is a no-op.
func (p *Pipeline) FinalizeRejected(ctx context.Context, relationshipID relstore.ID, intentSequence uint64, reason string) error {
	rel, err := p.store.Get(relationshipID)
	if err != nil {
		return err
	}

	events, err := p.store.ListEvents(ctx, rel.ID, 0)
	if err != nil {
		return err
	}
	_, finalized := scanIntentState(events, intentSequence)
	if finalized {
		return nil
	}

	payload := map[string]any{
		"intent_sequence": intentSequence,
		"outcome":         "rejected",
		"response":        map[string]any{"rejected": true, "reason": reason},
	}
	_, err = p.store.AppendEvent(ctx, rel.ID, rel.ChainHead, p.chainKey, eventchain.TypeResponseRecorded, payload, p.clock.Now().Unix(), nil, true)
	return err
}

// scanIntentState replays the chain to determine whether
// intentSequence refers to an admitted intent and whether it has
// already been answered. Chains are short-lived (bounded by
// MaxDepth), so a linear replay per response is cheap and keeps the
// finalization check reproducible from the event log alone, with no
// separate mutable "pending intents" table to desynchronize.
func scanIntentState(events []eventchain.Event, intentSequence uint64) (admitted, finalized bool) {
	for _, event := range events {
		switch event.Type {
		case eventchain.TypeIntentAdmitted:
			if event.Sequence == intentSequence {
				admitted = true
			}
		case eventchain.TypeResponseRecorded:
			var body struct {
				IntentSequence uint64 `cbor:"intent_sequence"`
			}
			if err := codec.Unmarshal(event.Payload, &body); err == nil && body.IntentSequence == intentSequence {
				finalized = true
			}
		}
	}
	return admitted, finalized
}
