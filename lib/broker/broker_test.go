// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package broker_test

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/intentbroker/lib/admission"
	"github.com/bureau-foundation/intentbroker/lib/broker"
	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/delivery"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/identity"
	"github.com/bureau-foundation/intentbroker/lib/lifecycle"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/policyreg"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
	"github.com/bureau-foundation/intentbroker/lib/sqlitepool"
)

type wiredBroker struct {
	broker    *broker.Broker
	store     *relstore.Store
	delivery  *delivery.Manager
	fakeClock *clock.FakeClock

	initiator     participant.ID
	initiatorPriv ed25519.PrivateKey
	responder     participant.ID
	responderPriv ed25519.PrivateKey
}

func newWiredBroker(t *testing.T, now time.Time) *wiredBroker {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := relstore.Open(context.Background(), pool)
	require.NoError(t, err)

	initiatorPub, initiatorPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	responderPub, responderPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	initiator, err := participant.NewID("device-initiator")
	require.NoError(t, err)
	responder, err := participant.NewID("device-responder")
	require.NoError(t, err)

	resolver := &identity.StaticKeyResolver{
		Keys: map[string]ed25519.PublicKey{
			initiator.String(): initiatorPub,
			responder.String(): responderPub,
		},
	}
	verifier := identity.New(resolver.Resolve)

	policies := policyreg.NewIndex()
	policies.Reload([]policyreg.Entry{
		{
			IntentType:  "send_intent",
			TrustFloor:  0,
			Appointment: policyreg.AppointmentNone,
			Risk:        policyreg.RiskWeights{Threshold: 0.1},
			Content:     policyreg.ContentRule{MinContextLength: 1},
			Version:     "v1",
		},
	})

	var material [32]byte
	copy(material[:], []byte("broker-wiring-test-chain-key!!!!"))
	chainKey := eventchain.NewKey(material)

	fakeClock := clock.Fake(now)

	// The pipeline needs the delivery manager (as RiskContext) and the
	// delivery manager needs the pipeline (as Finalizer); break the
	// cycle by constructing the delivery manager first with no
	// finalizer, building the pipeline against it, then attaching the
	// pipeline with SetFinalizer.
	deliveryManager := delivery.New(delivery.Config{
		Clock:         fakeClock,
		QueueCapacity: 8,
		AckTimeout:    time.Second,
	})
	lifecycleEngine := lifecycle.New(lifecycle.Config{Store: store, ChainKey: chainKey, Clock: fakeClock})
	pipeline := admission.New(admission.Config{
		Store:     store,
		Policies:  policies,
		Verifier:  verifier,
		ChainKey:  chainKey,
		Clock:     fakeClock,
		Risk:      broker.NewRiskContext(store, deliveryManager, fakeClock, time.Hour),
		Lifecycle: lifecycleEngine,
		Delivery:  deliveryManager,
	})
	deliveryManager.SetFinalizer(pipeline)

	b := broker.New(broker.Config{
		Store:       store,
		Policies:    policies,
		Pipeline:    pipeline,
		Lifecycle:   lifecycleEngine,
		Delivery:    deliveryManager,
		ChainKey:    chainKey,
		Clock:       fakeClock,
		IDGenerator: func() string { return "rel-test" },
	})

	return &wiredBroker{
		broker:        b,
		store:         store,
		delivery:      deliveryManager,
		fakeClock:     fakeClock,
		initiator:     initiator,
		initiatorPriv: initiatorPriv,
		responder:     responder,
		responderPriv: responderPriv,
	}
}

func (w *wiredBroker) establish(t *testing.T, now time.Time) relstore.Relationship {
	t.Helper()
	rel, err := w.broker.Establish(context.Background(), broker.EstablishRequest{
		Initiator:        w.initiator,
		Responder:        w.responder,
		TrustLevel:       0,
		MaxDepth:         5,
		InactivityLimit:  24 * time.Hour,
		ContextSnapshot:  map[string]any{},
	})
	require.NoError(t, err)
	return rel
}

func (w *wiredBroker) signedIntent(relID relstore.ID, context string) admission.SignedIntent {
	payload := []byte(context)
	return admission.SignedIntent{
		Sender:           w.initiator,
		RelationshipID:   relID,
		IntentType:       "send_intent",
		Context:          context,
		ContextFields:    map[string]any{},
		CanonicalPayload: payload,
		Signature:        identity.Sign(w.initiatorPriv, payload),
	}
}

func TestEstablishActivityBased(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)

	rel := w.establish(t, now)
	require.Equal(t, relstore.TimeboxActivityBased, rel.TimeboxMode)
	require.Equal(t, now.Unix()+int64(24*time.Hour/time.Second), rel.ExpiresAtUnix)

	got, err := w.broker.GetRelationship(rel.ID)
	require.NoError(t, err)
	require.Equal(t, relstore.StateActive, got.State)
}

func TestEstablishAppointmentBased(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)

	start := now.Add(time.Hour)
	end := now.Add(2 * time.Hour)
	rel, err := w.broker.Establish(context.Background(), broker.EstablishRequest{
		Initiator:        w.initiator,
		Responder:        w.responder,
		TrustLevel:       0,
		MaxDepth:         5,
		AppointmentBased: true,
		AppointmentStart: start,
		AppointmentEnd:   end,
		ContextSnapshot:  map[string]any{},
	})
	require.NoError(t, err)
	require.Equal(t, relstore.TimeboxAppointmentBased, rel.TimeboxMode)
	require.Equal(t, start.Unix(), rel.AppointmentStartUnix)
	require.Equal(t, end.Unix(), rel.AppointmentEndUnix)
}

func TestSendIntentDeliversToSubscribedResponder(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)
	rel := w.establish(t, now)

	session := w.broker.SubscribeAsResponder(context.Background(), w.responder)
	defer session.Close()

	result, err := w.broker.SendIntent(context.Background(), w.signedIntent(rel.ID, "a reasonable explanation"))
	require.NoError(t, err)
	require.True(t, result.Admitted)

	select {
	case item := <-session.Events():
		require.Equal(t, "intent", item.Kind)
		require.Equal(t, result.Sequence, item.Sequence)
	case <-time.After(time.Second):
		t.Fatal("expected item to be delivered")
	}
}

func TestRespondRoutesToInitiatorSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)
	rel := w.establish(t, now)

	submitResult, err := w.broker.SendIntent(context.Background(), w.signedIntent(rel.ID, "a reasonable explanation"))
	require.NoError(t, err)
	require.True(t, submitResult.Admitted)

	initiatorSession := w.broker.SubscribeAsInitiator(context.Background(), w.initiator)
	defer initiatorSession.Close()

	responsePayload := []byte("accepted")
	result, err := w.broker.Respond(context.Background(), admission.SignedResponse{
		Sender:           w.responder,
		RelationshipID:   rel.ID,
		IntentSequence:   submitResult.Sequence,
		Outcome:          "accepted",
		ResponsePayload:  map[string]any{"note": "accepted"},
		CanonicalPayload: responsePayload,
		Signature:        identity.Sign(w.responderPriv, responsePayload),
	})
	require.NoError(t, err)
	require.True(t, result.Admitted)

	select {
	case item := <-initiatorSession.Events():
		require.Equal(t, "response", item.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected response to be routed to initiator")
	}
}

func TestAckAcknowledgesDeliveredItem(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)
	rel := w.establish(t, now)

	session := w.broker.SubscribeAsResponder(context.Background(), w.responder)
	defer session.Close()

	result, err := w.broker.SendIntent(context.Background(), w.signedIntent(rel.ID, "a reasonable explanation"))
	require.NoError(t, err)

	<-session.Events()
	w.broker.Ack(w.responder, result.Sequence)

	atCapacity, err := w.delivery.ResponderAtCapacity(context.Background(), w.responder)
	require.NoError(t, err)
	require.False(t, atCapacity)
}

func TestCloseCancelsOutstandingDeliveries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)
	rel := w.establish(t, now)

	// Leave the responder unsubscribed so the item stays pending.
	_, err := w.broker.SendIntent(context.Background(), w.signedIntent(rel.ID, "a reasonable explanation"))
	require.NoError(t, err)

	require.NoError(t, w.broker.Close(context.Background(), rel.ID, lifecycle.ReasonCompleted, map[string]any{"note": "done"}))

	got, err := w.broker.GetRelationship(rel.ID)
	require.NoError(t, err)
	require.Equal(t, relstore.StateClosed, got.State)

	events, err := w.broker.GetEvents(context.Background(), rel.ID, 0)
	require.NoError(t, err)
	sawFinalized := false
	for _, event := range events {
		if event.Type == eventchain.TypeResponseRecorded {
			sawFinalized = true
		}
	}
	require.True(t, sawFinalized, "expected the pending intent to be finalized as relationship_closed")
	require.NotEmpty(t, events)
	require.Equal(t, eventchain.TypeRelationshipClosed, events[len(events)-1].Type, "relationship_closed must be the last event, after any finalizations")
}

func TestContinueFromInheritsOpenItems(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)
	rel := w.establish(t, now)

	require.NoError(t, w.store.UpdateState(context.Background(), rel.ID, relstore.StateClosed, "completed", now.Unix()))

	fresh, err := w.broker.ContinueFrom(context.Background(), rel.ID, broker.EstablishRequest{
		Initiator:       w.initiator,
		Responder:       w.responder,
		TrustLevel:      0,
		MaxDepth:        5,
		InactivityLimit: 24 * time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, rel.ID, fresh.ContinuationOf)
}

func TestPoliciesReturnsConfiguredIndex(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)

	entry, ok := w.broker.Policies().Lookup("send_intent", 0)
	require.True(t, ok)
	require.Equal(t, "v1", entry.Version)
}

func TestRiskContextRecentRejectionCountRespectsWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWiredBroker(t, now)
	rel := w.establish(t, now)

	risk := broker.NewRiskContext(w.store, w.delivery, w.fakeClock, time.Hour)

	// No rejections yet.
	count, err := risk.RecentRejectionCount(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	// Submitting with a signature from the wrong sender is rejected as
	// wrong_direction, which is recorded as a breach attempt.
	badIntent := w.signedIntent(rel.ID, "a reasonable explanation")
	badIntent.Sender = w.responder
	badIntent.Signature = identity.Sign(w.responderPriv, badIntent.CanonicalPayload)
	result, err := w.broker.SendIntent(context.Background(), badIntent)
	require.NoError(t, err)
	require.False(t, result.Admitted)

	count, err = risk.RecentRejectionCount(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	w.fakeClock.Advance(2 * time.Hour)
	count, err = risk.RecentRejectionCount(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
