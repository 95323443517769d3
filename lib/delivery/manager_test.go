// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package delivery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/delivery"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

type fakeFinalizer struct {
	mu        sync.Mutex
	finalized []finalizeCall
}

type finalizeCall struct {
	relationshipID relstore.ID
	sequence       uint64
	reason         string
}

func (f *fakeFinalizer) FinalizeRejected(ctx context.Context, relationshipID relstore.ID, sequence uint64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, finalizeCall{relationshipID, sequence, reason})
	return nil
}

func (f *fakeFinalizer) calls() []finalizeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]finalizeCall, len(f.finalized))
	copy(out, f.finalized)
	return out
}

func mustResponder(t *testing.T) participant.ID {
	t.Helper()
	id, err := participant.NewID("responder-1")
	require.NoError(t, err)
	return id
}

func TestEnqueueDeliversToLiveSessionImmediately(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.Fake(now)
	manager := delivery.New(delivery.Config{Clock: fakeClock})
	responder := mustResponder(t)

	session := manager.Subscribe(context.Background(), responder)
	relID := relstore.NewRandomID(func() string { return "rel-1" })
	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 1, Kind: "intent"}))

	select {
	case item := <-session.Events():
		require.Equal(t, uint64(1), item.Sequence)
	default:
		t.Fatal("expected item to be delivered immediately")
	}
}

func TestQueueOrderingWithinRelationship(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.Fake(now)
	manager := delivery.New(delivery.Config{Clock: fakeClock})
	responder := mustResponder(t)
	relID := relstore.NewRandomID(func() string { return "rel-1" })

	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 1}))
	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 2}))
	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 3}))

	session := manager.Subscribe(context.Background(), responder)
	first := <-session.Events()
	require.Equal(t, uint64(1), first.Sequence)
	manager.Ack(responder, first.Sequence)

	second := <-session.Events()
	require.Equal(t, uint64(2), second.Sequence)
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.Fake(now)
	manager := delivery.New(delivery.Config{Clock: fakeClock, QueueCapacity: 2})
	responder := mustResponder(t)
	relID := relstore.NewRandomID(func() string { return "rel-1" })

	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 1}))
	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 2}))
	err := manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 3})
	require.ErrorIs(t, err, delivery.ErrQueueFull)

	atCapacity, err := manager.ResponderAtCapacity(context.Background(), responder)
	require.NoError(t, err)
	require.True(t, atCapacity)
}

func TestAckTimeoutRequeuesThenFinalizes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.Fake(now)
	finalizer := &fakeFinalizer{}
	manager := delivery.New(delivery.Config{Clock: fakeClock, Finalizer: finalizer, AckTimeout: time.Second})
	responder := mustResponder(t)
	relID := relstore.NewRandomID(func() string { return "rel-1" })

	session := manager.Subscribe(context.Background(), responder)
	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 1}))
	<-session.Events()

	fakeClock.Advance(2 * time.Second)

	redelivered := <-session.Events()
	require.Equal(t, uint64(1), redelivered.Sequence)

	fakeClock.Advance(2 * time.Second)

	calls := finalizer.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "delivery_timeout", calls[0].reason)
}

func TestCancelRelationshipFinalizesPendingItems(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.Fake(now)
	finalizer := &fakeFinalizer{}
	manager := delivery.New(delivery.Config{Clock: fakeClock, Finalizer: finalizer})
	responder := mustResponder(t)
	relID := relstore.NewRandomID(func() string { return "rel-1" })

	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 1}))
	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 2}))

	require.NoError(t, manager.CancelRelationship(context.Background(), relID))

	calls := finalizer.calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		require.Equal(t, "relationship_closed", call.reason)
	}
}

func TestSubscribeReplacesPriorSessionAndRequeuesInFlight(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.Fake(now)
	manager := delivery.New(delivery.Config{Clock: fakeClock, AckTimeout: time.Minute})
	responder := mustResponder(t)
	relID := relstore.NewRandomID(func() string { return "rel-1" })

	firstSession := manager.Subscribe(context.Background(), responder)
	require.NoError(t, manager.Enqueue(responder, delivery.Item{RelationshipID: relID, Sequence: 1}))
	<-firstSession.Events()

	secondSession := manager.Subscribe(context.Background(), responder)
	redelivered := <-secondSession.Events()
	require.Equal(t, uint64(1), redelivered.Sequence)
}
