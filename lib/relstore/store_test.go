// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package relstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
	"github.com/bureau-foundation/intentbroker/lib/sqlitepool"
)

func openTestStore(t *testing.T) *relstore.Store {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := relstore.Open(context.Background(), pool)
	require.NoError(t, err)
	return store
}

func testChainKey() eventchain.Key {
	var material [32]byte
	copy(material[:], []byte("relstore-test-chain-hashing-key"))
	return eventchain.NewKey(material)
}

func mustParticipant(t *testing.T, raw string) participant.ID {
	t.Helper()
	id, err := participant.NewID(raw)
	require.NoError(t, err)
	return id
}

func newRelationship(t *testing.T, initiator, responder string) relstore.Relationship {
	t.Helper()
	return relstore.Relationship{
		ID:                 relstore.NewRandomID(func() string { return "rel-" + initiator + "-" + responder }),
		Initiator:          mustParticipant(t, initiator),
		Responder:          mustParticipant(t, responder),
		TrustLevel:         2,
		MaxDepth:           5,
		TimeboxMode:        relstore.TimeboxActivityBased,
		CreatedAtUnix:      1000,
		LastActivityAtUnix: 1000,
		ExpiresAtUnix:      1000 + 86400,
		ContextSnapshot:    map[string]any{"purpose": "testing"},
	}
}

func TestCreateAndGet(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")

	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{"initiator": "p1"}))

	got, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, rel.Initiator, got.Initiator)
	require.False(t, got.ChainHead.IsZero())
}

func TestCreateRejectsDuplicateActiveTriple(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")

	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{}))

	dup := newRelationship(t, "p1", "p2")
	err := store.Create(context.Background(), dup, testChainKey(), map[string]any{})
	require.True(t, errors.Is(err, brokererr.New(brokererr.KindDuplicate)))
}

func TestGetUnknownRelationship(t *testing.T) {
	store := openTestStore(t)
	id, err := relstore.ParseID("does-not-exist")
	require.NoError(t, err)

	_, err = store.Get(id)
	require.True(t, errors.Is(err, brokererr.New(brokererr.KindUnknownRelationship)))
}

func TestAppendEventUpdatesChainHeadAndDepth(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")
	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{}))

	created, err := store.Get(rel.ID)
	require.NoError(t, err)

	event, err := store.AppendEvent(context.Background(), rel.ID, created.ChainHead, testChainKey(),
		eventchain.TypeIntentAdmitted, map[string]any{"risk_score": 0.8}, 2000,
		func(r *relstore.Relationship) { r.Depth++ }, true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), event.Sequence)

	updated, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.Depth)
	require.Equal(t, event.Hash, updated.ChainHead)
	require.Equal(t, int64(2000), updated.LastActivityAtUnix)
}

func TestAppendEventDetectsChainConflict(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")
	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{}))

	_, err := store.AppendEvent(context.Background(), rel.ID, eventchain.Hash{}, testChainKey(),
		eventchain.TypeIntentAdmitted, map[string]any{}, 2000, nil, true)
	require.Error(t, err)
}

func TestAppendEventRejectsAppendAfterClose(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")
	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{}))

	created, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.NoError(t, store.UpdateState(context.Background(), rel.ID, relstore.StateClosed, "completed", 3000))

	_, err = store.AppendEvent(context.Background(), rel.ID, created.ChainHead, testChainKey(),
		eventchain.TypeIntentRejected, map[string]any{}, 3100, nil, false)
	require.True(t, errors.Is(err, brokererr.New(brokererr.KindAlreadyClosed)))
}

func TestUpdateStateClosesRelationship(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")
	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{}))

	require.NoError(t, store.UpdateState(context.Background(), rel.ID, relstore.StateClosed, "completed", 3000))

	got, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, relstore.StateClosed, got.State)
	require.Equal(t, "completed", got.CloseReason)
	require.Equal(t, int64(3000), got.ClosedAtUnix)
}

func TestListEventsInSequenceOrder(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")
	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{}))

	created, _ := store.Get(rel.ID)
	_, err := store.AppendEvent(context.Background(), rel.ID, created.ChainHead, testChainKey(),
		eventchain.TypeIntentAdmitted, map[string]any{}, 2000, func(r *relstore.Relationship) { r.Depth++ }, true)
	require.NoError(t, err)

	events, err := store.ListEvents(context.Background(), rel.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, eventchain.TypeRelationshipEstablished, events[0].Type)
	require.Equal(t, eventchain.TypeIntentAdmitted, events[1].Type)

	fromOne, err := store.ListEvents(context.Background(), rel.ID, 1)
	require.NoError(t, err)
	require.Len(t, fromOne, 1)
}

func TestRelationshipChainVerifiesEndToEnd(t *testing.T) {
	store := openTestStore(t)
	rel := newRelationship(t, "p1", "p2")
	require.NoError(t, store.Create(context.Background(), rel, testChainKey(), map[string]any{"a": 1}))

	created, _ := store.Get(rel.ID)
	_, err := store.AppendEvent(context.Background(), rel.ID, created.ChainHead, testChainKey(),
		eventchain.TypeIntentAdmitted, map[string]any{"risk_score": 0.9}, 2000,
		func(r *relstore.Relationship) { r.Depth++ }, true)
	require.NoError(t, err)

	events, err := store.ListEvents(context.Background(), rel.ID, 0)
	require.NoError(t, err)

	head, err := eventchain.Verify(testChainKey(), events)
	require.NoError(t, err)

	final, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, final.ChainHead, head)
}
