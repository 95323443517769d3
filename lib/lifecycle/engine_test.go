// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/lifecycle"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
	"github.com/bureau-foundation/intentbroker/lib/sqlitepool"
)

func testEngine(t *testing.T, now time.Time) (*lifecycle.Engine, *relstore.Store, *clock.FakeClock) {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := relstore.Open(context.Background(), pool)
	require.NoError(t, err)

	var material [32]byte
	copy(material[:], []byte("lifecycle-engine-test-chain-key!"))
	key := eventchain.NewKey(material)
	fakeClock := clock.Fake(now)

	engine := lifecycle.New(lifecycle.Config{Store: store, ChainKey: key, Clock: fakeClock})
	return engine, store, fakeClock
}

func mustID(t *testing.T, raw string) participant.ID {
	t.Helper()
	id, err := participant.NewID(raw)
	require.NoError(t, err)
	return id
}

func makeRelationship(t *testing.T, initiator, responder string, now time.Time) relstore.Relationship {
	t.Helper()
	return relstore.Relationship{
		ID:                     relstore.NewRandomID(func() string { return "rel-" + initiator + "-" + responder }),
		Initiator:              mustID(t, initiator),
		Responder:              mustID(t, responder),
		TrustLevel:             1,
		MaxDepth:               10,
		TimeboxMode:            relstore.TimeboxActivityBased,
		InactivityLimitSeconds: 3600,
		CreatedAtUnix:          now.Unix(),
		LastActivityAtUnix:     now.Unix(),
		ExpiresAtUnix:          now.Unix() + 3600,
		ContextSnapshot:        map[string]any{},
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, store, _ := testEngine(t, now)
	rel := makeRelationship(t, "p1", "p2", now)
	require.NoError(t, storeCreate(t, store, rel))

	require.NoError(t, engine.Close(context.Background(), rel.ID, lifecycle.ReasonUser, nil))
	got, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, relstore.StateClosed, got.State)

	require.NoError(t, engine.Close(context.Background(), rel.ID, lifecycle.ReasonCompleted, nil))
	got2, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, "user", got2.CloseReason)
}

func TestRunSweepClosesExpiredActivityBasedRelationships(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, store, fakeClock := testEngine(t, now)
	rel := makeRelationship(t, "p1", "p2", now)
	require.NoError(t, storeCreate(t, store, rel))

	fakeClock.Advance(2 * time.Hour)
	closed, err := engine.RunSweep(context.Background(), store.ActiveRelationshipIDs())
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	got, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, relstore.StateClosed, got.State)
	require.Equal(t, "expired", got.CloseReason)
}

func TestRunSweepLeavesUnexpiredRelationshipsActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, store, _ := testEngine(t, now)
	rel := makeRelationship(t, "p1", "p2", now)
	require.NoError(t, storeCreate(t, store, rel))

	closed, err := engine.RunSweep(context.Background(), store.ActiveRelationshipIDs())
	require.NoError(t, err)
	require.Equal(t, 0, closed)

	got, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, relstore.StateActive, got.State)
}

func TestContinueFromInheritsOpenItems(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, store, _ := testEngine(t, now)
	rel := makeRelationship(t, "p1", "p2", now)
	rel.ContextSnapshot = map[string]any{"open_items": []any{"task-1", "task-2"}}
	require.NoError(t, storeCreate(t, store, rel))

	require.NoError(t, engine.Close(context.Background(), rel.ID, lifecycle.ReasonUser, map[string]any{"reason": "incomplete"}))

	fresh := makeRelationship(t, "p1", "p2", now)
	next, err := engine.ContinueFrom(context.Background(), rel.ID, fresh, func() string { return "rel-continuation" })
	require.NoError(t, err)
	require.Equal(t, rel.ID, next.ContinuationOf)
	require.Equal(t, []any{"task-1", "task-2"}, next.ContextSnapshot["open_items"])

	predecessor, err := store.Get(rel.ID)
	require.NoError(t, err)
	require.Equal(t, relstore.StateClosed, predecessor.State)
}

func TestContinueFromRejectsActivePredecessor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, store, _ := testEngine(t, now)
	rel := makeRelationship(t, "p1", "p2", now)
	require.NoError(t, storeCreate(t, store, rel))

	fresh := makeRelationship(t, "p1", "p2", now)
	_, err := engine.ContinueFrom(context.Background(), rel.ID, fresh, func() string { return "rel-continuation" })
	require.ErrorIs(t, err, brokererr.New(brokererr.KindPredecessorActive))
}

func TestContinueFromRejectsMismatchedParticipants(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, store, _ := testEngine(t, now)
	rel := makeRelationship(t, "p1", "p2", now)
	require.NoError(t, storeCreate(t, store, rel))
	require.NoError(t, engine.Close(context.Background(), rel.ID, lifecycle.ReasonCompleted, nil))

	fresh := makeRelationship(t, "p1", "p3", now)
	_, err := engine.ContinueFrom(context.Background(), rel.ID, fresh, func() string { return "rel-continuation" })
	require.ErrorIs(t, err, brokererr.New(brokererr.KindParticipantMismatch))
}

func storeCreate(t *testing.T, store *relstore.Store, rel relstore.Relationship) error {
	t.Helper()
	var material [32]byte
	copy(material[:], []byte("lifecycle-engine-test-chain-key!"))
	key := eventchain.NewKey(material)
	return store.Create(context.Background(), rel, key, map[string]any{"initiator": rel.Initiator.String()})
}
