// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle implements the broker's L6 Lifecycle Engine: the
// relationship state machine (active/closed), the periodic sweep that
// flips expired activity-based relationships between admissions, and
// the re-engagement flow that lets a fresh relationship inherit
// identity from a closed predecessor.
//
// Grounded on bureau-foundation-bureau/cmd/bureau-telemetry-relay's
// runShipper: a context-cancellable goroutine driven by a clock.Clock
// ticker rather than the stdlib time package directly, so the sweep
// interval is deterministically testable with clock.Fake.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

// Engine owns the active/closed state machine for relationships: the
// explicit Close operation, the ContinueFrom re-engagement flow, and
// the periodic sweep.
type Engine struct {
	store    *relstore.Store
	chainKey eventchain.Key
	clock    clock.Clock
	logger   *slog.Logger
}

// Config holds the lifecycle engine's dependencies.
type Config struct {
	Store    *relstore.Store
	ChainKey eventchain.Key
	Clock    clock.Clock
	Logger   *slog.Logger
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:    cfg.Store,
		chainKey: cfg.ChainKey,
		clock:    cfg.Clock,
		logger:   logger,
	}
}

// CloseReason names the distinct ways a relationship can close, per
// the state diagram's closure edges (auto-close triggers are tagged
// with their own reasons directly by the admission pipeline; this type
// enumerates the reasons the lifecycle engine itself assigns through
// an explicit Close call).
type CloseReason string

const (
	ReasonCompleted CloseReason = "completed"
	ReasonUser      CloseReason = "user"
	ReasonError     CloseReason = "error"
	ReasonBreach    CloseReason = "breach"
)

// Close ends an active relationship with the given reason. Idempotent:
// closing an already-closed relationship succeeds without writing a
// second relationship_closed event.
func (e *Engine) Close(ctx context.Context, id relstore.ID, reason CloseReason, summary map[string]any) error {
	rel, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if rel.State == relstore.StateClosed {
		return nil
	}

	now := e.clock.Now()
	payload := map[string]any{"reason": string(reason)}
	for k, v := range summary {
		payload[k] = v
	}

	_, err = e.store.AppendEvent(ctx, id, rel.ChainHead, e.chainKey, eventchain.TypeRelationshipClosed, payload, now.Unix(), nil, true)
	if err != nil {
		return err
	}
	return e.store.UpdateState(ctx, id, relstore.StateClosed, string(reason), now.Unix())
}

// ContinueFrom implements the re-engagement flow: a predecessor
// relationship must exist, be closed, and share the same initiator and
// responder as the caller supplies. Only the predecessor's
// context_snapshot.open_items field carries forward into the new
// relationship's genesis event; everything else is the caller's fresh
// configuration.
func (e *Engine) ContinueFrom(ctx context.Context, predecessorID relstore.ID, fresh relstore.Relationship, idGenerator func() string) (relstore.Relationship, error) {
	predecessor, err := e.store.Get(predecessorID)
	if err != nil {
		return relstore.Relationship{}, err
	}
	if predecessor.State != relstore.StateClosed {
		return relstore.Relationship{}, brokererr.New(brokererr.KindPredecessorActive)
	}
	if predecessor.Initiator != fresh.Initiator || predecessor.Responder != fresh.Responder {
		return relstore.Relationship{}, brokererr.New(brokererr.KindParticipantMismatch)
	}

	openItems := predecessor.ContextSnapshot["open_items"]

	fresh.ID = relstore.NewRandomID(idGenerator)
	fresh.ContinuationOf = predecessorID
	if fresh.ContextSnapshot == nil {
		fresh.ContextSnapshot = map[string]any{}
	}
	if openItems != nil {
		fresh.ContextSnapshot["open_items"] = openItems
	}

	genesisPayload := map[string]any{
		"initiator":       fresh.Initiator.String(),
		"responder":       fresh.Responder.String(),
		"trust_level":     fresh.TrustLevel,
		"continuation_of": predecessorID.String(),
		"open_items":      openItems,
	}

	if err := e.store.Create(ctx, fresh, e.chainKey, genesisPayload); err != nil {
		return relstore.Relationship{}, err
	}
	return fresh, nil
}

// RunSweep scans every active relationship and auto-closes the
// activity-based ones whose expiry has already passed, then returns
// how many it closed. Safe to call repeatedly; relationships the sweep
// has already closed are skipped on the next pass because UpdateState
// makes StateClosed durable.
//
// The sweep is deliberately a plain scan rather than an indexed query:
// admission-time enforcement (Submit's step 4) remains the
// authoritative check, so the sweep only needs to catch relationships
// that went quiet between admissions with no intent to trigger the
// inline check.
func (e *Engine) RunSweep(ctx context.Context, ids []relstore.ID) (int, error) {
	now := e.clock.Now()
	closed := 0
	for _, id := range ids {
		rel, err := e.store.Get(id)
		if err != nil {
			if brokerErr, ok := err.(*brokererr.Error); ok && brokerErr.Kind == brokererr.KindUnknownRelationship {
				continue
			}
			return closed, err
		}
		if rel.State != relstore.StateActive {
			continue
		}
		if rel.TimeboxMode != relstore.TimeboxActivityBased {
			continue
		}
		if now.Unix() < rel.ExpiresAtUnix {
			continue
		}

		if err := e.Close(ctx, id, "expired", map[string]any{"swept_at": now.Unix()}); err != nil {
			return closed, fmt.Errorf("lifecycle: sweep close %s: %w", id.String(), err)
		}
		closed++
	}
	return closed, nil
}

// RelationshipLister supplies the set of relationship IDs RunSweep
// should examine on each tick. The relstore secondary index already
// holds every relationship in memory; callers typically wire this to
// a method that snapshots the index's keys.
type RelationshipLister interface {
	ActiveRelationshipIDs() []relstore.ID
}

// RunSweepLoop drives RunSweep on a clock-based ticker until ctx is
// cancelled. Intended to run in its own goroutine for the broker
// process's lifetime.
func (e *Engine) RunSweepLoop(ctx context.Context, lister RelationshipLister, interval time.Duration) {
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := e.RunSweep(ctx, lister.ActiveRelationshipIDs())
			if err != nil {
				e.logger.Error("lifecycle sweep failed", "error", err)
				continue
			}
			if closed > 0 {
				e.logger.Info("lifecycle sweep closed expired relationships", "count", closed)
			}
		}
	}
}
