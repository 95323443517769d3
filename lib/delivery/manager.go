// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery implements the broker's L7 Delivery Subsystem:
// per-responder subscriptions, at-most-once intent delivery with
// acknowledgment, bounded backpressure, and cancellation-on-close.
//
// Grounded on bureau-foundation-bureau/cmd/bureau-ticket-service's
// subscriber registry (subscribe.go): a per-entity slice of live
// subscribers reached under a single mutex, with non-blocking sends
// so a slow or dead consumer never stalls the writer. This package
// narrows that fanout-to-many shape to exactly one live session per
// responder (the delivery contract is at-most-once, not broadcast),
// and layers an acknowledgment timer — grounded on
// bureau-foundation-bureau/cmd/bureau-ticket-service/gate.go's
// clock.AfterFunc-scheduled timer style — on top.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

// Item is one admitted intent (or a routed response) awaiting delivery
// to a subscription.
type Item struct {
	RelationshipID relstore.ID
	Sequence       uint64
	Kind           string // "intent" or "response"
	IntentType     string
	Payload        map[string]any
}

// Finalizer appends a system-generated response_recorded event for an
// intent the delivery subsystem could not get to the responder.
// *admission.Pipeline satisfies this via FinalizeRejected.
type Finalizer interface {
	FinalizeRejected(ctx context.Context, relationshipID relstore.ID, intentSequence uint64, reason string) error
}

// Config holds the delivery manager's dependencies and tunables.
type Config struct {
	Clock             clock.Clock
	Finalizer         Finalizer
	QueueCapacity     int           // default 64
	AckTimeout        time.Duration // default 10s
	HeartbeatInterval time.Duration // default 30s
	Logger            *slog.Logger
}

// Manager owns every responder's pending queue and live session, and
// drives the at-most-once delivery contract across them.
type Manager struct {
	clock             clock.Clock
	finalizer         Finalizer
	capacity          int
	ackTimeout        time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger

	mu         sync.Mutex
	responders map[string]*responderState
}

// New constructs a Manager. Zero-value tunables fall back to the
// defaults named in the delivery subsystem's design (64-item queues,
// 10s ack timeout, 30s heartbeat interval).
func New(cfg Config) *Manager {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 64
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		clock:             cfg.Clock,
		finalizer:         cfg.Finalizer,
		capacity:          capacity,
		ackTimeout:        ackTimeout,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
		responders:        make(map[string]*responderState),
	}
}

// pendingItem is an Item sitting in a responder's queue, or currently
// in flight to its session.
type pendingItem struct {
	item     Item
	requeued bool
}

// responderState holds one responder's queue, its single live
// session (if any), and the in-flight item awaiting acknowledgment.
type responderState struct {
	mu            sync.Mutex
	pending       []pendingItem
	session       *Session
	inFlight      *pendingItem
	ackTimer      *clock.Timer
	lastHeartbeat time.Time
}

func (m *Manager) stateFor(responder participant.ID) *responderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.responders[responder.String()]
	if !ok {
		state = &responderState{}
		m.responders[responder.String()] = state
	}
	return state
}

// SetFinalizer attaches the Finalizer after construction. Exists for
// the wiring cycle between the admission pipeline (which needs a
// RiskContext backed by the delivery manager) and the delivery manager
// (which needs the pipeline as its Finalizer): construct the manager
// first with no finalizer, build the pipeline against it, then call
// SetFinalizer once the pipeline exists. Not safe to call after the
// manager has started handling deliveries.
func (m *Manager) SetFinalizer(finalizer Finalizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizer = finalizer
}

// ResponderAtCapacity reports whether responder's pending queue is
// already full. lib/broker's admission.RiskContext adapter forwards
// ResponderAtCapacity here so the admission pipeline can reject step 8
// with responder_overloaded before ever calling Enqueue.
func (m *Manager) ResponderAtCapacity(ctx context.Context, responder participant.ID) (bool, error) {
	state := m.stateFor(responder)
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.pending) >= m.capacity, nil
}

// Enqueue admits item into responder's queue and attempts immediate
// delivery if a session is live and idle. Returns ErrQueueFull if the
// queue has no room — callers should not reach this path often, since
// ResponderAtCapacity is meant to reject admission before enqueueing,
// but the check is re-applied here to stay correct under races.
func (m *Manager) Enqueue(responder participant.ID, item Item) error {
	state := m.stateFor(responder)
	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.pending) >= m.capacity {
		return ErrQueueFull
	}
	state.pending = append(state.pending, pendingItem{item: item})
	m.deliverNextLocked(responder, state)
	return nil
}

// deliverNextLocked pops the head of the queue and hands it to the
// live session, if one is attached and idle. Must be called with
// state.mu held.
func (m *Manager) deliverNextLocked(responder participant.ID, state *responderState) {
	if state.session == nil || state.inFlight != nil || len(state.pending) == 0 {
		return
	}

	next := state.pending[0]
	select {
	case state.session.events <- next.item:
		state.pending = state.pending[1:]
		state.inFlight = &next
		sequence := next.item.Sequence
		state.ackTimer = m.clock.AfterFunc(m.ackTimeout, func() {
			m.handleAckTimeout(responder, sequence)
		})
	default:
		// Session's channel is full, meaning a delivery is already
		// outstanding despite inFlight being nil — treat as not ready
		// and retry on the next Enqueue/Ack/heartbeat tick.
	}
}

// handleAckTimeout fires when an in-flight item goes unacknowledged
// for the configured window. The first timeout requeues the item for
// one more delivery attempt; a second timeout finalizes it as
// delivery_timeout.
func (m *Manager) handleAckTimeout(responder participant.ID, sequence uint64) {
	state := m.stateFor(responder)
	state.mu.Lock()
	if state.inFlight == nil || state.inFlight.item.Sequence != sequence {
		state.mu.Unlock()
		return
	}
	expired := *state.inFlight
	state.inFlight = nil

	if !expired.requeued {
		expired.requeued = true
		state.pending = append([]pendingItem{expired}, state.pending...)
		m.deliverNextLocked(responder, state)
		state.mu.Unlock()
		return
	}
	m.deliverNextLocked(responder, state)
	state.mu.Unlock()

	if m.finalizer != nil {
		if err := m.finalizer.FinalizeRejected(context.Background(), expired.item.RelationshipID, expired.item.Sequence, "delivery_timeout"); err != nil {
			m.logger.Error("delivery: finalize on ack timeout failed", "error", err)
		}
	}
}

// Ack acknowledges receipt of the in-flight item with the given
// sequence. Leaves the intent in a delivered-but-unanswered state;
// only a subsequent response finalizes it.
func (m *Manager) Ack(responder participant.ID, sequence uint64) {
	state := m.stateFor(responder)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.inFlight == nil || state.inFlight.item.Sequence != sequence {
		return
	}
	if state.ackTimer != nil {
		state.ackTimer.Stop()
		state.ackTimer = nil
	}
	state.inFlight = nil
	m.deliverNextLocked(responder, state)
}

// ErrQueueFull is returned by Enqueue when a responder's pending
// queue has no room.
var ErrQueueFull = errors.New("delivery: responder queue is full")

// CancelRelationship finalizes every pending or in-flight item
// belonging to relationshipID across every responder, with reason
// "relationship_closed". Callers run this before sealing the
// relationship with lifecycle.Engine.Close, so the response_recorded
// events it writes land before the terminal relationship_closed event
// rather than after it.
func (m *Manager) CancelRelationship(ctx context.Context, relationshipID relstore.ID) error {
	m.mu.Lock()
	states := make([]*responderState, 0, len(m.responders))
	for _, state := range m.responders {
		states = append(states, state)
	}
	m.mu.Unlock()

	var toFinalize []uint64
	for _, state := range states {
		state.mu.Lock()
		remaining := state.pending[:0]
		for _, pending := range state.pending {
			if pending.item.RelationshipID == relationshipID {
				toFinalize = append(toFinalize, pending.item.Sequence)
			} else {
				remaining = append(remaining, pending)
			}
		}
		state.pending = remaining

		if state.inFlight != nil && state.inFlight.item.RelationshipID == relationshipID {
			if state.ackTimer != nil {
				state.ackTimer.Stop()
				state.ackTimer = nil
			}
			toFinalize = append(toFinalize, state.inFlight.item.Sequence)
			state.inFlight = nil
		}
		state.mu.Unlock()
	}

	if m.finalizer == nil {
		return nil
	}
	for _, sequence := range toFinalize {
		if err := m.finalizer.FinalizeRejected(ctx, relationshipID, sequence, "relationship_closed"); err != nil {
			return err
		}
	}
	return nil
}
