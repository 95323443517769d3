// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"

	"github.com/bureau-foundation/intentbroker/lib/participant"
)

// sessionChannelSize is the buffer depth for a session's event
// channel. One is enough because the delivery contract only ever has
// one item in flight to a responder at a time.
const sessionChannelSize = 1

// Session represents one connected subscription stream for a
// responder. A responder has at most one live Session; subscribing
// again replaces the old one, returning its unacknowledged in-flight
// item (if any) to the pending queue.
type Session struct {
	responder participant.ID
	events    chan Item
	manager   *Manager
}

// Events returns the channel items are pushed to as they become ready
// for delivery.
func (s *Session) Events() <-chan Item { return s.events }

// Heartbeat records that the session is still alive. Callers should
// invoke this on every transport-level keepalive; two missed intervals
// close the session.
func (s *Session) Heartbeat() {
	state := s.manager.stateFor(s.responder)
	state.mu.Lock()
	state.lastHeartbeat = s.manager.clock.Now()
	state.mu.Unlock()
}

// Close detaches the session. Any in-flight unacknowledged item is
// returned to the front of the pending queue for the next subscriber.
func (s *Session) Close() {
	s.manager.detach(s.responder, s)
}

// Subscribe attaches a new live session for responder, replacing any
// previous one. The previous session's in-flight item, if any, is
// requeued so the new session picks it up first — preserving
// intra-relationship delivery order across a reconnect.
func (m *Manager) Subscribe(ctx context.Context, responder participant.ID) *Session {
	state := m.stateFor(responder)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.inFlight != nil {
		state.pending = append([]pendingItem{*state.inFlight}, state.pending...)
		state.inFlight = nil
		if state.ackTimer != nil {
			state.ackTimer.Stop()
			state.ackTimer = nil
		}
	}

	session := &Session{
		responder: responder,
		events:    make(chan Item, sessionChannelSize),
		manager:   m,
	}
	state.session = session
	state.lastHeartbeat = m.clock.Now()
	m.deliverNextLocked(responder, state)
	return session
}

// detach clears session as the live session for responder, if it
// still is one, and requeues any in-flight item.
func (m *Manager) detach(responder participant.ID, session *Session) {
	state := m.stateFor(responder)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.session != session {
		return
	}
	state.session = nil
	if state.inFlight != nil {
		state.pending = append([]pendingItem{*state.inFlight}, state.pending...)
		state.inFlight = nil
	}
	if state.ackTimer != nil {
		state.ackTimer.Stop()
		state.ackTimer = nil
	}
}

// RunHeartbeatLoop closes any session that has missed two consecutive
// heartbeat intervals, requeuing its outstanding item. Intended to run
// in its own goroutine for the broker process's lifetime.
func (m *Manager) RunHeartbeatLoop(ctx context.Context) {
	ticker := m.clock.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepStaleSessions()
		}
	}
}

func (m *Manager) sweepStaleSessions() {
	m.mu.Lock()
	states := make(map[string]*responderState, len(m.responders))
	for key, state := range m.responders {
		states[key] = state
	}
	m.mu.Unlock()

	threshold := 2 * m.heartbeatInterval
	now := m.clock.Now()
	for _, state := range states {
		state.mu.Lock()
		session := state.session
		stale := session != nil && now.Sub(state.lastHeartbeat) > threshold
		state.mu.Unlock()

		if stale {
			session.Close()
		}
	}
}
