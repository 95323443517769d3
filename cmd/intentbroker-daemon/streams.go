// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/broker"
	"github.com/bureau-foundation/intentbroker/lib/codec"
	"github.com/bureau-foundation/intentbroker/lib/delivery"
	"github.com/bureau-foundation/intentbroker/lib/participant"
)

// streamFrame is a single CBOR value written on a subscription
// stream. Type discriminates its meaning:
//
//   - "subscribed": the session is live, no payload
//   - "item": a delivered intent or response (Item populated)
//   - "heartbeat": connection liveness probe
//   - "error": terminal, the connection closes right after
//
// Grounded in style on cmd/bureau-ticket-service/subscribe.go's
// subscribeFrame discriminated union; this protocol has no snapshot
// phase because the delivery subsystem already requeues a session's
// outstanding item to the front of its own queue on Subscribe, so the
// first "item" frame received is the correct resumption point with
// no separate backfill step needed.
type streamFrame struct {
	Type    string        `cbor:"type"`
	Item    *delivery.Item `cbor:"item,omitempty"`
	Message string        `cbor:"message,omitempty"`
}

// subscribeHeartbeatInterval is how often a live subscription sends a
// heartbeat frame. Independent of the delivery manager's own
// heartbeat-timeout window (lib/delivery.Config.HeartbeatInterval):
// that window governs when the server gives up on a session that
// stopped calling Session.Heartbeat, this ticker is what drives those
// calls from the transport side.
const subscribeHeartbeatInterval = 15 * time.Second

// registerStreams wires subscribe_responder and subscribe_initiator
// to delivery sessions opened on b. The two actions differ only in
// which role the subscribing participant plays; the delivery
// subsystem itself has no notion of role, only of a participant.ID's
// queue.
func registerStreams(server *socketServer, b broker.API) {
	server.handleStream("subscribe_responder", func(ctx context.Context, conn net.Conn, raw []byte) {
		runSubscription(ctx, conn, raw, b.SubscribeAsResponder)
	})
	server.handleStream("subscribe_initiator", func(ctx context.Context, conn net.Conn, raw []byte) {
		runSubscription(ctx, conn, raw, b.SubscribeAsInitiator)
	})
}

func runSubscription(ctx context.Context, conn net.Conn, raw []byte, open func(context.Context, participant.ID) *delivery.Session) {
	encoder := codec.NewEncoder(conn)

	var req subscribeRequest
	if err := codec.Unmarshal(raw, &req); err != nil {
		encoder.Encode(streamFrame{Type: "error", Message: "invalid request: " + err.Error()})
		return
	}

	session := open(ctx, req.Participant)
	defer session.Close()

	if err := encoder.Encode(streamFrame{Type: "subscribed"}); err != nil {
		return
	}

	heartbeat := time.NewTicker(subscribeHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case item, ok := <-session.Events():
			if !ok {
				return
			}
			if err := encoder.Encode(streamFrame{Type: "item", Item: &item}); err != nil {
				return
			}

		case <-heartbeat.C:
			session.Heartbeat()
			if err := encoder.Encode(streamFrame{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}
