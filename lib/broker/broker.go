// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker wires L1-L7 together behind the coordination core's
// external operations: establish, send_intent, respond, close,
// continue_from, get_relationship, get_events, and the two
// subscription roles.
//
// Grounded on bureau-foundation-bureau/cmd/bureau-daemon's Daemon
// type: one struct holding every subsystem's handle, constructed once
// at startup and passed to the transport layer, rather than a
// service-locator or global registry.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/intentbroker/lib/admission"
	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/delivery"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/lifecycle"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/policyreg"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

// Config holds every subsystem handle the broker wires together.
// Callers (cmd/intentbroker-daemon, and tests) construct each
// subsystem independently and hand the assembled set here.
type Config struct {
	Store     *relstore.Store
	Policies  *policyreg.Index
	Pipeline  *admission.Pipeline
	Lifecycle *lifecycle.Engine
	Delivery  *delivery.Manager
	ChainKey  eventchain.Key
	Clock     clock.Clock
	Logger    *slog.Logger

	// IDGenerator produces relationship IDs. Defaults to
	// uuid.NewString.
	IDGenerator func() string
}

// Broker implements the coordination core's external operations over
// the wired L1-L7 subsystems.
type Broker struct {
	store       *relstore.Store
	policies    *policyreg.Index
	pipeline    *admission.Pipeline
	lifecycle   *lifecycle.Engine
	delivery    *delivery.Manager
	chainKey    eventchain.Key
	clock       clock.Clock
	logger      *slog.Logger
	idGenerator func() string
}

// New constructs a Broker from a fully-wired Config.
func New(cfg Config) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	idGenerator := cfg.IDGenerator
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	return &Broker{
		store:       cfg.Store,
		policies:    cfg.Policies,
		pipeline:    cfg.Pipeline,
		lifecycle:   cfg.Lifecycle,
		delivery:    cfg.Delivery,
		chainKey:    cfg.ChainKey,
		clock:       cfg.Clock,
		logger:      logger,
		idGenerator: idGenerator,
	}
}

// EstablishRequest describes a new relationship to create.
type EstablishRequest struct {
	Initiator participant.ID
	Responder participant.ID
	TrustLevel int
	MaxDepth   int

	// Exactly one of the two timebox shapes applies.
	InactivityLimit   time.Duration
	AppointmentStart  time.Time
	AppointmentEnd    time.Time
	AppointmentBased  bool

	ContextSnapshot map[string]any
}

// API is the coordination core's external operation set, realized
// transport-agnostically: cmd/intentbroker-daemon is the one concrete
// transport today (CBOR over a Unix domain socket), but nothing in
// this package or its callers assumes that; a future transport binds
// against API the same way the socket server does.
type API interface {
	Establish(ctx context.Context, req EstablishRequest) (relstore.Relationship, error)
	ContinueFrom(ctx context.Context, predecessorID relstore.ID, req EstablishRequest) (relstore.Relationship, error)
	SendIntent(ctx context.Context, intent admission.SignedIntent) (admission.Result, error)
	Respond(ctx context.Context, response admission.SignedResponse) (admission.Result, error)
	Ack(responder participant.ID, sequence uint64)
	Close(ctx context.Context, id relstore.ID, reason lifecycle.CloseReason, summary map[string]any) error
	GetRelationship(id relstore.ID) (relstore.Relationship, error)
	GetEvents(ctx context.Context, id relstore.ID, fromSequence uint64) ([]eventchain.Event, error)
	SubscribeAsResponder(ctx context.Context, responder participant.ID) *delivery.Session
	SubscribeAsInitiator(ctx context.Context, initiator participant.ID) *delivery.Session
}

var _ API = (*Broker)(nil)

// Establish creates a new active relationship and its genesis
// relationship_established event.
func (b *Broker) Establish(ctx context.Context, req EstablishRequest) (relstore.Relationship, error) {
	now := b.clock.Now()
	rel := relstore.Relationship{
		ID:              relstore.NewRandomID(b.idGenerator),
		Initiator:       req.Initiator,
		Responder:       req.Responder,
		TrustLevel:      req.TrustLevel,
		State:           relstore.StateActive,
		MaxDepth:        req.MaxDepth,
		CreatedAtUnix:   now.Unix(),
		ContextSnapshot: req.ContextSnapshot,
	}

	if req.AppointmentBased {
		rel.TimeboxMode = relstore.TimeboxAppointmentBased
		rel.AppointmentStartUnix = req.AppointmentStart.Unix()
		rel.AppointmentEndUnix = req.AppointmentEnd.Unix()
	} else {
		rel.TimeboxMode = relstore.TimeboxActivityBased
		rel.InactivityLimitSeconds = int64(req.InactivityLimit.Seconds())
		rel.ExpiresAtUnix = now.Unix() + rel.InactivityLimitSeconds
	}

	genesisPayload := map[string]any{
		"initiator":   req.Initiator.String(),
		"responder":   req.Responder.String(),
		"trust_level": req.TrustLevel,
	}
	if err := b.store.Create(ctx, rel, b.chainKey, genesisPayload); err != nil {
		return relstore.Relationship{}, err
	}
	return rel, nil
}

// SendIntent runs the admission pipeline on intent and, if admitted,
// enqueues it for delivery to the relationship's responder.
func (b *Broker) SendIntent(ctx context.Context, intent admission.SignedIntent) (admission.Result, error) {
	result, err := b.pipeline.Submit(ctx, intent)
	if err != nil || !result.Admitted {
		return result, err
	}

	rel, err := b.store.Get(intent.RelationshipID)
	if err != nil {
		return result, err
	}
	item := delivery.Item{
		RelationshipID: intent.RelationshipID,
		Sequence:       result.Sequence,
		Kind:           "intent",
		IntentType:     intent.IntentType,
		Payload: map[string]any{
			"context":        intent.Context,
			"context_fields": intent.ContextFields,
		},
	}
	if err := b.delivery.Enqueue(rel.Responder, item); err != nil {
		b.logger.Error("broker: enqueueing admitted intent for delivery failed", "error", err, "relationship_id", rel.ID.String())
	}
	return result, nil
}

// Respond runs the response pipeline and, on success, routes the
// response to the relationship's initiator.
func (b *Broker) Respond(ctx context.Context, response admission.SignedResponse) (admission.Result, error) {
	result, err := b.pipeline.Respond(ctx, response)
	if err != nil || !result.Admitted {
		return result, err
	}

	rel, err := b.store.Get(response.RelationshipID)
	if err != nil {
		return result, err
	}
	item := delivery.Item{
		RelationshipID: response.RelationshipID,
		Sequence:       result.Sequence,
		Kind:           "response",
		Payload: map[string]any{
			"intent_sequence": response.IntentSequence,
			"outcome":         response.Outcome,
			"response":        response.ResponsePayload,
		},
	}
	if err := b.delivery.Enqueue(rel.Initiator, item); err != nil {
		b.logger.Error("broker: enqueueing response for delivery failed", "error", err, "relationship_id", rel.ID.String())
	}
	return result, nil
}

// Ack acknowledges receipt of a delivered item by the subscribing
// responder or initiator.
func (b *Broker) Ack(responder participant.ID, sequence uint64) {
	b.delivery.Ack(responder, sequence)
}

// Close ends a relationship and cancels any outstanding deliveries
// for it. Cancellation runs first so every response_recorded
// finalization it writes lands before the terminal relationship_closed
// event, keeping relationship_closed the last event on the chain.
func (b *Broker) Close(ctx context.Context, id relstore.ID, reason lifecycle.CloseReason, summary map[string]any) error {
	if err := b.delivery.CancelRelationship(ctx, id); err != nil {
		return err
	}
	return b.lifecycle.Close(ctx, id, reason, summary)
}

// ContinueFrom closes no relationship itself but requires predecessorID
// be already closed; it creates a fresh relationship inheriting open
// items from that predecessor.
func (b *Broker) ContinueFrom(ctx context.Context, predecessorID relstore.ID, req EstablishRequest) (relstore.Relationship, error) {
	now := b.clock.Now()
	fresh := relstore.Relationship{
		Initiator:       req.Initiator,
		Responder:       req.Responder,
		TrustLevel:      req.TrustLevel,
		State:           relstore.StateActive,
		MaxDepth:        req.MaxDepth,
		CreatedAtUnix:   now.Unix(),
		ContextSnapshot: req.ContextSnapshot,
	}
	if fresh.ContextSnapshot == nil {
		fresh.ContextSnapshot = map[string]any{}
	}

	if req.AppointmentBased {
		fresh.TimeboxMode = relstore.TimeboxAppointmentBased
		fresh.AppointmentStartUnix = req.AppointmentStart.Unix()
		fresh.AppointmentEndUnix = req.AppointmentEnd.Unix()
	} else {
		fresh.TimeboxMode = relstore.TimeboxActivityBased
		fresh.InactivityLimitSeconds = int64(req.InactivityLimit.Seconds())
		fresh.ExpiresAtUnix = now.Unix() + fresh.InactivityLimitSeconds
	}

	return b.lifecycle.ContinueFrom(ctx, predecessorID, fresh, b.idGenerator)
}

// Policies returns the policy registry index, for operator
// introspection (cmd/intentbroker-ctl).
func (b *Broker) Policies() *policyreg.Index {
	return b.policies
}

// GetRelationship returns the current record for id.
func (b *Broker) GetRelationship(id relstore.ID) (relstore.Relationship, error) {
	return b.store.Get(id)
}

// GetEvents returns id's events from fromSequence onward.
func (b *Broker) GetEvents(ctx context.Context, id relstore.ID, fromSequence uint64) ([]eventchain.Event, error) {
	return b.store.ListEvents(ctx, id, fromSequence)
}

// SubscribeAsResponder opens a delivery session for participant acting
// as a responder. The same Manager serves both roles: delivery has no
// notion of role, only of which participant.ID a queue belongs to.
func (b *Broker) SubscribeAsResponder(ctx context.Context, responder participant.ID) *delivery.Session {
	return b.delivery.Subscribe(ctx, responder)
}

// SubscribeAsInitiator opens a delivery session for participant acting
// as an initiator (receiving routed responses).
func (b *Broker) SubscribeAsInitiator(ctx context.Context, initiator participant.ID) *delivery.Session {
	return b.delivery.Subscribe(ctx, initiator)
}

// riskContext implements admission.RiskContext by combining the
// relationship store's event history with the delivery subsystem's
// queue occupancy. Kept unexported: this is glue specific to how
// Broker wires admission and delivery together, not a reusable type.
type riskContext struct {
	store    *relstore.Store
	delivery *delivery.Manager
	clock    clock.Clock
	window   time.Duration
}

// NewRiskContext builds the admission.RiskContext the pipeline
// should be configured with, once Store and Delivery both exist.
func NewRiskContext(store *relstore.Store, deliveryManager *delivery.Manager, clk clock.Clock, window time.Duration) admission.RiskContext {
	if window <= 0 {
		window = time.Hour
	}
	return &riskContext{store: store, delivery: deliveryManager, clock: clk, window: window}
}

func (r *riskContext) RecentRejectionCount(ctx context.Context, relationshipID relstore.ID) (int, error) {
	events, err := r.store.ListEvents(ctx, relationshipID, 0)
	if err != nil {
		return 0, err
	}
	cutoff := r.clock.Now().Add(-r.window)
	count := 0
	for _, event := range events {
		if event.Type != eventchain.TypeIntentRejected && event.Type != eventchain.TypeBreachAttempt {
			continue
		}
		if event.Timestamp.Before(cutoff) {
			continue
		}
		count++
	}
	return count, nil
}

func (r *riskContext) ResponderAtCapacity(ctx context.Context, responder participant.ID) (bool, error) {
	return r.delivery.ResponderAtCapacity(ctx, responder)
}

// logOversightSink forwards escalations to structured logs. Deployments
// that need a human review queue or message-bus forwarding can supply
// their own admission.OversightSink instead; this one is the
// zero-configuration default.
type logOversightSink struct {
	logger *slog.Logger
}

// NewLogOversightSink returns an admission.OversightSink that logs
// every escalation at warn level.
func NewLogOversightSink(logger *slog.Logger) admission.OversightSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &logOversightSink{logger: logger}
}

func (s *logOversightSink) Escalate(ctx context.Context, relationshipID relstore.ID, eventType string, detail map[string]any) {
	s.logger.Warn("broker: oversight escalation",
		"relationship_id", relationshipID.String(),
		"event_type", eventType,
		"detail", fmt.Sprintf("%v", detail))
}
