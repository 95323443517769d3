// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package admission implements the broker's L4 Admission Pipeline —
// the heart of the design. For every inbound intent it runs, in order,
// a fixed sequence of checks; the first failing check produces a
// rejection event and terminates.
//
// Grounded on bureau-foundation-bureau/lib/authorization/eval.go's
// ordered-step style: each check is a pure function of (state, input,
// now) returning a Result, not an exception. Unlike eval.go's
// two-outcome Decision, this pipeline has many distinct rejection
// kinds, so each step returns directly through brokererr.Kind instead
// of a shared enum — the kind carries the same role Decision/DenyReason
// play in lib/authorization.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/delivery"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/identity"
	"github.com/bureau-foundation/intentbroker/lib/lifecycle"
	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/policyreg"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

// OversightSink receives events the pipeline flags for oversight
// routing: breach attempts (the outside_window, wrong_direction, and
// closed_relationship rejection kinds) and any intent type whose
// policy entry sets OversightCopy. Implementations
// might forward to a message queue, a log shipper, or a human review
// queue — the pipeline does not care, only that Escalate is best-effort
// and non-blocking from the pipeline's perspective.
type OversightSink interface {
	Escalate(ctx context.Context, relationshipID relstore.ID, eventType string, detail map[string]any)
}

// DiscardSink is an OversightSink that drops every escalation. Useful
// as a default for tests and single-node deployments with no external
// oversight routing configured.
type DiscardSink struct{}

func (DiscardSink) Escalate(context.Context, relstore.ID, string, map[string]any) {}

// RiskContext supplies the relationship- and responder-local signals
// the risk score formula cannot derive from the intent alone.
type RiskContext interface {
	// RecentRejectionCount returns how many intent_rejected or
	// breach_attempt events the relationship has recorded within the
	// trailing window the deployment configures for risk scoring.
	RecentRejectionCount(ctx context.Context, relationshipID relstore.ID) (int, error)

	// ResponderAtCapacity reports whether responder's pending-delivery
	// queue is full. A full queue fails step 8 outright with the
	// responder_overloaded signal, independent of the numeric score.
	ResponderAtCapacity(ctx context.Context, responder participant.ID) (bool, error)
}

// Config holds the admission pipeline's dependencies.
type Config struct {
	Store       *relstore.Store
	Policies    *policyreg.Index
	Verifier    *identity.Verifier
	ChainKey    eventchain.Key
	Clock       clock.Clock
	Oversight   OversightSink
	Risk        RiskContext
	GraceWindow time.Duration

	// Lifecycle and Delivery let the pipeline seal a relationship the
	// same way an operator-initiated close does when an admission
	// check auto-closes it (depth cap, expiry): pending deliveries
	// finalized through Delivery first, then a single
	// relationship_closed event through Lifecycle.
	Lifecycle *lifecycle.Engine
	Delivery  *delivery.Manager
}

// Pipeline runs the admission checks for inbound intents and
// responses.
type Pipeline struct {
	store     *relstore.Store
	policies  *policyreg.Index
	verifier  *identity.Verifier
	chainKey  eventchain.Key
	clock     clock.Clock
	oversight OversightSink
	risk      RiskContext
	grace     time.Duration
	lifecycle *lifecycle.Engine
	delivery  *delivery.Manager
}

// New constructs a Pipeline. Oversight defaults to DiscardSink if nil.
func New(cfg Config) *Pipeline {
	oversight := cfg.Oversight
	if oversight == nil {
		oversight = DiscardSink{}
	}
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &Pipeline{
		store:     cfg.Store,
		policies:  cfg.Policies,
		verifier:  cfg.Verifier,
		chainKey:  cfg.ChainKey,
		clock:     cfg.Clock,
		oversight: oversight,
		risk:      cfg.Risk,
		grace:     grace,
		lifecycle: cfg.Lifecycle,
		delivery:  cfg.Delivery,
	}
}

// SignedIntent is an inbound intent as received off the wire: the
// canonical encoding that was signed, the detached signature, and the
// declared sender.
type SignedIntent struct {
	Sender           participant.ID
	RelationshipID   relstore.ID
	IntentType       string
	Context          string
	ContextFields    map[string]any
	Constraints      map[string]float64
	CanonicalPayload []byte
	Signature        []byte
}

// Result is the outcome of a Submit or Respond call.
type Result struct {
	Admitted  bool
	Sequence  uint64
	RiskScore float64
	Err       *brokererr.Error
}

// Submit runs the nine-step admission pipeline on an inbound intent.
// Depth and expires-at change only in step 9. A plain rejection writes
// one event and leaves depth and last-activity-at untouched; the two
// auto-close rejections (activity expiry, depth cap) additionally
// cancel pending deliveries and close the relationship through the
// lifecycle engine, whose relationship_closed append advances
// last-activity-at.
func (p *Pipeline) Submit(ctx context.Context, intent SignedIntent) (Result, error) {
	if err := p.verifier.Verify(intent.CanonicalPayload, intent.Sender, intent.Signature, participant.HumanID{}); err != nil {
		return rejectWithoutRelationship(err)
	}

	// Step 1: relationship exists and is active.
	rel, err := p.store.Get(intent.RelationshipID)
	if err != nil {
		return rejectWithoutRelationship(err)
	}
	if rel.State == relstore.StateClosed {
		p.recordBreach(ctx, rel.ID, brokererr.KindClosedRelationship, intent)
		return Result{Err: brokererr.New(brokererr.KindClosedRelationship)}, nil
	}

	// Step 2: sender direction.
	if intent.Sender != rel.Initiator {
		p.recordBreach(ctx, rel.ID, brokererr.KindWrongDirection, intent)
		return Result{Err: brokererr.New(brokererr.KindWrongDirection)}, nil
	}

	// Step 3: trust-level floor.
	entry, _ := p.policies.Lookup(intent.IntentType, policyreg.TrustLevel(rel.TrustLevel))
	if int(entry.TrustFloor) > rel.TrustLevel {
		return p.rejectIntent(ctx, rel, brokererr.KindTrustLevelInsufficient, nil)
	}

	// Step 4: timebox / appointment window.
	now := p.clock.Now()
	withinGrace, windowErr := p.checkWindow(ctx, rel, entry, now)
	if windowErr != nil {
		switch windowErr.Kind {
		case brokererr.KindOutsideWindow:
			p.recordBreach(ctx, rel.ID, brokererr.KindOutsideWindow, intent)
			return Result{Err: windowErr}, nil
		case brokererr.KindExpired:
			return p.rejectIntentAndClose(ctx, rel, brokererr.KindExpired, "expired", now)
		default:
			return p.rejectIntent(ctx, rel, windowErr.Kind, nil)
		}
	}

	// Step 5: depth cap.
	if rel.Depth >= rel.MaxDepth {
		return p.rejectIntentAndClose(ctx, rel, brokererr.KindDepthExceeded, "max_depth_reached", now)
	}

	// Step 6: consent check.
	if entry.RequiresConsent && !hasConsent(rel.ContextSnapshot, intent.IntentType) {
		return p.rejectIntent(ctx, rel, brokererr.KindConsentMissing, nil)
	}

	// Step 7: content filter.
	polIntent := policyreg.Intent{
		Context:          intent.Context,
		ContextSnapshot:  intent.ContextFields,
		Constraints:      intent.Constraints,
		CanonicalPayload: intent.CanonicalPayload,
	}
	if violation, ok := entry.EvaluateContent(polIntent); !ok {
		return p.rejectIntent(ctx, rel, brokererr.KindFilterRejected, map[string]any{"violation": violation})
	}

	// Step 8: responder capacity and risk score threshold.
	if p.risk != nil {
		atCapacity, err := p.risk.ResponderAtCapacity(ctx, rel.Responder)
		if err != nil {
			return Result{}, brokererr.Internal(err)
		}
		if atCapacity {
			rejErr := brokererr.New(brokererr.KindRiskTooLow).WithSignal("responder_overloaded")
			return p.rejectIntentWithErr(ctx, rel, rejErr, map[string]any{"risk_score": 0.0})
		}
	}
	score, riskErr := p.computeRisk(ctx, rel, entry, intent)
	if riskErr != nil {
		return Result{}, riskErr
	}
	if !entry.Admits(score) {
		rejErr := brokererr.New(brokererr.KindRiskTooLow)
		return p.rejectIntentWithErr(ctx, rel, rejErr, map[string]any{"risk_score": score})
	}

	// Step 9: admit.
	return p.admit(ctx, rel, entry, intent, score, now, withinGrace)
}

func rejectWithoutRelationship(err error) (Result, error) {
	if berr, ok := err.(*brokererr.Error); ok {
		return Result{Err: berr}, nil
	}
	return Result{}, err
}

func hasConsent(snapshot map[string]any, intentType string) bool {
	consents, ok := snapshot["consents"].(map[string]any)
	if !ok {
		return false
	}
	value, ok := consents[intentType]
	if !ok {
		return false
	}
	granted, _ := value.(bool)
	return granted
}

// checkWindow evaluates admission step 4. Returns withinGrace=true if
// the intent landed in an appointment's grace margin (tagged on the
// admitted event).
func (p *Pipeline) checkWindow(ctx context.Context, rel relstore.Relationship, entry policyreg.Entry, now time.Time) (bool, *brokererr.Error) {
	switch rel.TimeboxMode {
	case relstore.TimeboxActivityBased:
		if now.Unix() > rel.ExpiresAtUnix {
			return false, brokererr.New(brokererr.KindExpired)
		}
		return false, nil

	case relstore.TimeboxAppointmentBased:
		nowUnix := now.Unix()
		switch entry.Appointment {
		case policyreg.AppointmentStrict:
			if nowUnix < rel.AppointmentStartUnix || nowUnix > rel.AppointmentEndUnix {
				return false, brokererr.New(brokererr.KindOutsideWindow)
			}
			return false, nil
		case policyreg.AppointmentGracePeriod:
			graceSeconds := int64(p.grace.Seconds())
			if nowUnix < rel.AppointmentStartUnix-graceSeconds || nowUnix > rel.AppointmentEndUnix+graceSeconds {
				return false, brokererr.New(brokererr.KindOutsideWindow)
			}
			within := nowUnix < rel.AppointmentStartUnix || nowUnix > rel.AppointmentEndUnix
			return within, nil
		default:
			return false, nil
		}
	default:
		return false, nil
	}
}

func (p *Pipeline) computeRisk(ctx context.Context, rel relstore.Relationship, entry policyreg.Entry, intent SignedIntent) (float64, error) {
	recentRejections := 0
	if p.risk != nil {
		count, err := p.risk.RecentRejectionCount(ctx, rel.ID)
		if err != nil {
			return 0, brokererr.Internal(err)
		}
		recentRejections = count
	}

	overageCount := 0
	for key, limit := range entry.Content.CapabilityLimits {
		if declared, ok := intent.Constraints[key]; ok && declared > limit {
			overageCount++
		}
	}

	return entry.Score(policyreg.RiskSignals{
		ContextLength:          len(intent.Context),
		RecentRejectionCount:   recentRejections,
		ConstraintOverageCount: overageCount,
		IntentsAdmittedSoFar:   rel.Depth,
	}), nil
}

// rejectIntent writes a single intent_rejected event, leaving depth
// and last-activity-at untouched, and returns the rejection.
func (p *Pipeline) rejectIntent(ctx context.Context, rel relstore.Relationship, kind brokererr.Kind, detail map[string]any) (Result, error) {
	return p.rejectIntentWithErr(ctx, rel, brokererr.New(kind), detail)
}

func (p *Pipeline) rejectIntentWithErr(ctx context.Context, rel relstore.Relationship, rejErr *brokererr.Error, detail map[string]any) (Result, error) {
	payload := map[string]any{"kind": rejErr.Kind.String()}
	for k, v := range detail {
		payload[k] = v
	}
	_, err := p.store.AppendEvent(ctx, rel.ID, rel.ChainHead, p.chainKey, eventchain.TypeIntentRejected, payload, p.clock.Now().Unix(), nil, false)
	if err != nil {
		return Result{}, err
	}
	return Result{Err: rejErr}, nil
}

// rejectIntentAndClose writes the intent_rejected event, cancels any
// pending deliveries, then seals the relationship through the
// lifecycle engine. Cancellation runs before the close so the
// response_recorded finalizations it writes land before the terminal
// relationship_closed event, the same ordering Broker.Close uses.
func (p *Pipeline) rejectIntentAndClose(ctx context.Context, rel relstore.Relationship, kind brokererr.Kind, closeReason string, now time.Time) (Result, error) {
	result, err := p.rejectIntent(ctx, rel, kind, map[string]any{"auto_close_reason": closeReason})
	if err != nil {
		return result, err
	}
	if cancelErr := p.delivery.CancelRelationship(ctx, rel.ID); cancelErr != nil {
		return result, cancelErr
	}
	if closeErr := p.lifecycle.Close(ctx, rel.ID, lifecycle.CloseReason(closeReason), nil); closeErr != nil {
		return result, closeErr
	}
	return result, nil
}

func (p *Pipeline) recordBreach(ctx context.Context, id relstore.ID, kind brokererr.Kind, intent SignedIntent) {
	rel, err := p.store.Get(id)
	if err != nil {
		return
	}
	detail := map[string]any{"kind": kind.String(), "sender": intent.Sender.String()}
	_, _ = p.store.AppendEvent(ctx, id, rel.ChainHead, p.chainKey, eventchain.TypeBreachAttempt, detail, p.clock.Now().Unix(), nil, false)
	p.oversight.Escalate(ctx, id, eventchain.TypeBreachAttempt, detail)
}

func (p *Pipeline) admit(ctx context.Context, rel relstore.Relationship, entry policyreg.Entry, intent SignedIntent, score float64, now time.Time, withinGrace bool) (Result, error) {
	digest := fmt.Sprintf("%x", blake3.Sum256(intent.CanonicalPayload))
	payload := map[string]any{
		"intent_type":    intent.IntentType,
		"payload_digest": digest,
		"risk_score":     score,
		"policy_version": entry.Version,
		"within_grace":   withinGrace,
	}

	event, err := p.store.AppendEvent(ctx, rel.ID, rel.ChainHead, p.chainKey, eventchain.TypeIntentAdmitted, payload, now.Unix(), func(r *relstore.Relationship) {
		r.Depth++
		if r.TimeboxMode == relstore.TimeboxActivityBased {
			r.ExpiresAtUnix = now.Unix() + r.InactivityLimitSeconds
		}
	}, true)
	if err != nil {
		return Result{}, err
	}

	if entry.OversightCopy {
		p.oversight.Escalate(ctx, rel.ID, eventchain.TypeIntentAdmitted, payload)
	}

	return Result{Admitted: true, Sequence: event.Sequence, RiskScore: score}, nil
}
