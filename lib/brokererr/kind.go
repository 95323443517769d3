// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package brokererr defines the closed set of error kinds the broker
// surfaces to callers. Every kind maps to exactly one admission-
// pipeline step or lifecycle rule; the set is fixed at compile time
// the same way lib/authorization's Decision and DenyReason enums are
// — no caller-supplied error strings, no dynamic registration.
package brokererr

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is one of the broker's public error kinds. The zero value is
// not a valid Kind — every returned error sets one explicitly.
type Kind int

const (
	// KindUnknown is the zero value and never returned deliberately.
	KindUnknown Kind = iota

	// Authentication kinds (L1).
	KindBadSignature
	KindUnknownSender
	KindBindingMismatch
	KindExpiredKey

	// Relationship lifecycle kinds.
	KindUnknownRelationship
	KindClosedRelationship
	KindDepthExceeded
	KindExpired
	KindOutsideWindow
	KindAlreadyClosed
	KindParticipantMismatch
	KindPredecessorActive

	// Policy kinds.
	KindTrustLevelInsufficient
	KindConsentMissing
	KindFilterRejected
	KindRiskTooLow

	// Protocol misuse kinds.
	KindWrongDirection
	KindNotAdmitted
	KindAlreadyFinalized
	KindDuplicate

	// Capacity/time kinds.
	KindTimeout
	KindDeliveryTimeout
	KindResponderOverloaded

	// Catch-all.
	KindInternalError
)

// String returns the wire/log name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBadSignature:
		return "bad_signature"
	case KindUnknownSender:
		return "unknown_sender"
	case KindBindingMismatch:
		return "binding_mismatch"
	case KindExpiredKey:
		return "expired_key"
	case KindUnknownRelationship:
		return "unknown_relationship"
	case KindClosedRelationship:
		return "closed_relationship"
	case KindDepthExceeded:
		return "depth_exceeded"
	case KindExpired:
		return "expired"
	case KindOutsideWindow:
		return "outside_window"
	case KindAlreadyClosed:
		return "already_closed"
	case KindParticipantMismatch:
		return "participant_mismatch"
	case KindPredecessorActive:
		return "predecessor_active"
	case KindTrustLevelInsufficient:
		return "trust_level_insufficient"
	case KindConsentMissing:
		return "consent_missing"
	case KindFilterRejected:
		return "filter_rejected"
	case KindRiskTooLow:
		return "risk_too_low"
	case KindWrongDirection:
		return "wrong_direction"
	case KindNotAdmitted:
		return "not_admitted"
	case KindAlreadyFinalized:
		return "already_finalized"
	case KindDuplicate:
		return "duplicate"
	case KindTimeout:
		return "timeout"
	case KindDeliveryTimeout:
		return "delivery_timeout"
	case KindResponderOverloaded:
		return "responder_overloaded"
	case KindInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// IsBreach reports whether a rejection of this kind is recorded as a
// breach_attempt event (misuse signal) rather than an intent_rejected
// event (benign user error). The distinction matters for oversight
// routing.
func (k Kind) IsBreach() bool {
	switch k {
	case KindClosedRelationship, KindOutsideWindow, KindWrongDirection:
		return true
	default:
		return false
	}
}

// Error is the broker's structured error type. It always carries a
// Kind; KindInternalError additionally carries a correlation ID for
// operator lookup.
type Error struct {
	Kind        Kind
	Correlation string
	Signal      string // optional sub-reason, e.g. "responder_overloaded"
	wrapped     error
}

func (e *Error) Error() string {
	if e.Correlation != "" {
		return fmt.Sprintf("%s (correlation=%s): %v", e.Kind, e.Correlation, e.wrapped)
	}
	if e.Signal != "" {
		return fmt.Sprintf("%s (%s)", e.Kind, e.Signal)
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.wrapped)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a broker error of the given kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// WithSignal attaches a sub-reason signal (e.g. a risk-score trigger).
func (e *Error) WithSignal(signal string) *Error {
	e.Signal = signal
	return e
}

// Wrap creates a broker error of the given kind wrapping an underlying
// cause, preserving it for errors.Is/As.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, wrapped: cause}
}

// Internal creates a KindInternalError carrying a fresh correlation ID
// and the wrapped cause. Internal errors are never recorded as a
// relationship-local event and are always retryable.
func Internal(cause error) *Error {
	return &Error{
		Kind:        KindInternalError,
		Correlation: uuid.NewString(),
		wrapped:     cause,
	}
}

// Is supports errors.Is(err, brokererr.New(KindX)) style comparisons by
// Kind alone (ignoring correlation/signal/wrapped).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
