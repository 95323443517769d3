// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package relstore implements the broker's L2 Relationship Store:
// the exclusive owner of every relationship record and its event
// chain. Durable writes go through SQLite via
// lib/sqlitepool, grounded on
// bureau-foundation-bureau/cmd/bureau-telemetry-service's Store
// (pool.Take/Put around a single IMMEDIATE transaction per mutation).
// An in-memory secondary index mirrors the hot read path — current
// state, depth, chain head — the way
// bureau-foundation-bureau/lib/ticket's Index mirrors ticket rows,
// so lookups never round-trip through SQLite on the per-intent path.
package relstore

import (
	"fmt"

	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/participant"
)

// ID is an opaque relationship identifier.
type ID struct {
	id string
}

// NewRandomID generates a fresh relationship identifier.
func NewRandomID(generate func() string) ID {
	return ID{id: generate()}
}

// ParseID wraps a raw string as a relationship ID. Returns an error if
// empty.
func ParseID(raw string) (ID, error) {
	if raw == "" {
		return ID{}, fmt.Errorf("relstore: relationship id is empty")
	}
	return ID{id: raw}, nil
}

func (i ID) String() string { return i.id }
func (i ID) IsZero() bool   { return i.id == "" }

func (i ID) MarshalText() ([]byte, error) { return []byte(i.id), nil }

func (i *ID) UnmarshalText(data []byte) error {
	parsed, err := ParseID(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// State is the relationship lifecycle state.
type State int

const (
	StateActive State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "active"
}

// TimeboxMode selects which of Relationship's two mutually exclusive
// timebox fields is active.
type TimeboxMode int

const (
	TimeboxActivityBased TimeboxMode = iota
	TimeboxAppointmentBased
)

func (m TimeboxMode) String() string {
	if m == TimeboxAppointmentBased {
		return "appointment-based"
	}
	return "activity-based"
}

// Relationship is the central long-lived object the broker manages.
type Relationship struct {
	ID ID

	Initiator participant.ID
	Responder participant.ID

	TrustLevel int

	State       State
	CloseReason string

	Depth    int
	MaxDepth int

	TimeboxMode TimeboxMode
	// InactivityLimitSeconds is meaningful only when TimeboxMode is
	// TimeboxActivityBased.
	InactivityLimitSeconds int64
	// AppointmentStartUnix/AppointmentEndUnix are meaningful only when
	// TimeboxMode is TimeboxAppointmentBased. Stored as Unix seconds so
	// the strict-window check never loses precision through a lossy
	// intermediate representation.
	AppointmentStartUnix int64
	AppointmentEndUnix   int64

	CreatedAtUnix      int64
	LastActivityAtUnix int64
	// ExpiresAtUnix is meaningful only when TimeboxMode is
	// TimeboxActivityBased; recomputed on every admitted intent.
	ExpiresAtUnix int64
	// ClosedAtUnix is zero until State becomes StateClosed.
	ClosedAtUnix int64

	// ContinuationOf is the zero ID unless this relationship succeeds
	// a previously closed one.
	ContinuationOf ID

	// ContextSnapshot is supplied at creation and immutable
	// thereafter.
	ContextSnapshot map[string]any

	// ChainHead is the continuity hash of the most recent event.
	ChainHead eventchain.Hash
}

// Validate checks the invariants that must hold for a relationship
// about to be created: initiator != responder, depth <= max depth,
// closed implies closed-at set, appointment-based implies start <
// end.
func (r Relationship) Validate() error {
	if r.Initiator.IsZero() || r.Responder.IsZero() {
		return fmt.Errorf("relstore: initiator and responder are required")
	}
	if r.Initiator == r.Responder {
		return fmt.Errorf("relstore: initiator and responder must differ")
	}
	if r.Depth > r.MaxDepth {
		return fmt.Errorf("relstore: depth %d exceeds max depth %d", r.Depth, r.MaxDepth)
	}
	if r.State == StateClosed && r.ClosedAtUnix == 0 {
		return fmt.Errorf("relstore: closed relationship must have closed-at set")
	}
	if r.TimeboxMode == TimeboxAppointmentBased && r.AppointmentStartUnix >= r.AppointmentEndUnix {
		return fmt.Errorf("relstore: appointment start must precede end")
	}
	return nil
}
