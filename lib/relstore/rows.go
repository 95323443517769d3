// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package relstore

import (
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/intentbroker/lib/codec"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/participant"
)

const relationshipColumns = "id, initiator, responder, trust_level, state, close_reason, " +
	"depth, max_depth, timebox_mode, inactivity_limit_s, appt_start_unix, appt_end_unix, " +
	"created_at_unix, last_activity_unix, expires_at_unix, closed_at_unix, continuation_of, " +
	"context_snapshot, chain_head"

func unixTime(unixSeconds int64) time.Time {
	return time.Unix(unixSeconds, 0).UTC()
}

func insertRelationship(conn *sqlite.Conn, rel Relationship) error {
	snapshot, err := codec.Marshal(rel.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("relstore: encoding context snapshot: %w", err)
	}

	return sqlitex.Execute(conn, "INSERT INTO relationships ("+relationshipColumns+") "+
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: relationshipArgs(rel, snapshot),
	})
}

func updateRelationship(conn *sqlite.Conn, rel Relationship) error {
	return sqlitex.Execute(conn, `UPDATE relationships SET
		trust_level = ?, state = ?, close_reason = ?, depth = ?, max_depth = ?,
		timebox_mode = ?, inactivity_limit_s = ?, appt_start_unix = ?, appt_end_unix = ?,
		last_activity_unix = ?, expires_at_unix = ?, closed_at_unix = ?, chain_head = ?
		WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{
			int64(rel.TrustLevel), int64(rel.State), rel.CloseReason, int64(rel.Depth), int64(rel.MaxDepth),
			int64(rel.TimeboxMode), rel.InactivityLimitSeconds, rel.AppointmentStartUnix, rel.AppointmentEndUnix,
			rel.LastActivityAtUnix, rel.ExpiresAtUnix, rel.ClosedAtUnix, rel.ChainHead.String(),
			rel.ID.String(),
		},
	})
}

func relationshipArgs(rel Relationship, snapshot []byte) []any {
	return []any{
		rel.ID.String(), rel.Initiator.String(), rel.Responder.String(), int64(rel.TrustLevel),
		int64(rel.State), rel.CloseReason, int64(rel.Depth), int64(rel.MaxDepth),
		int64(rel.TimeboxMode), rel.InactivityLimitSeconds, rel.AppointmentStartUnix, rel.AppointmentEndUnix,
		rel.CreatedAtUnix, rel.LastActivityAtUnix, rel.ExpiresAtUnix, rel.ClosedAtUnix,
		rel.ContinuationOf.String(), snapshot, rel.ChainHead.String(),
	}
}

func scanRelationship(stmt *sqlite.Stmt) (Relationship, error) {
	id, err := ParseID(stmt.ColumnText(0))
	if err != nil {
		return Relationship{}, err
	}
	initiator, err := participant.NewID(stmt.ColumnText(1))
	if err != nil {
		return Relationship{}, err
	}
	responder, err := participant.NewID(stmt.ColumnText(2))
	if err != nil {
		return Relationship{}, err
	}

	var continuationOf ID
	if raw := stmt.ColumnText(16); raw != "" {
		continuationOf, err = ParseID(raw)
		if err != nil {
			return Relationship{}, err
		}
	}

	var snapshot map[string]any
	if length := stmt.ColumnLen(17); length > 0 {
		raw := make([]byte, length)
		stmt.ColumnBytes(17, raw)
		if err := codec.Unmarshal(raw, &snapshot); err != nil {
			return Relationship{}, fmt.Errorf("relstore: decoding context snapshot: %w", err)
		}
	}

	chainHead, err := eventchain.ParseHash(stmt.ColumnText(18))
	if err != nil {
		return Relationship{}, err
	}

	return Relationship{
		ID:                     id,
		Initiator:              initiator,
		Responder:              responder,
		TrustLevel:             int(stmt.ColumnInt64(3)),
		State:                  State(stmt.ColumnInt64(4)),
		CloseReason:            stmt.ColumnText(5),
		Depth:                  int(stmt.ColumnInt64(6)),
		MaxDepth:               int(stmt.ColumnInt64(7)),
		TimeboxMode:            TimeboxMode(stmt.ColumnInt64(8)),
		InactivityLimitSeconds: stmt.ColumnInt64(9),
		AppointmentStartUnix:   stmt.ColumnInt64(10),
		AppointmentEndUnix:     stmt.ColumnInt64(11),
		CreatedAtUnix:          stmt.ColumnInt64(12),
		LastActivityAtUnix:     stmt.ColumnInt64(13),
		ExpiresAtUnix:          stmt.ColumnInt64(14),
		ClosedAtUnix:           stmt.ColumnInt64(15),
		ContinuationOf:         continuationOf,
		ContextSnapshot:        snapshot,
		ChainHead:              chainHead,
	}, nil
}

func insertEvent(conn *sqlite.Conn, id ID, event eventchain.Event) error {
	return sqlitex.Execute(conn, "INSERT INTO events "+
		"(relationship_id, sequence, type, timestamp_unix, payload, previous_hash, hash) "+
		"VALUES (?, ?, ?, ?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{
			id.String(), int64(event.Sequence), event.Type, event.Timestamp.Unix(),
			[]byte(event.Payload), event.PreviousHash.String(), event.Hash.String(),
		},
	})
}

func scanEvent(stmt *sqlite.Stmt) (eventchain.Event, error) {
	previousHash, err := eventchain.ParseHash(stmt.ColumnText(4))
	if err != nil {
		return eventchain.Event{}, err
	}
	hash, err := eventchain.ParseHash(stmt.ColumnText(5))
	if err != nil {
		return eventchain.Event{}, err
	}
	payload := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, payload)

	return eventchain.Event{
		Sequence:     uint64(stmt.ColumnInt64(0)),
		Type:         stmt.ColumnText(1),
		Timestamp:    unixTime(stmt.ColumnInt64(2)),
		Payload:      codec.RawMessage(payload),
		PreviousHash: previousHash,
		Hash:         hash,
	}, nil
}
