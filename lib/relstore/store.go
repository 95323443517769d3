// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package relstore

import (
	"context"
	"fmt"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/intentbroker/lib/brokererr"
	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS relationships (
	id                 TEXT PRIMARY KEY,
	initiator          TEXT NOT NULL,
	responder          TEXT NOT NULL,
	trust_level        INTEGER NOT NULL,
	state              INTEGER NOT NULL,
	close_reason       TEXT NOT NULL DEFAULT '',
	depth              INTEGER NOT NULL,
	max_depth          INTEGER NOT NULL,
	timebox_mode       INTEGER NOT NULL,
	inactivity_limit_s INTEGER NOT NULL DEFAULT 0,
	appt_start_unix    INTEGER NOT NULL DEFAULT 0,
	appt_end_unix      INTEGER NOT NULL DEFAULT 0,
	created_at_unix    INTEGER NOT NULL,
	last_activity_unix INTEGER NOT NULL,
	expires_at_unix    INTEGER NOT NULL DEFAULT 0,
	closed_at_unix     INTEGER NOT NULL DEFAULT 0,
	continuation_of    TEXT NOT NULL DEFAULT '',
	context_snapshot   BLOB NOT NULL,
	chain_head         TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS relationships_active_triple
	ON relationships(initiator, responder, continuation_of)
	WHERE state = 0;

CREATE TABLE IF NOT EXISTS events (
	relationship_id TEXT NOT NULL REFERENCES relationships(id),
	sequence        INTEGER NOT NULL,
	type            TEXT NOT NULL,
	timestamp_unix  INTEGER NOT NULL,
	payload         BLOB NOT NULL,
	previous_hash   TEXT NOT NULL,
	hash            TEXT NOT NULL,
	PRIMARY KEY (relationship_id, sequence)
);
`

// Store is the durable relationship and event-chain store. Every
// mutating operation runs inside a single IMMEDIATE transaction so a
// crash mid-write leaves no partial relationship or event behind.
type Store struct {
	pool *sqlitepool.Pool

	// index mirrors the hot-path fields of every relationship so the
	// admission pipeline's per-intent reads never wait on a SQLite
	// round trip. Mutations update both
	// the database and the index inside the same critical section
	// guarded by relMu below — the index is never the system of
	// record, only a cache kept consistent with it.
	mu    sync.RWMutex
	index map[string]*Relationship

	// relMu serializes mutations to a single relationship, satisfying
	// "no two operations may mutate the same
	// relationship record concurrently" without requiring a
	// dedicated worker per relationship.
	relMu sync.Map // relationship id string -> *sync.Mutex
}

// Open opens (creating the schema if necessary) the relationship store
// backed by pool's SQLite database, and loads every existing relationship
// into the in-memory index.
func Open(ctx context.Context, pool *sqlitepool.Pool) (*Store, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: open: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("relstore: creating schema: %w", err)
	}

	store := &Store{pool: pool, index: make(map[string]*Relationship)}
	if err := store.loadIndex(conn); err != nil {
		return nil, fmt.Errorf("relstore: loading index: %w", err)
	}
	return store, nil
}

func (s *Store) loadIndex(conn *sqlite.Conn) error {
	return sqlitex.Execute(conn, "SELECT "+relationshipColumns+" FROM relationships", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rel, err := scanRelationship(stmt)
			if err != nil {
				return err
			}
			s.index[rel.ID.String()] = &rel
			return nil
		},
	})
}

func (s *Store) lockFor(id ID) *sync.Mutex {
	value, _ := s.relMu.LoadOrStore(id.String(), &sync.Mutex{})
	return value.(*sync.Mutex)
}

// Create inserts a new relationship and its genesis
// relationship_established event atomically. Returns brokererr with
// KindDuplicate if an active relationship already exists for the
// (initiator, responder, continuation-of) triple.
func (s *Store) Create(ctx context.Context, rel Relationship, key eventchain.Key, genesisPayload any) (returnErr error) {
	if err := rel.Validate(); err != nil {
		return brokererr.Wrap(brokererr.KindInternalError, err)
	}

	lock := s.lockFor(rel.ID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return brokererr.Internal(err)
	}
	defer s.pool.Put(conn)

	// endTx commits on success, rolls back if returnErr is non-nil at
	// function exit. Every return path below must assign to
	// returnErr (not a shadowed err) so the rollback decision is
	// correct for every failure, not just the ones after this point.
	endTx, txErr := sqlitex.ImmediateTransaction(conn)
	if txErr != nil {
		return brokererr.Internal(txErr)
	}
	defer endTx(&returnErr)

	genesis, err := eventchain.Append(key, eventchain.Genesis, 0, eventchain.TypeRelationshipEstablished, genesisPayload, unixTime(rel.CreatedAtUnix))
	if err != nil {
		returnErr = brokererr.Internal(err)
		return returnErr
	}
	rel.ChainHead = genesis.Hash

	if err := insertRelationship(conn, rel); err != nil {
		if isUniqueConstraint(err) {
			returnErr = brokererr.New(brokererr.KindDuplicate)
		} else {
			returnErr = brokererr.Internal(err)
		}
		return returnErr
	}
	if err := insertEvent(conn, rel.ID, genesis); err != nil {
		returnErr = brokererr.Internal(err)
		return returnErr
	}

	s.mu.Lock()
	copyRel := rel
	s.index[rel.ID.String()] = &copyRel
	s.mu.Unlock()

	return nil
}

// Get returns the current record for id, or brokererr with
// KindUnknownRelationship if it does not exist.
func (s *Store) Get(id ID) (Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel, ok := s.index[id.String()]
	if !ok {
		return Relationship{}, brokererr.New(brokererr.KindUnknownRelationship)
	}
	return *rel, nil
}

// ActiveRelationshipIDs returns the IDs of every relationship currently
// in the in-memory index with state active. Used by the lifecycle
// engine's periodic sweep; the snapshot is taken under a read lock so
// it reflects a consistent point in time but may be stale by the time
// the sweep examines each ID individually.
func (s *Store) ActiveRelationshipIDs() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]ID, 0, len(s.index))
	for _, rel := range s.index {
		if rel.State == StateActive {
			ids = append(ids, rel.ID)
		}
	}
	return ids
}

// AppendEvent appends one event to id's chain, atomic with respect to
// that relationship: re-reads the chain head, verifies
// expectedPreviousHash matches, writes the event, and updates the
// chain head. mutate, if non-nil, is applied to the in-memory and
// durable record in the same transaction (used by the admission
// pipeline to bump depth/expires-at alongside the event). bumpActivity
// controls whether this append also advances last-activity-at;
// rejection and breach-attempt events leave it alone, everything else
// (admitted intents, recorded responses, the closing event) advances
// it.
//
// Returns brokererr with KindAlreadyClosed if the relationship's chain
// already ends in relationship_closed — no event may follow it — and
// KindInternalError wrapping "chain_conflict" semantics if
// expectedPreviousHash does not match the current chain head, in
// which case the caller must re-read and retry.
func (s *Store) AppendEvent(ctx context.Context, id ID, expectedPreviousHash eventchain.Hash, key eventchain.Key, eventType string, payload any, nowUnix int64, mutate func(*Relationship), bumpActivity bool) (_ eventchain.Event, returnErr error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.index[id.String()]
	s.mu.RUnlock()
	if !ok {
		return eventchain.Event{}, brokererr.New(brokererr.KindUnknownRelationship)
	}
	if current.ChainHead != expectedPreviousHash {
		return eventchain.Event{}, brokererr.Wrap(brokererr.KindInternalError, fmt.Errorf("relstore: chain_conflict on %s", id))
	}
	if current.State == StateClosed {
		return eventchain.Event{}, brokererr.New(brokererr.KindAlreadyClosed)
	}

	rel := *current
	nextSequence, err := s.nextSequence(ctx, id)
	if err != nil {
		return eventchain.Event{}, brokererr.Internal(err)
	}

	event, err := eventchain.Append(key, expectedPreviousHash, nextSequence, eventType, payload, unixTime(nowUnix))
	if err != nil {
		return eventchain.Event{}, brokererr.Internal(err)
	}

	if mutate != nil {
		mutate(&rel)
	}
	rel.ChainHead = event.Hash
	if bumpActivity {
		rel.LastActivityAtUnix = nowUnix
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return eventchain.Event{}, brokererr.Internal(err)
	}
	defer s.pool.Put(conn)

	endTx, txErr := sqlitex.ImmediateTransaction(conn)
	if txErr != nil {
		return eventchain.Event{}, brokererr.Internal(txErr)
	}
	defer endTx(&returnErr)

	if err := insertEvent(conn, id, event); err != nil {
		returnErr = brokererr.Internal(err)
		return eventchain.Event{}, returnErr
	}
	if err := updateRelationship(conn, rel); err != nil {
		returnErr = brokererr.Internal(err)
		return eventchain.Event{}, returnErr
	}

	s.mu.Lock()
	s.index[id.String()] = &rel
	s.mu.Unlock()

	return event, nil
}

// UpdateState transitions a relationship's state/close-reason/closed-at,
// used only by the Lifecycle Engine.
func (s *Store) UpdateState(ctx context.Context, id ID, state State, closeReason string, closedAtUnix int64) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.index[id.String()]
	s.mu.RUnlock()
	if !ok {
		return brokererr.New(brokererr.KindUnknownRelationship)
	}

	rel := *current
	rel.State = state
	rel.CloseReason = closeReason
	rel.ClosedAtUnix = closedAtUnix

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return brokererr.Internal(err)
	}
	defer s.pool.Put(conn)

	if err := updateRelationship(conn, rel); err != nil {
		return brokererr.Internal(err)
	}

	s.mu.Lock()
	s.index[id.String()] = &rel
	s.mu.Unlock()

	return nil
}

// ListEvents returns id's events in sequence order, optionally
// starting from fromSequence (inclusive).
func (s *Store) ListEvents(ctx context.Context, id ID, fromSequence uint64) ([]eventchain.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, brokererr.Internal(err)
	}
	defer s.pool.Put(conn)

	var events []eventchain.Event
	err = sqlitex.Execute(conn,
		"SELECT sequence, type, timestamp_unix, payload, previous_hash, hash FROM events "+
			"WHERE relationship_id = ? AND sequence >= ? ORDER BY sequence ASC",
		&sqlitex.ExecOptions{
			Args: []any{id.String(), int64(fromSequence)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event, err := scanEvent(stmt)
				if err != nil {
					return err
				}
				events = append(events, event)
				return nil
			},
		})
	if err != nil {
		return nil, brokererr.Internal(err)
	}
	return events, nil
}

func (s *Store) nextSequence(ctx context.Context, id ID) (uint64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var max int64 = -1
	err = sqlitex.Execute(conn, "SELECT MAX(sequence) FROM events WHERE relationship_id = ?", &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if !stmt.ColumnIsNull(0) {
				max = stmt.ColumnInt64(0)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return uint64(max + 1), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func isUniqueConstraint(err error) bool {
	return sqlite.ErrCode(err) == sqlite.ResultConstraintUnique
}
