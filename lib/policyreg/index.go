// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package policyreg

import (
	"sort"
	"sync"
)

// Index is the registry's in-memory lookup structure: entries keyed by
// intent type, then by trust floor. Reads take a shared lock; the
// only writer is Reload, invoked by the external management command —
// policy entries are read-only at runtime and reloaded only through
// that command.
type Index struct {
	mu      sync.RWMutex
	entries map[string]map[TrustLevel]Entry
}

// NewIndex returns an empty registry. Call Reload to populate it
// before serving admission traffic.
func NewIndex() *Index {
	return &Index{entries: make(map[string]map[TrustLevel]Entry)}
}

// Reload atomically replaces the entire entry set. Existing lookups
// in flight continue to see the old set until they complete; no
// lookup ever observes a partially-replaced registry.
func (idx *Index) Reload(entries []Entry) {
	next := make(map[string]map[TrustLevel]Entry, len(entries))
	for _, entry := range entries {
		byTrust, ok := next[entry.IntentType]
		if !ok {
			byTrust = make(map[TrustLevel]Entry)
			next[entry.IntentType] = byTrust
		}
		byTrust[entry.TrustFloor] = entry
	}

	idx.mu.Lock()
	idx.entries = next
	idx.mu.Unlock()
}

// Lookup returns the policy entry governing intentType at trustLevel.
// On miss, it returns a conservative default that denies admission if
// the intent type is not registered at all, otherwise applies the
// policy for the nearest lower trust level.
//
// registered reports whether the intent type has any entry at all —
// callers use this to distinguish "unknown intent type" (always
// conservative-default) from "known type, no entry at this exact
// trust level" (nearest-lower-level fallback, which is the normal,
// expected path for any trust level between two registered floors).
func (idx *Index) Lookup(intentType string, trustLevel TrustLevel) (entry Entry, registered bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byTrust, ok := idx.entries[intentType]
	if !ok || len(byTrust) == 0 {
		return conservativeDefault, false
	}

	if exact, ok := byTrust[trustLevel]; ok {
		return exact, true
	}

	var (
		best   Entry
		found  bool
		bestAt TrustLevel
	)
	for floor, candidate := range byTrust {
		if floor <= trustLevel && (!found || floor > bestAt) {
			best, bestAt, found = candidate, floor, true
		}
	}
	if !found {
		// Every registered floor for this intent type is above the
		// caller's trust level: the type exists, but nothing permits
		// this trust tier. Conservative default still applies.
		return conservativeDefault, true
	}
	return best, true
}

// IntentTypes returns the sorted set of intent types with at least
// one registered entry, for operator introspection (cmd/intentbroker-ctl).
func (idx *Index) IntentTypes() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	types := make([]string, 0, len(idx.entries))
	for intentType := range idx.entries {
		types = append(types, intentType)
	}
	sort.Strings(types)
	return types
}
