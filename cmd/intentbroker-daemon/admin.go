// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/intentbroker/lib/identity"
	"github.com/bureau-foundation/intentbroker/lib/policyreg"
)

// adminDeps bundles the handles the reload actions need that the
// broker itself doesn't expose: the registries' file paths and the
// live resolver/index to swap into. Policy entries are, per the
// policy registry's own doc comment, "reloaded only through the
// external management command," cmd/intentbroker-ctl.
type adminDeps struct {
	policies    *policyreg.Index
	policyPath  string
	keyResolver *identity.StaticKeyResolver
	keysPath    string
	logger      *slog.Logger
}

// registerAdminActions wires the two operator-triggered reload
// actions. Both re-read their file from disk and atomically replace
// the live registry; neither touches a relationship or the event
// chain, so there is no interaction with the admission pipeline's
// in-flight state.
func registerAdminActions(server *socketServer, deps adminDeps) {
	server.handleAction("reload_policy", func(ctx context.Context, raw []byte) (any, error) {
		entries, err := policyreg.LoadFile(deps.policyPath)
		if err != nil {
			return nil, fmt.Errorf("reloading policy file: %w", err)
		}
		deps.policies.Reload(entries)
		deps.logger.Info("policy registry reloaded", "entries", len(entries), "path", deps.policyPath)
		return reloadResult{Entries: len(entries)}, nil
	})

	server.handleAction("reload_keys", func(ctx context.Context, raw []byte) (any, error) {
		next, err := identity.LoadKeysFile(deps.keysPath)
		if err != nil {
			return nil, fmt.Errorf("reloading keys file: %w", err)
		}
		deps.keyResolver.Reload(next)
		deps.logger.Info("participant key registry reloaded", "path", deps.keysPath)
		return reloadResult{Entries: len(next.Keys)}, nil
	})
}

type reloadResult struct {
	Entries int `cbor:"entries"`
}
