// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/intentbroker/lib/eventchain"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

func newEventsCommand(root *rootOptions) *cobra.Command {
	var fromSequence uint64

	cmd := &cobra.Command{
		Use:   "events <relationship-id>",
		Short: "List a relationship's event chain from a given sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			relID, err := relstore.ParseID(args[0])
			if err != nil {
				return err
			}
			req := getEventsRequest{Action: "get_events", RelationshipID: relID, FromSequence: fromSequence}

			var events []eventchain.Event
			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), req, &events); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success(events)
		},
	}

	cmd.Flags().Uint64Var(&fromSequence, "from", 0, "first sequence to include")
	return cmd
}
