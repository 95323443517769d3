// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

func newRelationshipCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-relationship <relationship-id>",
		Short: "Print a relationship's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			relID, err := relstore.ParseID(args[0])
			if err != nil {
				return err
			}
			req := getRelationshipRequest{Action: "get_relationship", RelationshipID: relID}

			var rel relstore.Relationship
			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), req, &rel); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success(rel)
		},
	}
	return cmd
}
