// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

func newCloseCommand(root *rootOptions) *cobra.Command {
	var (
		reason      string
		summaryJSON string
	)

	cmd := &cobra.Command{
		Use:   "close <relationship-id>",
		Short: "Close a relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			relID, err := relstore.ParseID(args[0])
			if err != nil {
				return err
			}

			var summary map[string]any
			if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
				return fmt.Errorf("invalid --summary JSON: %w", err)
			}

			req := closeRequest{Action: "close", RelationshipID: relID, Reason: reason, Summary: summary}

			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), req, nil); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success("closed")
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "user", "close reason (completed|user|error|breach)")
	cmd.Flags().StringVar(&summaryJSON, "summary", "{}", "closing summary as a JSON object")

	return cmd
}
