// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/intentbroker/lib/participant"
)

func newAckCommand(root *rootOptions) *cobra.Command {
	var (
		participantRaw string
		sequence       uint64
	)

	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge a delivered item, releasing it from the responder's pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := participant.NewID(participantRaw)
			if err != nil {
				return err
			}
			req := ackRequest{Action: "ack", Participant: id, Sequence: sequence}

			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), req, nil); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success("acknowledged")
		},
	}

	cmd.Flags().StringVar(&participantRaw, "participant", "", "subscribed participant ID (required)")
	cmd.Flags().Uint64Var(&sequence, "sequence", 0, "delivered item's sequence (required)")
	cmd.MarkFlagRequired("participant")
	cmd.MarkFlagRequired("sequence")

	return cmd
}
