// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/intentbroker/lib/codec"
	"github.com/bureau-foundation/intentbroker/lib/participant"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var (
		participantRaw string
		asResponder    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open a subscription and print delivered items as they arrive, until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := participant.NewID(participantRaw)
			if err != nil {
				return err
			}

			action := "subscribe_initiator"
			if asResponder {
				action = "subscribe_responder"
			}

			c := newClient(root.SocketPath)
			conn, err := c.openStream(cmd.Context(), subscribeRequest{Action: action, Participant: id})
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			formatter := newOutputFormatter(root, cmd)
			decoder := codec.NewDecoder(conn)
			for {
				var frame streamFrame
				if err := decoder.Decode(&frame); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("subscription ended: %w", err)
				}
				switch frame.Type {
				case "error":
					return fmt.Errorf("broker: %s", frame.Message)
				case "item":
					if frame.Item != nil {
						if err := formatter.success(frame.Item); err != nil {
							return err
						}
					}
				case "subscribed", "heartbeat":
					// no output; these exist to confirm liveness
				}
			}
		},
	}

	cmd.Flags().StringVar(&participantRaw, "participant", "", "subscribing participant ID (required)")
	cmd.Flags().BoolVar(&asResponder, "responder", false, "subscribe in the responder role instead of initiator")
	cmd.MarkFlagRequired("participant")

	return cmd
}
