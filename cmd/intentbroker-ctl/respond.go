// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

func newRespondCommand(root *rootOptions) *cobra.Command {
	var (
		sender         string
		relationshipID string
		intentSequence uint64
		outcome        string
		payloadJSON    string
		keyPath        string
	)

	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Submit a signed response to an admitted intent on behalf of the responder",
		RunE: func(cmd *cobra.Command, args []string) error {
			senderID, err := participant.NewID(sender)
			if err != nil {
				return err
			}
			relID, err := relstore.ParseID(relationshipID)
			if err != nil {
				return err
			}

			var payload map[string]any
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("invalid --payload JSON: %w", err)
			}

			key, err := loadSigningKey(keyPath)
			if err != nil {
				return err
			}

			canonical, signature, err := signPayload(key, responseCanonical{
				Sender:          senderID,
				RelationshipID:  relID,
				IntentSequence:  intentSequence,
				Outcome:         outcome,
				ResponsePayload: payload,
			})
			if err != nil {
				return err
			}

			req := respondRequest{
				Action:           "respond",
				Sender:           senderID,
				RelationshipID:   relID,
				IntentSequence:   intentSequence,
				Outcome:          outcome,
				ResponsePayload:  payload,
				CanonicalPayload: canonical,
				Signature:        signature,
			}

			var result resultWire
			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), req, &result); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success(result)
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "responder participant ID (required)")
	cmd.Flags().StringVar(&relationshipID, "relationship", "", "relationship ID (required)")
	cmd.Flags().Uint64Var(&intentSequence, "intent-sequence", 0, "sequence of the intent being responded to (required)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "response outcome (required)")
	cmd.Flags().StringVar(&payloadJSON, "payload", "{}", "response payload as a JSON object")
	cmd.Flags().StringVar(&keyPath, "identity-key", "", "path to the responder's base64-encoded Ed25519 private key (required)")
	cmd.MarkFlagRequired("sender")
	cmd.MarkFlagRequired("relationship")
	cmd.MarkFlagRequired("intent-sequence")
	cmd.MarkFlagRequired("outcome")
	cmd.MarkFlagRequired("identity-key")

	return cmd
}
