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

func newSendIntentCommand(root *rootOptions) *cobra.Command {
	var (
		sender         string
		relationshipID string
		intentType     string
		contextText    string
		fieldsJSON     string
		constraintsJSON string
		keyPath        string
	)

	cmd := &cobra.Command{
		Use:   "send-intent",
		Short: "Submit a signed intent on behalf of the initiator",
		RunE: func(cmd *cobra.Command, args []string) error {
			senderID, err := participant.NewID(sender)
			if err != nil {
				return err
			}
			relID, err := relstore.ParseID(relationshipID)
			if err != nil {
				return err
			}

			var fields map[string]any
			if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
				return fmt.Errorf("invalid --fields JSON: %w", err)
			}
			var constraints map[string]float64
			if err := json.Unmarshal([]byte(constraintsJSON), &constraints); err != nil {
				return fmt.Errorf("invalid --constraints JSON: %w", err)
			}

			key, err := loadSigningKey(keyPath)
			if err != nil {
				return err
			}

			canonical, signature, err := signPayload(key, intentCanonical{
				Sender:         senderID,
				RelationshipID: relID,
				IntentType:     intentType,
				Context:        contextText,
				ContextFields:  fields,
				Constraints:    constraints,
			})
			if err != nil {
				return err
			}

			req := sendIntentRequest{
				Action:           "send_intent",
				Sender:           senderID,
				RelationshipID:   relID,
				IntentType:       intentType,
				Context:          contextText,
				ContextFields:    fields,
				Constraints:      constraints,
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

	cmd.Flags().StringVar(&sender, "sender", "", "initiator participant ID (required)")
	cmd.Flags().StringVar(&relationshipID, "relationship", "", "relationship ID (required)")
	cmd.Flags().StringVar(&intentType, "intent-type", "", "intent type, matched against the policy registry (required)")
	cmd.Flags().StringVar(&contextText, "context", "", "free-text context, checked by the content filter")
	cmd.Flags().StringVar(&fieldsJSON, "fields", "{}", "structured context fields as a JSON object")
	cmd.Flags().StringVar(&constraintsJSON, "constraints", "{}", "numeric constraints as a JSON object, checked against capability-limit policy rules")
	cmd.Flags().StringVar(&keyPath, "identity-key", "", "path to the sender's base64-encoded Ed25519 private key (required)")
	cmd.MarkFlagRequired("sender")
	cmd.MarkFlagRequired("relationship")
	cmd.MarkFlagRequired("intent-type")
	cmd.MarkFlagRequired("identity-key")

	return cmd
}
