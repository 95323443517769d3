// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// rootOptions holds the flags every subcommand shares, grounded on
// roach88-nysm/brutalist/internal/cli's RootOptions.
type rootOptions struct {
	SocketPath string
	Format     string
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "intentbroker-ctl",
		Short: "Operator CLI for the intent-coordination broker",
		Long:  "intentbroker-ctl dials the broker's Unix socket to establish relationships, send signed intents and responses, and inspect or reload broker state.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid --format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.SocketPath, "socket", "/run/intentbroker/broker.sock", "broker Unix socket path")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newEstablishCommand(opts))
	cmd.AddCommand(newContinueFromCommand(opts))
	cmd.AddCommand(newSendIntentCommand(opts))
	cmd.AddCommand(newRespondCommand(opts))
	cmd.AddCommand(newAckCommand(opts))
	cmd.AddCommand(newCloseCommand(opts))
	cmd.AddCommand(newRelationshipCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	cmd.AddCommand(newReloadPolicyCommand(opts))
	cmd.AddCommand(newReloadKeysCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}
