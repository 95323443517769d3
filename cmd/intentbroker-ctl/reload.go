// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
)

// newReloadPolicyCommand and newReloadKeysCommand are the external
// management commands for the policy and key registries: entries are
// read-only at admission time and change only through these, never
// through a live edit the broker picks up on its own.
func newReloadPolicyCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload-policy",
		Short: "Reload the policy registry from its configured file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result reloadResult
			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), reloadRequest{Action: "reload_policy"}, &result); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success(result)
		},
	}
}

func newReloadKeysCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload-keys",
		Short: "Reload participant verification keys from the configured key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result reloadResult
			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), reloadRequest{Action: "reload_keys"}, &result); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success(result)
		},
	}
}
