// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/intentbroker/lib/participant"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

type establishFlags struct {
	initiator           string
	responder           string
	trustLevel          int
	maxDepth            int
	appointment         bool
	inactivityLimit     time.Duration
	appointmentStart    string
	appointmentEnd      string
	contextSnapshotJSON string
}

func (f *establishFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.initiator, "initiator", "", "initiating participant ID (required)")
	cmd.Flags().StringVar(&f.responder, "responder", "", "responding participant ID (required)")
	cmd.Flags().IntVar(&f.trustLevel, "trust-level", 0, "trust level granted to this relationship")
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "maximum delegation depth (sent as given; the broker fills in no default)")
	cmd.Flags().BoolVar(&f.appointment, "appointment", false, "create an appointment-based relationship instead of activity-based")
	cmd.Flags().DurationVar(&f.inactivityLimit, "inactivity-limit", 0, "activity-based timebox (sent as given; the broker fills in no default)")
	cmd.Flags().StringVar(&f.appointmentStart, "appointment-start", "", "appointment window start, RFC 3339")
	cmd.Flags().StringVar(&f.appointmentEnd, "appointment-end", "", "appointment window end, RFC 3339")
	cmd.Flags().StringVar(&f.contextSnapshotJSON, "context", "{}", "context snapshot as a JSON object")
	cmd.MarkFlagRequired("initiator")
	cmd.MarkFlagRequired("responder")
}

func (f *establishFlags) toRequest() (establishRequest, error) {
	initiator, err := participant.NewID(f.initiator)
	if err != nil {
		return establishRequest{}, err
	}
	responder, err := participant.NewID(f.responder)
	if err != nil {
		return establishRequest{}, err
	}

	var snapshot map[string]any
	if err := json.Unmarshal([]byte(f.contextSnapshotJSON), &snapshot); err != nil {
		return establishRequest{}, fmt.Errorf("invalid --context JSON: %w", err)
	}

	req := establishRequest{
		Action:           "establish",
		Initiator:        initiator,
		Responder:        responder,
		TrustLevel:       f.trustLevel,
		MaxDepth:         f.maxDepth,
		AppointmentBased: f.appointment,
		ContextSnapshot:  snapshot,
	}

	if f.appointment {
		start, err := parseAppointmentTime(f.appointmentStart)
		if err != nil {
			return establishRequest{}, fmt.Errorf("--appointment-start: %w", err)
		}
		end, err := parseAppointmentTime(f.appointmentEnd)
		if err != nil {
			return establishRequest{}, fmt.Errorf("--appointment-end: %w", err)
		}
		req.AppointmentStartUnix = start
		req.AppointmentEndUnix = end
	} else {
		req.InactivityLimitSeconds = int64(f.inactivityLimit / time.Second)
	}

	return req, nil
}

func parseAppointmentTime(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("required for an appointment-based relationship")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

func newEstablishCommand(root *rootOptions) *cobra.Command {
	flags := &establishFlags{}

	cmd := &cobra.Command{
		Use:   "establish",
		Short: "Create a new relationship between an initiator and a responder",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.toRequest()
			if err != nil {
				return err
			}

			var rel relstore.Relationship
			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), req, &rel); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success(rel)
		},
	}
	flags.register(cmd)
	return cmd
}

func newContinueFromCommand(root *rootOptions) *cobra.Command {
	flags := &establishFlags{}

	cmd := &cobra.Command{
		Use:   "continue-from <predecessor-relationship-id>",
		Short: "Open a successor relationship inheriting a closed predecessor's open items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predecessorID, err := relstore.ParseID(args[0])
			if err != nil {
				return err
			}
			base, err := flags.toRequest()
			if err != nil {
				return err
			}

			req := continueFromRequest{establishRequest: base, PredecessorID: predecessorID}
			req.Action = "continue_from"

			var rel relstore.Relationship
			c := newClient(root.SocketPath)
			if err := c.call(cmd.Context(), req, &rel); err != nil {
				return err
			}
			return newOutputFormatter(root, cmd).success(rel)
		},
	}
	flags.register(cmd)
	return cmd
}

func newOutputFormatter(root *rootOptions, cmd *cobra.Command) *outputFormatter {
	return &outputFormatter{format: root.Format, writer: cmd.OutOrStdout()}
}
