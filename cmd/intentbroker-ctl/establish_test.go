// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/intentbroker/lib/codec"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
)

func TestEstablishCommandSendsParsedFlags(t *testing.T) {
	var captured establishRequest
	fb := newFakeBroker(t, func(conn net.Conn) {
		defer conn.Close()
		var raw codec.RawMessage
		require.NoError(t, codec.NewDecoder(conn).Decode(&raw))
		require.NoError(t, codec.Unmarshal(raw, &captured))

		relID, err := relstore.ParseID("rel-test")
		require.NoError(t, err)
		rel := relstore.Relationship{
			ID:        relID,
			Initiator: captured.Initiator,
			Responder: captured.Responder,
			State:     relstore.StateActive,
		}
		data, err := codec.Marshal(rel)
		require.NoError(t, err)
		require.NoError(t, codec.NewEncoder(conn).Encode(response{OK: true, Data: data}))
	})

	cmd := newEstablishCommand(&rootOptions{SocketPath: fb.socketPath, Format: "text"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--initiator", "device-initiator",
		"--responder", "device-responder",
		"--trust-level", "2",
		"--max-depth", "5",
		"--inactivity-limit", "1h",
	})

	require.NoError(t, cmd.Execute())
	require.Equal(t, "establish", captured.Action)
	require.Equal(t, "device-initiator", captured.Initiator.String())
	require.Equal(t, "device-responder", captured.Responder.String())
	require.Equal(t, 2, captured.TrustLevel)
	require.Equal(t, int64(3600), captured.InactivityLimitSeconds)
	require.Contains(t, out.String(), "rel-test")
}

func TestEstablishCommandRejectsInvalidContextJSON(t *testing.T) {
	cmd := newEstablishCommand(&rootOptions{SocketPath: "/nonexistent", Format: "text"})
	cmd.SetArgs([]string{
		"--initiator", "device-initiator",
		"--responder", "device-responder",
		"--context", "not json",
	})

	err := cmd.Execute()
	require.ErrorContains(t, err, "invalid --context")
}

func TestAckCommandSendsRequest(t *testing.T) {
	var captured ackRequest
	fb := newFakeBroker(t, func(conn net.Conn) {
		defer conn.Close()
		var raw codec.RawMessage
		require.NoError(t, codec.NewDecoder(conn).Decode(&raw))
		require.NoError(t, codec.Unmarshal(raw, &captured))
		require.NoError(t, codec.NewEncoder(conn).Encode(response{OK: true}))
	})

	cmd := newAckCommand(&rootOptions{SocketPath: fb.socketPath, Format: "text"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--participant", "device-responder", "--sequence", "7"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, "ack", captured.Action)
	require.Equal(t, uint64(7), captured.Sequence)
}
