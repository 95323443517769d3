// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package participant_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/intentbroker/lib/participant"
)

func TestNewIDRejectsEmpty(t *testing.T) {
	_, err := participant.NewID("")
	require.Error(t, err)
}

func TestIDTextRoundTrip(t *testing.T) {
	id, err := participant.NewID("device-p1")
	require.NoError(t, err)

	text, err := id.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "device-p1", string(text))

	var decoded participant.ID
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, id, decoded)
}

func TestHumanIDZeroValueIsUnbound(t *testing.T) {
	var h participant.HumanID
	require.True(t, h.IsZero())
}
