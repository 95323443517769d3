// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package policyreg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileEntry mirrors Entry but spells Appointment as an operator-
// readable string ("none", "grace_period", "strict") rather than the
// wire-internal int, since policy files are hand-edited.
type fileEntry struct {
	IntentType      string      `yaml:"intent_type"`
	TrustFloor      TrustLevel  `yaml:"trust_floor"`
	Appointment     string      `yaml:"appointment"`
	RequiresConsent bool        `yaml:"requires_consent"`
	Content         ContentRule `yaml:"content"`
	Risk            RiskWeights `yaml:"risk"`
	OversightCopy   bool        `yaml:"oversight_copy"`
	LegalHold       bool        `yaml:"legal_hold"`
	Version         string      `yaml:"version"`
}

func parseAppointmentMode(raw string) (AppointmentMode, error) {
	switch raw {
	case "", "none":
		return AppointmentNone, nil
	case "grace_period":
		return AppointmentGracePeriod, nil
	case "strict":
		return AppointmentStrict, nil
	default:
		return 0, fmt.Errorf("policyreg: unknown appointment mode %q", raw)
	}
}

// LoadFile reads a YAML policy file — a top-level list of entries —
// and returns them ready to hand to (*Index).Reload. It does not touch
// an Index itself: the caller (the external management command, per
// the registry's read-only-except-through-reload contract) decides
// when to apply the result, so a malformed file never clobbers a
// registry already serving traffic.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policyreg: reading %s: %w", path, err)
	}

	var raw []fileEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("policyreg: parsing %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		mode, err := parseAppointmentMode(r.Appointment)
		if err != nil {
			return nil, fmt.Errorf("policyreg: entry %q: %w", r.IntentType, err)
		}
		entries = append(entries, Entry{
			IntentType:      r.IntentType,
			TrustFloor:      r.TrustFloor,
			Appointment:     mode,
			RequiresConsent: r.RequiresConsent,
			Content:         r.Content,
			Risk:            r.Risk,
			OversightCopy:   r.OversightCopy,
			LegalHold:       r.LegalHold,
			Version:         r.Version,
		})
	}
	return entries, nil
}
