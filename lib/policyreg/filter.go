// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package policyreg

import "strings"

// Intent is the minimal view of an inbound intent the registry needs
// to evaluate content rules and risk, independent of lib/admission's
// richer wire type. lib/admission constructs one of these from the
// intent it is processing.
type Intent struct {
	Context          string
	ContextSnapshot  map[string]any
	Constraints      map[string]float64
	CanonicalPayload []byte
}

// EvaluateContent runs the content filter
// against an intent under this entry's ContentRule. Returns an empty
// string on success, or the violated dimension's name
// ("min_context_length", "forbidden_token", "required_field",
// "capability_limit", "blocked_pattern") for logging.
func (e Entry) EvaluateContent(intent Intent) (violation string, ok bool) {
	rule := e.Content

	if rule.MinContextLength > 0 && len(intent.Context) < rule.MinContextLength {
		return "min_context_length", false
	}

	lowerContext := strings.ToLower(intent.Context)
	for _, token := range rule.ForbiddenTokens {
		if token == "" {
			continue
		}
		if strings.Contains(lowerContext, strings.ToLower(token)) {
			return "forbidden_token", false
		}
	}

	for _, field := range rule.RequiredFields {
		value, present := intent.ContextSnapshot[field]
		if !present {
			return "required_field", false
		}
		if s, isString := value.(string); isString && s == "" {
			return "required_field", false
		}
	}

	for key, limit := range rule.CapabilityLimits {
		declared, present := intent.Constraints[key]
		if present && declared > limit {
			return "capability_limit", false
		}
	}

	payloadText := string(intent.CanonicalPayload)
	for _, pattern := range rule.BlockedPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(payloadText, pattern) {
			return "blocked_pattern", false
		}
	}

	return "", true
}

// RiskSignals carries the relationship-local facts the risk score
// depends on, computed by lib/admission from the event log so the
// score stays reproducible from replay.
type RiskSignals struct {
	ContextLength          int
	RecentRejectionCount   int
	ConstraintOverageCount int
	IntentsAdmittedSoFar   int
}

// Score computes the admission step 8 risk score: a base score of 1.0
// (minimum risk) with configured penalties subtracted for each
// triggered signal, clamped to [0, 1]. Higher is safer.
func (e Entry) Score(signals RiskSignals) float64 {
	weights := e.Risk
	score := 1.0

	if weights.ShortContextThreshold > 0 && signals.ContextLength < weights.ShortContextThreshold {
		score -= weights.ShortContextPenalty
	}
	score -= float64(signals.RecentRejectionCount) * weights.RecentRejectionPenalty
	score -= float64(signals.ConstraintOverageCount) * weights.ConstraintOveragePenalty
	if weights.ProbationIntents > 0 && signals.IntentsAdmittedSoFar < weights.ProbationIntents {
		score -= weights.ProbationPenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Admits reports whether a computed score clears this entry's risk
// threshold.
func (e Entry) Admits(score float64) bool {
	return score >= e.Risk.Threshold
}
